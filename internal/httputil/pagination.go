package httputil

import (
	"github.com/gin-gonic/gin"
	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/relay/internal/validation"
)

// MaxLimit is the largest page size accepted by list endpoints.
const MaxLimit = 500

// DefaultLimit is used when the limit query parameter is absent.
const DefaultLimit = 50

// Page is the offset/limit window of a list endpoint.
type Page struct {
	Offset int `json:"offset" form:"offset"`
	Limit  int `json:"limit" form:"limit"`
}

// Validate checks the window bounds.
func (p Page) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Offset, validation.Min(0)),
		validation.Field(&p.Limit, validation.Required, validation.Min(1), validation.Max(MaxLimit)),
	)
}

// ParsePage reads ?offset= and ?limit= from the query string. Errors wrap
// ErrInvalidInput.
func ParsePage(c *gin.Context) (Page, error) {
	page := Page{Limit: DefaultLimit}
	if err := c.ShouldBindQuery(&page); err != nil {
		return Page{}, customValidation.WrapValidationError(err)
	}
	if err := page.Validate(); err != nil {
		return Page{}, customValidation.WrapValidationError(err)
	}
	return page, nil
}
