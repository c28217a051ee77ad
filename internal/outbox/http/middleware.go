package http

import (
	"log/slog"
	"strings"

	"github.com/allisson/go-pwdhash"
	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/httputil"
)

// TokenVerifier checks a presented admin token against the configured hash.
type TokenVerifier interface {
	Verify(token string) bool
}

// adminTokenVerifier verifies tokens against one Argon2id PHC hash.
type adminTokenVerifier struct {
	hasher *pwdhash.PasswordHasher
	hash   string
}

// NewAdminTokenVerifier creates a verifier for hash. An empty hash rejects every token.
func NewAdminTokenVerifier(hash string) (TokenVerifier, error) {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyModerate))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create password hasher")
	}
	return &adminTokenVerifier{hasher: hasher, hash: strings.TrimSpace(hash)}, nil
}

func (v *adminTokenVerifier) Verify(token string) bool {
	if v.hash == "" || token == "" {
		return false
	}
	ok, err := v.hasher.Verify([]byte(token), v.hash)
	if err != nil {
		return false
	}
	return ok
}

// HashAdminToken returns the Argon2id hash to configure as ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyModerate))
	if err != nil {
		return "", apperrors.Wrap(err, "failed to create password hasher")
	}
	hash, err := hasher.Hash([]byte(token))
	if err != nil {
		return "", apperrors.Wrap(err, "failed to hash admin token")
	}
	return hash, nil
}

// AdminAuthMiddleware requires an "Authorization: Bearer <token>" header whose token
// matches the admin token hash. Failures answer 401 and abort the chain.
func AdminAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug("admin authentication failed: missing authorization header")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		// Case-insensitive "Bearer " prefix
		const bearerPrefix = "bearer "
		if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
			logger.Debug("admin authentication failed: invalid authorization scheme")
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authHeader[len(bearerPrefix):])
		if !verifier.Verify(token) {
			logger.Debug("admin authentication failed: token mismatch",
				slog.String("client_ip", c.ClientIP()))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			c.Abort()
			return
		}

		c.Next()
	}
}
