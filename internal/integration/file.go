package integration

import (
	"bytes"
	"io"
	"os"
	"sort"
	"time"

	validation "github.com/jellydator/validation"
	"gopkg.in/yaml.v3"

	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
	customValidation "github.com/allisson/relay/internal/validation"
)

// Sender types accepted in the integrations file.
const (
	SenderTypeWebhook = "webhook"
	SenderTypePubSub  = "pubsub"
	SenderTypeLog     = "log"
)

// PolicySpec overrides fields of an integration policy. Nil fields keep the built-in value.
type PolicySpec struct {
	SafeRequestsPerSecond *float64       `yaml:"safe_requests_per_second" json:"safe_requests_per_second"`
	MaxRetries            *int           `yaml:"max_retries" json:"max_retries"`
	BackoffBase           *float64       `yaml:"backoff_base" json:"backoff_base"`
	BackoffUnit           *time.Duration `yaml:"backoff_unit" json:"backoff_unit"`
	MaxBackoff            *time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Timeout               *time.Duration `yaml:"timeout" json:"timeout"`
	Enabled               *bool          `yaml:"enabled" json:"enabled"`
	ReconcileStrategy     *string        `yaml:"reconcile_strategy" json:"reconcile_strategy"`
}

// Validate checks the overridden fields.
func (p PolicySpec) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.SafeRequestsPerSecond, validation.Min(0.0)),
		validation.Field(&p.MaxRetries, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&p.BackoffBase, validation.NilOrNotEmpty, validation.Min(1.0)),
		validation.Field(&p.BackoffUnit, validation.NilOrNotEmpty, validation.Min(time.Millisecond)),
		validation.Field(&p.MaxBackoff, validation.NilOrNotEmpty, validation.Min(time.Second)),
		validation.Field(&p.Timeout, validation.NilOrNotEmpty, validation.Min(time.Millisecond)),
		validation.Field(&p.ReconcileStrategy, validation.In(
			string(domain.ReconcileStrategyStalenessSweep),
			string(domain.ReconcileStrategyLogCrossCheck),
		)),
	)
}

// apply returns base with the overrides of p.
func (p *PolicySpec) apply(base domain.IntegrationPolicy) domain.IntegrationPolicy {
	if p == nil {
		return base
	}
	if p.SafeRequestsPerSecond != nil {
		base.SafeRequestsPerSecond = *p.SafeRequestsPerSecond
	}
	if p.MaxRetries != nil {
		base.MaxRetries = *p.MaxRetries
	}
	if p.BackoffBase != nil {
		base.BackoffBase = *p.BackoffBase
	}
	if p.BackoffUnit != nil {
		base.BackoffUnit = *p.BackoffUnit
	}
	if p.MaxBackoff != nil {
		base.MaxBackoff = *p.MaxBackoff
	}
	if p.Timeout != nil {
		base.Timeout = *p.Timeout
	}
	if p.Enabled != nil {
		base.Enabled = *p.Enabled
	}
	if p.ReconcileStrategy != nil {
		base.Strategy = domain.ReconcileStrategy(*p.ReconcileStrategy)
	}
	return base
}

// SenderSpec selects and configures the sender of an integration.
type SenderSpec struct {
	Type     string            `yaml:"type" json:"type"`
	URL      string            `yaml:"url" json:"url"`
	Headers  map[string]string `yaml:"headers" json:"headers"`
	TopicURL string            `yaml:"topic_url" json:"topic_url"`
}

// Validate checks the sender configuration.
func (s SenderSpec) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.Required, validation.In(SenderTypeWebhook, SenderTypePubSub, SenderTypeLog)),
		validation.Field(&s.URL,
			validation.When(s.Type == SenderTypeWebhook, validation.Required),
			customValidation.HTTPURL,
		),
		validation.Field(&s.TopicURL, validation.When(s.Type == SenderTypePubSub, validation.Required)),
	)
}

// IntegrationSpec is one entry of the integrations file.
type IntegrationSpec struct {
	PolicySpec `yaml:",inline"`
	Sender     *SenderSpec `yaml:"sender" json:"sender"`
}

// File is the integrations file: policy overrides for the default policy and per
// integration, plus the sender of each integration.
//
//	default:
//	  max_retries: 3
//	integrations:
//	  acme_crm:
//	    safe_requests_per_second: 4
//	    max_backoff: 2h
//	    sender:
//	      type: webhook
//	      url: https://crm.example.com/hooks/relay
type File struct {
	Default      *PolicySpec                `yaml:"default" json:"default"`
	Integrations map[string]IntegrationSpec `yaml:"integrations" json:"integrations"`
}

// LoadFile reads and validates the integrations file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to read integrations file %s", path)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates an integrations file. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil && err != io.EOF {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid integrations file: "+err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every entry of the file.
func (f *File) Validate() error {
	if f.Default != nil {
		if err := f.Default.Validate(); err != nil {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "default: %s", err.Error())
		}
	}
	for _, id := range f.IntegrationIDs() {
		entry := f.Integrations[id]
		if err := validation.Validate(id, validation.Required, customValidation.Identifier); err != nil {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "integration %q: %s", id, err.Error())
		}
		if err := entry.PolicySpec.Validate(); err != nil {
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "integration %s: %s", id, err.Error())
		}
		if entry.Sender != nil {
			if err := entry.Sender.Validate(); err != nil {
				return apperrors.Wrapf(apperrors.ErrInvalidInput, "integration %s sender: %s", id, err.Error())
			}
		}
	}
	return nil
}

// IntegrationIDs returns the integrations listed in the file in sorted order.
func (f *File) IntegrationIDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.Integrations))
	for id := range f.Integrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Policies builds the policy registry: the built-in catalog and default policy with
// the overrides of the file applied. Integrations only listed in the file start from
// the default policy. A nil file yields the built-in registry.
func (f *File) Policies() *domain.PolicyRegistry {
	if f == nil {
		return domain.DefaultPolicyRegistry()
	}

	fallback := f.Default.apply(domain.DefaultPolicy())
	policies := domain.BuiltinPolicies()
	for _, id := range f.IntegrationIDs() {
		entry := f.Integrations[id]
		base, ok := policies[id]
		if !ok {
			base = fallback
		}
		policies[id] = entry.apply(base)
	}
	return domain.NewPolicyRegistry(fallback, policies)
}
