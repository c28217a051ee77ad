package domain

import "time"

// builtinPolicy is the compact form of a catalog entry.
type builtinPolicy struct {
	rps        float64
	maxRetries int
	base       float64
	strategy   ReconcileStrategy
}

// catalog lists the integrations the service ships policies for. Email providers keep
// a send log, so they are cross-checked against it.
var catalog = map[string]builtinPolicy{
	"resend":     {rps: 10, maxRetries: 5, base: 2, strategy: ReconcileStrategyLogCrossCheck},
	"sendgrid":   {rps: 10, maxRetries: 5, base: 2, strategy: ReconcileStrategyLogCrossCheck},
	"postmark":   {rps: 10, maxRetries: 5, base: 2, strategy: ReconcileStrategyLogCrossCheck},
	"twilio":     {rps: 1, maxRetries: 4, base: 3},
	"slack":      {rps: 1, maxRetries: 5, base: 2},
	"discord":    {rps: 2, maxRetries: 5, base: 2},
	"hubspot":    {rps: 9, maxRetries: 5, base: 2},
	"salesforce": {rps: 5, maxRetries: 5, base: 3},
	"pipedrive":  {rps: 4, maxRetries: 5, base: 2},
	"stripe":     {rps: 25, maxRetries: 6, base: 2},
	"shopify":    {rps: 2, maxRetries: 5, base: 2},
	"mailchimp":  {rps: 5, maxRetries: 4, base: 3},
	"intercom":   {rps: 8, maxRetries: 4, base: 2},
	"segment":    {rps: 50, maxRetries: 6, base: 2},
	"airtable":   {rps: 5, maxRetries: 4, base: 2},
	"notion":     {rps: 3, maxRetries: 4, base: 3},
	"calendly":   {rps: 2, maxRetries: 4, base: 2},
	"docusign":   {rps: 1, maxRetries: 3, base: 4},
	"zapier":     {rps: 2, maxRetries: 4, base: 3},
	"webhook":    {rps: 5, maxRetries: 6, base: 2},
}

// BuiltinPolicies returns the policies of the shipped integration catalog.
func BuiltinPolicies() map[string]IntegrationPolicy {
	policies := make(map[string]IntegrationPolicy, len(catalog))
	for id, b := range catalog {
		p := DefaultPolicy()
		p.IntegrationID = id
		p.SafeRequestsPerSecond = b.rps
		p.MaxRetries = b.maxRetries
		p.BackoffBase = b.base
		p.MaxBackoff = 6 * time.Hour
		if b.strategy != "" {
			p.Strategy = b.strategy
		}
		policies[id] = p
	}
	return policies
}

// DefaultPolicyRegistry returns a registry holding the shipped catalog and the
// conservative default policy.
func DefaultPolicyRegistry() *PolicyRegistry {
	return NewPolicyRegistry(DefaultPolicy(), BuiltinPolicies())
}
