package domain

import (
	"math"
	"sort"
	"time"
)

// ReconcileStrategy selects how the reconciler detects drift for an integration.
type ReconcileStrategy string

const (
	// ReconcileStrategyStalenessSweep re-arms queued items that have not changed for too long.
	ReconcileStrategyStalenessSweep ReconcileStrategy = "staleness_sweep"
	// ReconcileStrategyLogCrossCheck also re-enqueues pending downstream log entries
	// that never produced a sent item.
	ReconcileStrategyLogCrossCheck ReconcileStrategy = "log_cross_check"
)

// IsValid reports whether s is a known strategy.
func (s ReconcileStrategy) IsValid() bool {
	return s == ReconcileStrategyStalenessSweep || s == ReconcileStrategyLogCrossCheck
}

// IntegrationPolicy is the delivery configuration of one integration.
type IntegrationPolicy struct {
	IntegrationID string
	// SafeRequestsPerSecond is the pace the dispatcher keeps when calling the integration.
	SafeRequestsPerSecond float64
	// MaxRetries is the attempt budget before an item is dead-lettered.
	MaxRetries int
	// BackoffBase is the exponential base of the retry delay.
	BackoffBase float64
	// BackoffUnit scales one backoff step.
	BackoffUnit time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// Enabled is the administrative switch for dispatch and reconciliation.
	Enabled bool
	// Strategy is the drift detection used by the reconciler.
	Strategy ReconcileStrategy
}

// Backoff returns the delay before the next attempt, given the number of attempts
// already made: BackoffUnit * BackoffBase^attemptCount, capped at MaxBackoff.
func (p IntegrationPolicy) Backoff(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	base := p.BackoffBase
	if base < 1 {
		base = 1
	}
	unit := p.BackoffUnit
	if unit <= 0 {
		unit = time.Second
	}

	delay := float64(unit) * math.Pow(base, float64(attemptCount))
	if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if delay >= math.MaxInt64 || math.IsInf(delay, 0) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// ExhaustsRetries reports whether failing the attempt that is about to be made
// consumes the last retry for an item that has already made attemptCount attempts.
func (p IntegrationPolicy) ExhaustsRetries(attemptCount int) bool {
	return attemptCount+1 >= p.MaxRetries
}

// DefaultPolicy is the conservative policy applied to integrations without an entry:
// low throughput, few retries and a steep backoff.
func DefaultPolicy() IntegrationPolicy {
	return IntegrationPolicy{
		SafeRequestsPerSecond: 0.5,
		MaxRetries:            3,
		BackoffBase:           4,
		BackoffUnit:           time.Second,
		MaxBackoff:            time.Hour,
		Timeout:               10 * time.Second,
		Enabled:               true,
		Strategy:              ReconcileStrategyStalenessSweep,
	}
}

// PolicyRegistry resolves integration policies. It is immutable once built and safe
// for concurrent use.
type PolicyRegistry struct {
	policies map[string]IntegrationPolicy
	fallback IntegrationPolicy
}

// NewPolicyRegistry builds a registry from explicit policies and the fallback used
// for unknown integrations. The map is copied.
func NewPolicyRegistry(fallback IntegrationPolicy, policies map[string]IntegrationPolicy) *PolicyRegistry {
	copied := make(map[string]IntegrationPolicy, len(policies))
	for id, p := range policies {
		p.IntegrationID = id
		copied[id] = p
	}
	fallback.IntegrationID = ""
	return &PolicyRegistry{policies: copied, fallback: fallback}
}

// PolicyFor returns the policy of integrationID, or the fallback policy when the
// integration is not listed. It never fails.
func (r *PolicyRegistry) PolicyFor(integrationID string) IntegrationPolicy {
	p, ok := r.policies[integrationID]
	if !ok {
		p = r.fallback
	}
	p.IntegrationID = integrationID
	return p
}

// Has reports whether integrationID has an explicit policy.
func (r *PolicyRegistry) Has(integrationID string) bool {
	_, ok := r.policies[integrationID]
	return ok
}

// IntegrationIDs returns the explicitly configured integrations in sorted order.
func (r *PolicyRegistry) IntegrationIDs() []string {
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DisabledIntegrationIDs returns the explicitly configured integrations that are
// administratively disabled, in sorted order.
func (r *PolicyRegistry) DisabledIntegrationIDs() []string {
	var ids []string
	for _, id := range r.IntegrationIDs() {
		if !r.policies[id].Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// Fallback returns the policy applied to unknown integrations.
func (r *PolicyRegistry) Fallback() IntegrationPolicy {
	return r.fallback
}
