package quota

import (
	"strings"

	"transcript-backend/internal/shared/telemetry"
)

// Tier is a subscription level. It is a closed enumeration: every value the
// billing system can hand us maps onto one of these, with free as the safe
// default for anything unrecognized.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
	TierCanceled Tier = "canceled"
)

// ParseTier maps an upstream subscription value onto a known tier. Unknown
// values become free rather than failing, so a misbehaving billing payload can
// never grant an unmetered account.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierFree:
		return TierFree
	case TierPro:
		return TierPro
	case TierBusiness:
		return TierBusiness
	case TierCanceled:
		return TierCanceled
	default:
		telemetry.Info("quota.unknown_tier", map[string]any{"tier": raw})
		return TierFree
	}
}

// Policy is the usage allowance attached to a tier.
type Policy struct {
	Limit      int
	Unlimited  bool
	PeriodDays int
}

// PolicyTable maps tiers to their allowances. Policies are fixed per
// deployment; limits may be overridden from configuration at startup.
type PolicyTable struct {
	policies map[Tier]Policy
}

// NewPolicyTable returns the deployment defaults.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{policies: map[Tier]Policy{
		TierFree:     {Limit: 10, PeriodDays: 30},
		TierPro:      {Limit: 100, PeriodDays: 30},
		TierBusiness: {Unlimited: true, PeriodDays: 30},
		TierCanceled: {Limit: 0, PeriodDays: 30},
	}}
}

// PolicyFor looks up the allowance for a tier. Callers are expected to have
// normalized the value via ParseTier; anything else is ErrUnknownTier.
func (t *PolicyTable) PolicyFor(tier Tier) (Policy, error) {
	p, ok := t.policies[tier]
	if !ok {
		return Policy{}, ErrUnknownTier
	}
	return p, nil
}

// SetLimit overrides the limit for a tier, keeping its period length.
func (t *PolicyTable) SetLimit(tier Tier, limit int) {
	p, ok := t.policies[tier]
	if !ok {
		return
	}
	p.Limit = limit
	p.Unlimited = false
	t.policies[tier] = p
}
