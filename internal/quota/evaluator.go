package quota

// Decision is the admission outcome for one prospective billable action.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
	Remaining int  `json:"remaining"`
	Tier      Tier `json:"tier"`
}

// Evaluate decides whether one more action is admissible under the given
// policy. Pure and deterministic. The allowance is inclusive: an account at
// usedCount == limit-1 gets the last slot of the period.
func Evaluate(a Account, p Policy) Decision {
	d := Decision{
		Used:      a.UsedCount,
		Limit:     p.Limit,
		Unlimited: p.Unlimited,
		Tier:      a.Tier,
	}
	if p.Unlimited {
		d.Allowed = true
		return d
	}
	d.Allowed = a.UsedCount < p.Limit
	if remaining := p.Limit - a.UsedCount; remaining > 0 {
		d.Remaining = remaining
	}
	return d
}
