package quota

import "time"

const defaultPeriodDays = 30

// Account is a user's usage ledger record for the current billing period.
// usedCount only ever moves forward within a period; the sole way back to
// zero is a rollover into a fresh window.
type Account struct {
	UserID      string    `json:"userId"`
	Tier        Tier      `json:"tier"`
	PeriodStart time.Time `json:"periodStart"`
	// PeriodDays is captured from the tier policy when the period opens and
	// stays fixed for that window even if the tier changes mid-period.
	PeriodDays int `json:"periodDays"`
	UsedCount  int `json:"usedCount"`
	// Version guards every mutation via compare-and-swap.
	Version int64 `json:"-"`
}

// PeriodEnd returns the exclusive end of the current counting window.
func (a Account) PeriodEnd() time.Time {
	return a.PeriodStart.AddDate(0, 0, a.PeriodDays)
}

// Expired reports whether the account's window has ended at the given instant.
func (a Account) Expired(now time.Time) bool {
	return !now.Before(a.PeriodEnd())
}

// rolledOver returns the account advanced into the window containing now.
// The new start lands on a period boundary so period ends strictly increase
// and a window can never be applied twice.
func (a Account) rolledOver(now time.Time, p Policy) Account {
	start := a.PeriodStart
	days := a.PeriodDays
	if days <= 0 {
		days = p.PeriodDays
	}
	if days <= 0 {
		days = defaultPeriodDays
	}
	for !now.Before(start.AddDate(0, 0, days)) {
		start = start.AddDate(0, 0, days)
		// The fresh window picks up the current tier's period length.
		if p.PeriodDays > 0 {
			days = p.PeriodDays
		}
	}
	a.PeriodStart = start
	a.PeriodDays = days
	a.UsedCount = 0
	return a
}
