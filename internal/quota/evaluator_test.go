package quota

import "testing"

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name          string
		used          int
		policy        Policy
		wantAllowed   bool
		wantRemaining int
	}{
		{
			name:          "fresh account",
			used:          0,
			policy:        Policy{Limit: 10, PeriodDays: 30},
			wantAllowed:   true,
			wantRemaining: 10,
		},
		{
			name:          "last slot is allowed",
			used:          9,
			policy:        Policy{Limit: 10, PeriodDays: 30},
			wantAllowed:   true,
			wantRemaining: 1,
		},
		{
			name:          "at limit is denied",
			used:          10,
			policy:        Policy{Limit: 10, PeriodDays: 30},
			wantAllowed:   false,
			wantRemaining: 0,
		},
		{
			name:          "over limit after downgrade is denied",
			used:          42,
			policy:        Policy{Limit: 10, PeriodDays: 30},
			wantAllowed:   false,
			wantRemaining: 0,
		},
		{
			name:          "zero limit always denied",
			used:          0,
			policy:        Policy{Limit: 0, PeriodDays: 30},
			wantAllowed:   false,
			wantRemaining: 0,
		},
		{
			name:          "unlimited ignores count",
			used:          100000,
			policy:        Policy{Unlimited: true, PeriodDays: 30},
			wantAllowed:   true,
			wantRemaining: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Account{UserID: "user-1", Tier: TierFree, UsedCount: tc.used}
			d := Evaluate(a, tc.policy)
			if d.Allowed != tc.wantAllowed {
				t.Fatalf("allowed=%v, want %v", d.Allowed, tc.wantAllowed)
			}
			if d.Remaining != tc.wantRemaining {
				t.Fatalf("remaining=%d, want %d", d.Remaining, tc.wantRemaining)
			}
			if d.Used != tc.used {
				t.Fatalf("used=%d, want %d", d.Used, tc.used)
			}
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	a := Account{UserID: "user-1", Tier: TierPro, UsedCount: 7}
	p := Policy{Limit: 100, PeriodDays: 30}
	first := Evaluate(a, p)
	for i := 0; i < 10; i++ {
		if got := Evaluate(a, p); got != first {
			t.Fatalf("evaluation changed between calls: %+v vs %+v", got, first)
		}
	}
}
