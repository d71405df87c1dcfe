package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transcript-backend/internal/shared/metrics"
	"transcript-backend/internal/shared/telemetry"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultMaxRetries   = 5
	backoffBase         = 5 * time.Millisecond
	backoffCap          = 100 * time.Millisecond
)

// Service gates billable actions behind per-user, per-period quotas. The
// pre-check is advisory; the commit re-validates admission against fresh
// ledger state, which is what actually closes the check-then-act race.
type Service struct {
	Store    LedgerStore
	Policies *PolicyTable
	// StoreTimeout bounds each storage round trip.
	StoreTimeout time.Duration
	// MaxRetries bounds commit retries on version conflicts.
	MaxRetries int

	now func() time.Time
}

// NewService constructs a quota service over the given ledger store.
func NewService(store LedgerStore, policies *PolicyTable) *Service {
	if policies == nil {
		policies = NewPolicyTable()
	}
	return &Service{
		Store:        store,
		Policies:     policies,
		StoreTimeout: defaultStoreTimeout,
		MaxRetries:   defaultMaxRetries,
		now:          time.Now,
	}
}

// CheckResult is the admission decision plus what a caller needs to render
// a denial: counts, limit, tier and the active window.
type CheckResult struct {
	Decision
	Message     string    `json:"message,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// UsageInfo is the read-only usage snapshot for a user.
type UsageInfo struct {
	Tier        Tier      `json:"tier"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Unlimited   bool      `json:"unlimited"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// CheckUsageLimit reports whether the user may start one more billable
// action. It lazily creates the account, repairs an expired period, and never
// consumes a slot; callers must still commit via IncrementUsageCount after
// the action succeeds.
func (s *Service) CheckUsageLimit(ctx context.Context, userID string) (CheckResult, error) {
	a, err := s.loadFresh(ctx, userID, true)
	if err != nil {
		return CheckResult{}, err
	}
	policy, err := s.Policies.PolicyFor(a.Tier)
	if err != nil {
		return CheckResult{}, err
	}
	d := Evaluate(a, policy)
	metrics.IncQuotaCheck()
	if !d.Allowed {
		metrics.IncQuotaDenied()
	}
	return s.result(a, d), nil
}

// IncrementUsageCount consumes one quota slot. Admission is re-evaluated
// against freshly loaded state on every attempt, so a stale earlier check can
// never push the count past the limit. Version conflicts are retried with
// exponential backoff up to MaxRetries; an inadmissible account surfaces
// ErrQuotaExceeded, exhausted retries ErrTransientConflict.
func (s *Service) IncrementUsageCount(ctx context.Context, userID string) (CheckResult, error) {
	a, err := s.loadFresh(ctx, userID, true)
	if err != nil {
		return CheckResult{}, err
	}

	for attempt := 0; attempt <= s.maxRetries(); attempt++ {
		policy, err := s.Policies.PolicyFor(a.Tier)
		if err != nil {
			return CheckResult{}, err
		}
		d := Evaluate(a, policy)
		if !d.Allowed {
			metrics.IncQuotaDenied()
			telemetry.Info("quota.denied", map[string]any{
				"user_id": userID,
				"tier":    string(a.Tier),
				"used":    a.UsedCount,
				"limit":   policy.Limit,
			})
			return s.result(a, d), ErrQuotaExceeded
		}

		res, err := s.tryCommit(ctx, userID, a.Version)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Account vanished between load and commit; recreate and retry.
				if a, err = s.loadFresh(ctx, userID, true); err != nil {
					return CheckResult{}, err
				}
				continue
			}
			return CheckResult{}, err
		}

		switch res.Status {
		case CommitApplied:
			metrics.IncQuotaCommit()
			if p, perr := s.Policies.PolicyFor(res.Account.Tier); perr == nil {
				policy = p
			}
			return s.result(res.Account, Evaluate(res.Account, policy)), nil
		case CommitRolledOver:
			metrics.IncQuotaRollover()
			a = res.Account
		case CommitVersionConflict:
			metrics.IncQuotaConflict()
			a = res.Account
			if err := s.backoff(ctx, attempt); err != nil {
				return CheckResult{}, err
			}
		}
	}

	telemetry.Error("quota.commit_contention", map[string]any{
		"user_id":  userID,
		"attempts": s.maxRetries() + 1,
	})
	return CheckResult{}, ErrTransientConflict
}

// GetUserUsageInfo returns the usage snapshot for display. An expired period
// is rolled over first so the caller never sees a stale window. ErrNotFound
// when the user has no account yet.
func (s *Service) GetUserUsageInfo(ctx context.Context, userID string) (UsageInfo, error) {
	a, err := s.loadFresh(ctx, userID, false)
	if err != nil {
		return UsageInfo{}, err
	}
	policy, err := s.Policies.PolicyFor(a.Tier)
	if err != nil {
		return UsageInfo{}, err
	}
	d := Evaluate(a, policy)
	return UsageInfo{
		Tier:        a.Tier,
		Used:        a.UsedCount,
		Limit:       policy.Limit,
		Unlimited:   policy.Unlimited,
		Remaining:   d.Remaining,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd(),
	}, nil
}

// SetTier records a subscription change pushed by the billing-sync
// collaborator. A downgrade takes effect immediately: limits are read at
// decision time, so an account already past the lower limit is denied until
// the next rollover.
func (s *Service) SetTier(ctx context.Context, userID string, tier Tier) (Account, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	a, err := s.Store.UpdateTier(cctx, userID, tier, s.nowUTC())
	if err != nil {
		return Account{}, s.storeErr(err)
	}
	telemetry.Info("quota.tier_updated", map[string]any{
		"user_id": userID,
		"tier":    string(tier),
	})
	return a, nil
}

// ResetUsage zeroes the user's count and opens a fresh window. Dev-only.
func (s *Service) ResetUsage(ctx context.Context, userID string) (Account, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	a, err := s.Store.Reset(cctx, userID, s.nowUTC())
	if err != nil {
		return Account{}, s.storeErr(err)
	}
	return a, nil
}

// loadFresh loads the account, optionally creating it on the free tier, and
// repairs an expired period before returning. The repair goes through the
// same conditional update as commits, so concurrent observers of a period
// boundary reset the window exactly once.
func (s *Service) loadFresh(ctx context.Context, userID string, create bool) (Account, error) {
	cctx, cancel := s.storeCtx(ctx)
	a, err := s.Store.Load(cctx, userID)
	cancel()
	if errors.Is(err, ErrNotFound) && create {
		cctx, cancel = s.storeCtx(ctx)
		a, err = s.Store.CreateIfAbsent(cctx, userID, TierFree, s.nowUTC())
		cancel()
	}
	if err != nil {
		return Account{}, s.storeErr(err)
	}

	for attempt := 0; a.Expired(s.nowUTC()) && attempt <= s.maxRetries(); attempt++ {
		res, err := s.tryCommit(ctx, userID, a.Version)
		if err != nil {
			return Account{}, err
		}
		// Both outcomes carry current state; an expired account never takes
		// the CommitApplied path.
		a = res.Account
	}
	return a, nil
}

func (s *Service) tryCommit(ctx context.Context, userID string, version int64) (CommitResult, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	start := time.Now()
	res, err := s.Store.TryCommitIncrement(cctx, userID, version, s.nowUTC())
	metrics.ObserveQuotaCommitMs(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CommitResult{}, err
		}
		return CommitResult{}, s.storeErr(err)
	}
	return res, nil
}

func (s *Service) result(a Account, d Decision) CheckResult {
	r := CheckResult{
		Decision:    d,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd(),
	}
	if !d.Allowed {
		if a.Tier == TierCanceled {
			r.Message = "Subscription canceled. Renew your plan to run more analyses."
		} else {
			r.Message = "Analysis limit reached for this billing period. Upgrade your plan or wait for the reset."
		}
	}
	return r
}

// storeErr maps storage failures onto ErrServiceUnavailable. Metering is
// fail-closed: an unreachable ledger denies the action, it never waves it
// through.
func (s *Service) storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownTier):
		return err
	default:
		telemetry.Error("quota.store_error", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}

func (s *Service) backoff(ctx context.Context, attempt int) error {
	d := backoffCap
	if attempt < 5 {
		if shifted := backoffBase << attempt; shifted < backoffCap {
			d = shifted
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) maxRetries() int {
	if s.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return s.MaxRetries
}

func (s *Service) nowUTC() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
