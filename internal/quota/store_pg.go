package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore is the Postgres-backed LedgerStore. Every mutation is a single
// conditional statement keyed on the version column, so concurrency control
// never depends on separate read-then-write steps.
type PGStore struct {
	DB       *sql.DB
	Policies *PolicyTable
}

// NewPGStore constructs a Postgres-backed usage ledger.
func NewPGStore(db *sql.DB, policies *PolicyTable) *PGStore {
	if policies == nil {
		policies = NewPolicyTable()
	}
	return &PGStore{DB: db, Policies: policies}
}

const accountColumns = `user_id, tier, period_start, period_days, used_count, version`

func (s *PGStore) Load(ctx context.Context, userID string) (Account, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+accountColumns+` FROM usage_accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

func (s *PGStore) CreateIfAbsent(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error) {
	policy, err := s.Policies.PolicyFor(tier)
	if err != nil {
		return Account{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO usage_accounts (user_id, tier, period_start, period_days, used_count, version)
VALUES ($1, $2, $3, $4, 0, 1)
ON CONFLICT (user_id) DO NOTHING
RETURNING `+accountColumns, userID, string(tier), now.UTC(), policy.PeriodDays)
	a, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		// Lost the creation race; the winner's record stands.
		return s.Load(ctx, userID)
	}
	return a, err
}

func (s *PGStore) TryCommitIncrement(ctx context.Context, userID string, expectedVersion int64, now time.Time) (CommitResult, error) {
	current, err := s.Load(ctx, userID)
	if err != nil {
		return CommitResult{}, err
	}
	if current.Version != expectedVersion {
		return CommitResult{Status: CommitVersionConflict, Account: current}, nil
	}

	if current.Expired(now.UTC()) {
		policy, err := s.Policies.PolicyFor(current.Tier)
		if err != nil {
			return CommitResult{}, err
		}
		fresh := current.rolledOver(now.UTC(), policy)
		row := s.DB.QueryRowContext(ctx, `
UPDATE usage_accounts
SET used_count = 0, period_start = $3, period_days = $4, version = version + 1, updated_at = now()
WHERE user_id = $1 AND version = $2
RETURNING `+accountColumns, userID, expectedVersion, fresh.PeriodStart, fresh.PeriodDays)
		a, err := scanAccount(row)
		if errors.Is(err, ErrNotFound) {
			return s.conflicted(ctx, userID)
		}
		if err != nil {
			return CommitResult{}, err
		}
		return CommitResult{Status: CommitRolledOver, Account: a}, nil
	}

	row := s.DB.QueryRowContext(ctx, `
UPDATE usage_accounts
SET used_count = used_count + 1, version = version + 1, updated_at = now()
WHERE user_id = $1 AND version = $2
RETURNING `+accountColumns, userID, expectedVersion)
	a, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return s.conflicted(ctx, userID)
	}
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Status: CommitApplied, Account: a}, nil
}

// conflicted reloads the account after a failed conditional update so the
// caller can retry against current state.
func (s *PGStore) conflicted(ctx context.Context, userID string) (CommitResult, error) {
	current, err := s.Load(ctx, userID)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Status: CommitVersionConflict, Account: current}, nil
}

func (s *PGStore) UpdateTier(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error) {
	policy, err := s.Policies.PolicyFor(tier)
	if err != nil {
		return Account{}, err
	}
	// A running window keeps its original length; only the tier changes.
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO usage_accounts (user_id, tier, period_start, period_days, used_count, version)
VALUES ($1, $2, $3, $4, 0, 1)
ON CONFLICT (user_id) DO UPDATE SET
  tier = EXCLUDED.tier,
  version = usage_accounts.version + 1,
  updated_at = now()
RETURNING `+accountColumns, userID, string(tier), now.UTC(), policy.PeriodDays)
	return scanAccount(row)
}

func (s *PGStore) Reset(ctx context.Context, userID string, now time.Time) (Account, error) {
	policy, err := s.Policies.PolicyFor(TierFree)
	if err != nil {
		return Account{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO usage_accounts (user_id, tier, period_start, period_days, used_count, version)
VALUES ($1, 'free', $2, $3, 0, 1)
ON CONFLICT (user_id) DO UPDATE SET
  used_count = 0,
  period_start = EXCLUDED.period_start,
  period_days = EXCLUDED.period_days,
  version = usage_accounts.version + 1,
  updated_at = now()
RETURNING `+accountColumns, userID, now.UTC(), policy.PeriodDays)
	return scanAccount(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	var tier string
	err := row.Scan(&a.UserID, &tier, &a.PeriodStart, &a.PeriodDays, &a.UsedCount, &a.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.Tier = ParseTier(tier)
	a.PeriodStart = a.PeriodStart.UTC()
	return a, nil
}
