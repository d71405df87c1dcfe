package quota

import (
	"context"
	"time"
)

// CommitStatus classifies the outcome of TryCommitIncrement.
type CommitStatus int

const (
	// CommitApplied means the increment was committed atomically.
	CommitApplied CommitStatus = iota
	// CommitVersionConflict means another writer got there first; the result
	// carries the account as that writer left it.
	CommitVersionConflict
	// CommitRolledOver means the period had expired. The store opened a fresh
	// window without incrementing; the caller must re-evaluate admission
	// against the returned account before committing again.
	CommitRolledOver
)

// CommitResult is the outcome of the single mutation path on the ledger.
type CommitResult struct {
	Status  CommitStatus
	Account Account
}

// LedgerStore is the durable per-user usage ledger. Implementations must make
// TryCommitIncrement a single atomic conditional update: two concurrent
// commits against the same version can never both apply.
type LedgerStore interface {
	// Load reads the account as stored. ErrNotFound when absent.
	Load(ctx context.Context, userID string) (Account, error)
	// CreateIfAbsent initializes the account idempotently. If a concurrent
	// creation races, the loser observes the winner's record.
	CreateIfAbsent(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error)
	// TryCommitIncrement consumes one quota slot via compare-and-swap on the
	// account version. An expired period is rolled over first, without
	// incrementing, and reported as CommitRolledOver.
	TryCommitIncrement(ctx context.Context, userID string, expectedVersion int64, now time.Time) (CommitResult, error)
	// UpdateTier is the write surface reserved for the billing-sync
	// collaborator. The quota service itself never changes tiers.
	UpdateTier(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error)
	// Reset zeroes the count and opens a fresh window. Dev tooling only.
	Reset(ctx context.Context, userID string, now time.Time) (Account, error)
}
