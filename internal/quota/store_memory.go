package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process LedgerStore for dev mode and tests. The mutex
// makes the compare-and-swap serializable, mirroring what the Postgres store
// gets from a conditional UPDATE.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	policies *PolicyTable
}

// NewMemoryStore constructs an empty in-memory ledger.
func NewMemoryStore(policies *PolicyTable) *MemoryStore {
	if policies == nil {
		policies = NewPolicyTable()
	}
	return &MemoryStore{
		accounts: make(map[string]Account),
		policies: policies,
	}
}

func (s *MemoryStore) Load(ctx context.Context, userID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[userID]; ok {
		return existing, nil
	}
	policy, err := s.policies.PolicyFor(tier)
	if err != nil {
		return Account{}, err
	}
	a := Account{
		UserID:      userID,
		Tier:        tier,
		PeriodStart: now.UTC(),
		PeriodDays:  policy.PeriodDays,
		UsedCount:   0,
		Version:     1,
	}
	s.accounts[userID] = a
	return a, nil
}

func (s *MemoryStore) TryCommitIncrement(ctx context.Context, userID string, expectedVersion int64, now time.Time) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return CommitResult{}, ErrNotFound
	}
	if a.Version != expectedVersion {
		return CommitResult{Status: CommitVersionConflict, Account: a}, nil
	}
	if a.Expired(now.UTC()) {
		policy, err := s.policies.PolicyFor(a.Tier)
		if err != nil {
			return CommitResult{}, err
		}
		a = a.rolledOver(now.UTC(), policy)
		a.Version++
		s.accounts[userID] = a
		return CommitResult{Status: CommitRolledOver, Account: a}, nil
	}
	a.UsedCount++
	a.Version++
	s.accounts[userID] = a
	return CommitResult{Status: CommitApplied, Account: a}, nil
}

func (s *MemoryStore) UpdateTier(ctx context.Context, userID string, tier Tier, now time.Time) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		policy, err := s.policies.PolicyFor(tier)
		if err != nil {
			return Account{}, err
		}
		a = Account{
			UserID:      userID,
			Tier:        tier,
			PeriodStart: now.UTC(),
			PeriodDays:  policy.PeriodDays,
			Version:     1,
		}
		s.accounts[userID] = a
		return a, nil
	}
	// The running window keeps its original length; only the tier changes.
	a.Tier = tier
	a.Version++
	s.accounts[userID] = a
	return a, nil
}

func (s *MemoryStore) Reset(ctx context.Context, userID string, now time.Time) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		a = Account{UserID: userID, Tier: TierFree}
	}
	policy, err := s.policies.PolicyFor(a.Tier)
	if err != nil {
		return Account{}, err
	}
	a.PeriodStart = now.UTC()
	a.PeriodDays = policy.PeriodDays
	a.UsedCount = 0
	a.Version++
	s.accounts[userID] = a
	return a, nil
}
