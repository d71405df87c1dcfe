package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newPGStoreWithMock(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db, nil), mock
}

func accountRow(userID, tier string, start time.Time, days, used int, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "tier", "period_start", "period_days", "used_count", "version"}).
		AddRow(userID, tier, start, days, used, version)
}

func TestPGStoreLoad(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "pro", start, 30, 42, 7))

	a, err := store.Load(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Tier != TierPro || a.UsedCount != 42 || a.Version != 7 {
		t.Fatalf("unexpected account: %+v", a)
	}
	if !a.PeriodStart.Equal(start) {
		t.Fatalf("periodStart=%s, want %s", a.PeriodStart, start)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreLoadNotFound(t *testing.T) {
	store, mock := newPGStoreWithMock(t)

	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tier", "period_start", "period_days", "used_count", "version"}))

	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreCreateIfAbsentLosesRace(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	existing := now.Add(-time.Hour)

	// DO NOTHING yields no row when a concurrent insert won.
	mock.ExpectQuery("INSERT INTO usage_accounts").
		WithArgs("user-1", "free", now, 30).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tier", "period_start", "period_days", "used_count", "version"}))
	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", existing, 30, 2, 3))

	a, err := store.CreateIfAbsent(context.Background(), "user-1", TierFree, now)
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}
	if a.UsedCount != 2 || a.Version != 3 || !a.PeriodStart.Equal(existing) {
		t.Fatalf("must return the winner's record, got %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitApplied(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", start, 30, 4, 3))
	mock.ExpectQuery("UPDATE usage_accounts").
		WithArgs("user-1", int64(3)).
		WillReturnRows(accountRow("user-1", "free", start, 30, 5, 4))

	res, err := store.TryCommitIncrement(context.Background(), "user-1", 3, now)
	if err != nil {
		t.Fatalf("TryCommitIncrement: %v", err)
	}
	if res.Status != CommitApplied || res.Account.UsedCount != 5 || res.Account.Version != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitStaleVersion(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	// The load already shows a newer version; no update is attempted.
	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", start, 30, 5, 6))

	res, err := store.TryCommitIncrement(context.Background(), "user-1", 3, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("TryCommitIncrement: %v", err)
	}
	if res.Status != CommitVersionConflict || res.Account.Version != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitLosesUpdateRace(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", start, 30, 4, 3))
	// The conditional update matches nothing: someone committed in between.
	mock.ExpectQuery("UPDATE usage_accounts").
		WithArgs("user-1", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tier", "period_start", "period_days", "used_count", "version"}))
	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", start, 30, 5, 4))

	res, err := store.TryCommitIncrement(context.Background(), "user-1", 3, now)
	if err != nil {
		t.Fatalf("TryCommitIncrement: %v", err)
	}
	if res.Status != CommitVersionConflict || res.Account.Version != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreCommitRollsOverExpiredPeriod(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 0, 45)
	newStart := start.AddDate(0, 0, 30)

	mock.ExpectQuery("SELECT (.+) FROM usage_accounts").
		WithArgs("user-1").
		WillReturnRows(accountRow("user-1", "free", start, 30, 9, 12))
	mock.ExpectQuery("UPDATE usage_accounts").
		WithArgs("user-1", int64(12), newStart, 30).
		WillReturnRows(accountRow("user-1", "free", newStart, 30, 0, 13))

	res, err := store.TryCommitIncrement(context.Background(), "user-1", 12, now)
	if err != nil {
		t.Fatalf("TryCommitIncrement: %v", err)
	}
	if res.Status != CommitRolledOver {
		t.Fatalf("status=%v, want CommitRolledOver", res.Status)
	}
	if res.Account.UsedCount != 0 || !res.Account.PeriodStart.Equal(newStart) {
		t.Fatalf("unexpected account after rollover: %+v", res.Account)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreUpdateTierUpserts(t *testing.T) {
	store, mock := newPGStoreWithMock(t)
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO usage_accounts").
		WithArgs("user-1", "pro", now, 30).
		WillReturnRows(accountRow("user-1", "pro", now.AddDate(0, 0, -10), 30, 8, 5))

	a, err := store.UpdateTier(context.Background(), "user-1", TierPro, now)
	if err != nil {
		t.Fatalf("UpdateTier: %v", err)
	}
	if a.Tier != TierPro || a.UsedCount != 8 || a.Version != 5 {
		t.Fatalf("unexpected account: %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
