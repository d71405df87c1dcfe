package health

import (
	"context"
	"database/sql"
	"time"
)

// Service encapsulates health-related checks.
type Service struct {
	DB *sql.DB
}

// NewService constructs a new health service. DB may be nil when running on
// the in-memory stores.
func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Status returns a liveness payload.
func (s *Service) Status() map[string]bool {
	return map[string]bool{"ok": true}
}

// Ready reports whether downstream dependencies are reachable.
func (s *Service) Ready(ctx context.Context) map[string]bool {
	out := map[string]bool{"ok": true}
	if s.DB == nil {
		return out
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(pingCtx); err != nil {
		out["ok"] = false
		out["database"] = false
		return out
	}
	out["database"] = true
	return out
}
