package quota

import "errors"

var (
	// ErrNotFound indicates no ledger account exists for the user yet.
	ErrNotFound = errors.New("usage account not found")
	// ErrUnknownTier indicates a tier outside the closed enumeration.
	ErrUnknownTier = errors.New("unknown tier")
	// ErrTransientConflict indicates the retry budget was exhausted by
	// version races unrelated to the limit.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrQuotaExceeded indicates the period allowance is spent.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrServiceUnavailable indicates the ledger store could not be reached.
	// It is never treated as permission to proceed.
	ErrServiceUnavailable = errors.New("usage service unavailable")
)
