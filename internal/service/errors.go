package service

import "errors"

// ErrCheckInFlight is returned when a cycle for the same
// (country, reporting context) key is already running. Overlapping triggers
// are rejected rather than queued; the next scheduled tick is the retry.
var ErrCheckInFlight = errors.New("check already in flight for this key")

// UpstreamError wraps a failure of the aggregation source. The cycle aborts
// before anything is persisted.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "fetch product statuses: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// StoreReadError wraps a history lookup failure. Same abort-before-persist
// policy as UpstreamError.
type StoreReadError struct {
	Err error
}

func (e *StoreReadError) Error() string { return "read check history: " + e.Err.Error() }
func (e *StoreReadError) Unwrap() error { return e.Err }

// StoreWriteError wraps a failure to append the check record. The cycle is
// reported as failed; the next trigger recomputes the delta against the same
// previous snapshot, which is the only correct retry without a write-ahead
// staging area.
type StoreWriteError struct {
	Err error
}

func (e *StoreWriteError) Error() string { return "append check record: " + e.Err.Error() }
func (e *StoreWriteError) Unwrap() error { return e.Err }

// DispatchError wraps an email transport failure after a triggered decision.
// It never aborts the cycle; it is surfaced inside the CheckResult instead of
// as a returned error.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return "dispatch alert email: " + e.Err.Error() }
func (e *DispatchError) Unwrap() error { return e.Err }
