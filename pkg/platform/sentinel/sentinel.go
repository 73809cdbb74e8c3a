package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and brokers return these
// (optionally wrapped) so services can decide what the fact means for them.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a unique attribute (address, invite code) is already taken
//   - ErrAlreadyUsed: a one-time grant or key was already consumed
//   - ErrInvalidState: the record exists but cannot serve the request
//   - ErrUnavailable: the backing service is temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// IsAlreadyUsed reports whether err wraps ErrAlreadyUsed.
func IsAlreadyUsed(err error) bool {
	return errors.Is(err, ErrAlreadyUsed)
}
