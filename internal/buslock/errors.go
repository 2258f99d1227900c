// Package buslock provides the advisory process lock that backs the
// storage server's session-bus "well-known name" guarantee: only one
// server instance may run per user (per --instance identifier).
package buslock

import "errors"

// ErrLockBusy is returned when another process already holds the lock.
var ErrLockBusy = errors.New("buslock: well-known name already held by another process")
