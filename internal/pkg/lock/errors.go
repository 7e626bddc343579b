package lock

import "errors"

// ErrLockTimeout is returned when a user's lock is not acquired before the
// caller's deadline, e.g. while a burst of tap reports for that user drains.
var ErrLockTimeout = errors.New("user lock acquisition timeout")
