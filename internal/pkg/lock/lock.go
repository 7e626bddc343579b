// Package lock provides in-process per-user mutual exclusion.
//
// The database row lock is the authoritative serialization point for a user's
// balance; this lock keeps concurrent requests for the same user from queuing
// on pool connections while they wait for that row.
package lock

import (
	"context"
	"sync"
)

// entry is a one-slot semaphore shared by everyone waiting on the same key.
type entry struct {
	ch      chan struct{}
	waiters int
}

// UserLock serializes work per Telegram user id. Entries are removed once no
// goroutine holds or waits for them, so memory stays proportional to the
// number of users with in-flight requests.
type UserLock struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{entries: make(map[int64]*entry)}
}

func (ul *UserLock) acquireEntry(userID int64) *entry {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	e, ok := ul.entries[userID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		ul.entries[userID] = e
	}
	e.waiters++
	return e
}

func (ul *UserLock) releaseEntry(userID int64, e *entry) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	e.waiters--
	if e.waiters == 0 {
		delete(ul.entries, userID)
	}
}

// LockContext waits for the user's lock until ctx is done.
func (ul *UserLock) LockContext(ctx context.Context, userID int64) error {
	e := ul.acquireEntry(userID)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.releaseEntry(userID, e)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// Unlock releases the user's lock. Unlocking a lock that is not held panics,
// like sync.Mutex.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	e, ok := ul.entries[userID]
	ul.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked user")
	}

	select {
	case <-e.ch:
	default:
		panic("lock: unlock of unlocked user")
	}
	ul.releaseEntry(userID, e)
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(ctx context.Context, userID int64, fn func() error) error {
	if err := ul.LockContext(ctx, userID); err != nil {
		return err
	}
	defer ul.Unlock(userID)
	return fn()
}

// Len returns the number of users currently holding or waiting for a lock.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.entries)
}
