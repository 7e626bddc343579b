package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestConcurrentTapsSerializedProperty runs concurrent read-modify-write updates
// against one user and checks the result equals sequential execution.
func TestConcurrentTapsSerializedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 100000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		amounts := make([]int64, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = rapid.Int64Range(0, 5000).Draw(t, "earned")
			expected += amounts[i]
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				_ = ul.WithLock(context.Background(), userID, func() error {
					current := balance
					balance = current + amount
					return nil
				})
			}(amount)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance mismatch: expected %d, got %d", expected, balance)
		}
		if ul.Len() != 0 {
			t.Fatalf("lock entries leaked: %d", ul.Len())
		}
	})
}

// held reports whether the user's lock is taken by someone else.
func held(ul *UserLock, userID int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := ul.LockContext(ctx, userID); err != nil {
		return true
	}
	ul.Unlock(userID)
	return false
}

func TestUserLock_UsersAreIndependent(t *testing.T) {
	ul := NewUserLock()
	ctx := context.Background()

	require.NoError(t, ul.LockContext(ctx, 1))
	assert.True(t, held(ul, 1), "second lock on the same user must wait")
	assert.False(t, held(ul, 2), "other users are independent")

	ul.Unlock(1)
	assert.Equal(t, 0, ul.Len())
}

func TestUserLock_LockContextTimeout(t *testing.T) {
	ul := NewUserLock()
	require.NoError(t, ul.LockContext(context.Background(), 7))
	defer ul.Unlock(7)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ul.LockContext(ctx, 7)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, ul.Len(), "timed out waiter must not keep an entry")
}

func TestUserLock_LockContextCancelled(t *testing.T) {
	ul := NewUserLock()
	require.NoError(t, ul.LockContext(context.Background(), 7))
	defer ul.Unlock(7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ul.LockContext(ctx, 7), context.Canceled)
}

func TestUserLock_WithLockPropagatesError(t *testing.T) {
	ul := NewUserLock()
	boom := assert.AnError

	err := ul.WithLock(context.Background(), 3, func() error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, held(ul, 3), "lock must be released after fn fails")
	assert.Equal(t, 0, ul.Len())
}

func TestUserLock_UnlockUnlockedPanics(t *testing.T) {
	ul := NewUserLock()
	assert.Panics(t, func() { ul.Unlock(99) })
}
