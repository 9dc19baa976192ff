package lock

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSerializedUpdatesProperty checks that read-modify-write updates made
// under the same user's lock never lose a write.
func TestSerializedUpdatesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100000).Draw(t, "initial")
		amounts := rapid.SliceOfN(rapid.Int64Range(-500, 500), 2, 20).Draw(t, "amounts")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		expected := initial
		for _, a := range amounts {
			expected += a
		}

		ul := NewUserLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(len(amounts))
		for _, a := range amounts {
			go func(amount int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				current := balance
				balance = current + amount
			}(a)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("balance %d, expected %d", balance, expected)
		}
		if ul.Len() != 0 {
			t.Fatalf("%d lock entries left after all goroutines finished", ul.Len())
		}
	})
}

func TestTryLock(t *testing.T) {
	ul := NewUserLock()

	require.True(t, ul.TryLock(1))
	assert.False(t, ul.TryLock(1))
	assert.True(t, ul.TryLock(2), "other users are independent")

	ul.Unlock(1)
	ul.Unlock(2)
	assert.Equal(t, 0, ul.Len())

	assert.True(t, ul.TryLock(1))
	ul.Unlock(1)
}

func TestWithTryLock(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(7)

	ran := false
	err := ul.WithTryLock(7, func() error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, ran)

	ul.Unlock(7)
	require.NoError(t, ul.WithTryLock(7, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Equal(t, 0, ul.Len())
}

func TestWithTryLock_OnlyOneConcurrentRun(t *testing.T) {
	ul := NewUserLock()
	start := make(chan struct{})
	release := make(chan struct{})

	var ran, busy atomic.Int32
	var wg sync.WaitGroup

	// Hold the lock so every contender sees it taken.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ul.WithTryLock(3, func() error {
			ran.Add(1)
			close(start)
			<-release
			return nil
		})
	}()
	<-start

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ul.WithTryLock(3, func() error { ran.Add(1); return nil }); err != nil {
				busy.Add(1)
			}
		}()
	}

	// Contenders finish on their own; only then release the holder.
	for busy.Load() < 10 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, int32(10), busy.Load())
}
