// Package lock provides per-user in-process locks. The bot takes one around
// every command that moves credits or items, so a player who taps a button
// twice gets a "busy" reply instead of two racing requests. Balances and
// scarcity are still guarded by the database.
package lock

import (
	"sync"
)

// userMutex wraps a mutex with reference counting for cleanup.
type userMutex struct {
	mu   sync.Mutex
	refs int
}

// UserLock hands out one mutex per user. Entries are dropped once no
// goroutine holds or waits on them.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*userMutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*userMutex)}
}

func (ul *UserLock) acquire(userID int64) *userMutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m, ok := ul.locks[userID]
	if !ok {
		m = &userMutex{}
		ul.locks[userID] = m
	}
	m.refs++
	return m
}

func (ul *UserLock) release(userID int64, m *userMutex) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(ul.locks, userID)
	}
}

// Lock blocks until the user's lock is held.
func (ul *UserLock) Lock(userID int64) {
	ul.acquire(userID).mu.Lock()
}

// Unlock releases the user's lock. It panics if the lock is not held.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	m, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked user")
	}
	m.mu.Unlock()
	ul.release(userID, m)
}

// TryLock acquires the user's lock without blocking.
func (ul *UserLock) TryLock(userID int64) bool {
	m := ul.acquire(userID)
	if m.mu.TryLock() {
		return true
	}
	ul.release(userID, m)
	return false
}

// WithTryLock runs fn while holding the user's lock, or returns ErrBusy
// without running it when the lock is taken.
func (ul *UserLock) WithTryLock(userID int64, fn func() error) error {
	if !ul.TryLock(userID) {
		return ErrBusy
	}
	defer ul.Unlock(userID)
	return fn()
}

// Len returns the number of users with a held or awaited lock.
func (ul *UserLock) Len() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}
