package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/domain"
	"drawdown/internal/lock"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAcquireExclusive(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := lock.Manager{Now: c.now, MaxDuration: 24 * time.Hour}
	r := &domain.Report{ID: "r1"}

	require.NoError(t, m.Acquire(r, "qs-a", 2*time.Hour))
	holder, ok := m.HolderOf(r)
	assert.True(t, ok)
	assert.Equal(t, "qs-a", holder)

	err := m.Acquire(r, "qs-b", time.Hour)
	assert.ErrorIs(t, err, domain.ErrAlreadyLocked)
	assert.Equal(t, "qs-a", *r.LockedBy)

	until := *r.LockedUntil
	c.t = c.t.Add(time.Hour)
	err = m.Acquire(r, "qs-a", 2*time.Hour)
	assert.ErrorIs(t, err, domain.ErrAlreadyLocked, "a live lock is exclusive even for its holder")
	assert.True(t, until.Equal(*r.LockedUntil))
}

func TestExpiredLockIsAbsent(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := lock.Manager{Now: c.now}
	r := &domain.Report{ID: "r1"}
	require.NoError(t, m.Acquire(r, "qs-a", time.Hour))

	c.t = c.t.Add(time.Hour)
	assert.False(t, m.IsHeld(r), "lock ending exactly now has lapsed")
	assert.NotNil(t, r.LockedBy, "expiry is lazy, nothing is cleared")

	require.NoError(t, m.Acquire(r, "qs-b", time.Hour))
	holder, _ := m.HolderOf(r)
	assert.Equal(t, "qs-b", holder)
}

func TestRelease(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := lock.Manager{Now: c.now}
	r := &domain.Report{ID: "r1"}
	require.NoError(t, m.Acquire(r, "qs-a", time.Hour))

	assert.ErrorIs(t, m.Release(r, "qs-b"), domain.ErrNotLockHolder)
	require.NoError(t, m.Release(r, "qs-a"))
	assert.Nil(t, r.LockedBy)
	assert.Nil(t, r.LockedUntil)
	assert.ErrorIs(t, m.Release(r, "qs-a"), domain.ErrNotLockHolder)

	require.NoError(t, m.Acquire(r, "qs-a", time.Hour))
	c.t = c.t.Add(2 * time.Hour)
	assert.ErrorIs(t, m.Release(r, "qs-a"), domain.ErrNotLockHolder)
}

func TestAcquireRejectsBadDuration(t *testing.T) {
	m := lock.Manager{MaxDuration: time.Hour}
	r := &domain.Report{ID: "r1"}
	assert.ErrorIs(t, m.Acquire(r, "qs-a", 0), domain.ErrValidation)
	assert.ErrorIs(t, m.Acquire(r, "qs-a", -time.Minute), domain.ErrValidation)
	assert.ErrorIs(t, m.Acquire(r, "qs-a", 2*time.Hour), domain.ErrValidation)
	assert.Nil(t, r.LockedBy)
}
