// Package lock implements the review lock carried on the report record.
// Expiry is lazy: a lock whose LockedUntil is not after now is treated as absent.
package lock

import (
	"fmt"
	"time"

	"drawdown/internal/domain"
)

type Manager struct {
	Now         func() time.Time
	MaxDuration time.Duration
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Acquire sets actorID as holder until now+d. It fails with ErrAlreadyLocked
// while any live lock exists, including one held by actorID.
func (m Manager) Acquire(r *domain.Report, actorID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: lock duration must be positive", domain.ErrValidation)
	}
	if m.MaxDuration > 0 && d > m.MaxDuration {
		return fmt.Errorf("%w: lock duration %s exceeds maximum %s", domain.ErrValidation, d, m.MaxDuration)
	}
	if holder, ok := m.HolderOf(r); ok {
		return fmt.Errorf("%w: report %s is locked by %s until %s", domain.ErrAlreadyLocked, r.ID, holder, r.LockedUntil.UTC().Format(time.RFC3339))
	}
	until := m.now().Add(d)
	holder := actorID
	r.LockedBy = &holder
	r.LockedUntil = &until
	return nil
}

// Release clears the lock if actorID is the live holder.
func (m Manager) Release(r *domain.Report, actorID string) error {
	holder, ok := m.HolderOf(r)
	if !ok || holder != actorID {
		return fmt.Errorf("%w: %s does not hold the lock on report %s", domain.ErrNotLockHolder, actorID, r.ID)
	}
	Clear(r)
	return nil
}

func (m Manager) IsHeld(r *domain.Report) bool {
	_, ok := m.HolderOf(r)
	return ok
}

// HolderOf returns the live holder.
func (m Manager) HolderOf(r *domain.Report) (string, bool) {
	if r.LockedBy == nil || r.LockedUntil == nil {
		return "", false
	}
	if !r.LockedUntil.After(m.now()) {
		return "", false
	}
	return *r.LockedBy, true
}

// Clear drops holder and expiry regardless of who holds them.
func Clear(r *domain.Report) {
	r.LockedBy = nil
	r.LockedUntil = nil
}
