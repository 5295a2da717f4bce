// Package runlock keeps a single dispatcher instance active at a time.
package runlock

import (
	"context"
	"errors"
)

// Locker is a process-wide singleton lock.
type Locker interface {
	// Acquire claims the lock or returns an error wrapping
	// domain.ErrLockContention when a live owner holds it.
	Acquire(ctx context.Context) error
	// Release gives the lock up if this process still owns it.
	Release() error
}

// Chain acquires lockers in order and releases them in reverse.
type Chain []Locker

// Acquire claims every lock, releasing already-claimed ones on failure.
func (c Chain) Acquire(ctx context.Context) error {
	for i, l := range c {
		if err := l.Acquire(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = c[j].Release()
			}
			return err
		}
	}
	return nil
}

// Release releases every lock and joins the errors.
func (c Chain) Release() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
