// Package filelock serializes access to shared files across processes with
// an exclusive advisory lock held on a sibling lock file.
//
// The lock file is a token only: it holds no payload and is never removed,
// since removing it would let a later process lock a fresh inode while an
// earlier holder still owns the old one.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrWouldBlock is returned by TryWith when another holder owns the lock.
var ErrWouldBlock = errors.New("lock is held by another process")

// With blocks until the exclusive lock on lockPath is acquired, runs fn and
// releases the lock, including when fn fails or panics.
func With(lockPath string, fn func() error) (err error) {
	f, err := open(lockPath)
	if err != nil {
		return err
	}
	if err := acquire(f, true); err != nil {
		f.Close()
		return fmt.Errorf("failed to acquire lock %s: %w", lockPath, err)
	}
	defer func() {
		if rerr := release(f); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release lock %s: %w", lockPath, rerr))
		}
	}()
	return fn()
}

// TryWith is With without waiting: it returns ErrWouldBlock immediately when
// the lock is already held.
func TryWith(lockPath string, fn func() error) (err error) {
	f, err := open(lockPath)
	if err != nil {
		return err
	}
	if err := acquire(f, false); err != nil {
		f.Close()
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}
		return fmt.Errorf("failed to acquire lock %s: %w", lockPath, err)
	}
	defer func() {
		if rerr := release(f); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release lock %s: %w", lockPath, rerr))
		}
	}()
	return fn()
}

func open(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return f, nil
}

func release(f *os.File) error {
	return errors.Join(unlock(f), f.Close())
}
