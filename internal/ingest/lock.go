package ingest

import (
	"context"
	"sync"
)

// Locker keeps ingestion cycles from overlapping. TryLock never waits: it
// reports false when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// MutexLocker serializes cycles inside one process.
type MutexLocker struct {
	mu sync.Mutex
}

func (l *MutexLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

type JobOption func(*Job)

// WithLocker replaces the in-process lock, e.g. with one shared by every
// replica through the database.
func WithLocker(l Locker) JobOption {
	return func(j *Job) { j.lock = l }
}
