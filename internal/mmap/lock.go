package mmap

import "sync"

// FileLock is an advisory cross-process lock on an open file (flock(2)).
//
// flock locks belong to the open file description, so every reader in the
// process shares one LOCK_SH; the first RLock takes it and the last RUnlock
// drops it. Lock must only be called while no reader of this FileLock is
// active; the owner guarantees that with its in-process RWMutex.
type FileLock struct {
	f       Fder
	mu      sync.Mutex
	readers int
	held    bool
}

// NewFileLock returns a lock bound to f.
func NewFileLock(f Fder) *FileLock {
	return &FileLock{f: f}
}

// Lock takes the exclusive lock, blocking until other processes release theirs.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := osFlock(l.f.Fd(), lockExclusive); err != nil {
		return err
	}
	l.held = true
	return nil
}

// Unlock releases the exclusive lock.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrLockState
	}
	l.held = false
	return osFlock(l.f.Fd(), lockRelease)
}

// RLock takes the shared lock on behalf of one in-process reader.
func (l *FileLock) RLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers == 0 {
		if err := osFlock(l.f.Fd(), lockShared); err != nil {
			return err
		}
	}
	l.readers++
	return nil
}

// RUnlock releases one reader's hold on the shared lock.
func (l *FileLock) RUnlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readers == 0 {
		return ErrLockState
	}
	l.readers--
	if l.readers == 0 {
		return osFlock(l.f.Fd(), lockRelease)
	}
	return nil
}
