package orchestrator

import "sync"

// instructionLocks serializes work on one instruction inside this process.
// Entries are dropped when the last holder releases them.
type instructionLocks struct {
	mu    sync.Mutex // protects locks itself
	locks map[string]*instructionLock
}

type instructionLock struct {
	sync.Mutex
	refs int
}

func newInstructionLocks() *instructionLocks {
	return &instructionLocks{locks: make(map[string]*instructionLock)}
}

func (l *instructionLocks) acquire(id string) *instructionLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locks[id]; !exists {
		l.locks[id] = &instructionLock{}
	}
	lock := l.locks[id]
	lock.refs++
	return lock
}

func (l *instructionLocks) release(id string, lock *instructionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// lock blocks until id is free and returns the unlock func.
func (l *instructionLocks) lock(id string) func() {
	lock := l.acquire(id)
	lock.Lock()
	return func() {
		lock.Unlock()
		l.release(id, lock)
	}
}

// tryLock takes id only if nobody holds it.
func (l *instructionLocks) tryLock(id string) (func(), bool) {
	lock := l.acquire(id)
	if !lock.TryLock() {
		l.release(id, lock)
		return nil, false
	}
	return func() {
		lock.Unlock()
		l.release(id, lock)
	}, true
}

func (l *instructionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
