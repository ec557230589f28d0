package index

import "sync"

// keyedLocks hands out one mutex per asset id. Entries are reference-counted
// so the map does not grow with every id ever seen.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refLock)}
}

func (k *keyedLocks) acquire(id string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks) release(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[id]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(k.locks, id)
	}
}

func (k *keyedLocks) lock(id string) {
	k.acquire(id).mu.Lock()
}

func (k *keyedLocks) tryLock(id string) bool {
	l := k.acquire(id)
	if l.mu.TryLock() {
		return true
	}
	k.release(id)
	return false
}

func (k *keyedLocks) unlock(id string) {
	k.mu.Lock()
	l, ok := k.locks[id]
	k.mu.Unlock()
	if !ok {
		return
	}
	l.mu.Unlock()
	k.release(id)
}
