// Package locking provides a keyed mutex used to serialize all mutating
// operations on a single principal while letting distinct principals proceed
// in parallel.
package locking

import "sync"

// Keyed hands out one mutex per key. Mutexes are never evicted; the key space
// is bounded by the number of principals a process touches.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	defer locks.Lock(principalID)()
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
