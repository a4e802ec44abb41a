package room

import "sync"

// keyLocks hands out one mutex per room id so that the load-mutate-persist
// cycle for a room never interleaves with another event for the same room
// in this process. Mutexes are created on first use and kept for the life
// of the process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) get(roomID string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[roomID] = l
	}
	return l
}
