package referral

import (
	"sync"

	"giveaway_ref_bot/store"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocker выдаёт мьютекс на ключ (user_id, channel). Записи удаляются,
// когда ключ никто не держит.
type keyLocker struct {
	mu    sync.Mutex
	locks map[store.Key]*keyLock
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[store.Key]*keyLock)}
}

// Lock блокирует ключ и возвращает функцию разблокировки
func (l *keyLocker) Lock(key store.Key) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
