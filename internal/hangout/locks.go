package hangout

import "sync"

// pairLocks serializes commands on the same pair of users within one
// process, so both records of a pair are read and written as a unit.
// The zero value is ready to use.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// pairKey is order independent: alice/bob and bob/alice share a lock.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// lock blocks until the pair is free and returns its unlock func
func (p *pairLocks) lock(a, b string) func() {
	key := pairKey(a, b)

	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*pairLock)
	}
	l := p.locks[key]
	if l == nil {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *pairLocks) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
