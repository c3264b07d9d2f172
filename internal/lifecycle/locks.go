package lifecycle

import "time"

type lockKey struct {
	ExpertID uint64
	UseCase  string
}

// tryLock attempts to acquire the per-(expert, use case) processing lock
// within the configured timeout. It returns false when another goroutine
// holds the lock, in which case the caller must skip the run rather than
// queue behind it.
func (m *Manager) tryLock(key lockKey) bool {
	m.locksMu.Lock()
	if m.locks == nil {
		m.locks = map[lockKey]chan struct{}{}
	}
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	m.locksMu.Unlock()

	timeout := m.Config.LockTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Manager) unlock(key lockKey) {
	m.locksMu.Lock()
	ch := m.locks[key]
	m.locksMu.Unlock()
	if ch != nil {
		<-ch
	}
}
