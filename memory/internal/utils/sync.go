package utils

import (
	"sync"
)

// OptionalRWMutex guards an object that may or may not be shared between goroutines. When the owner has
// promised external synchronization, every method is a no-op.
type OptionalRWMutex struct {
	mutex    sync.RWMutex
	useMutex bool
}

func NewOptionalRWMutex(useMutex bool) *OptionalRWMutex {
	return &OptionalRWMutex{useMutex: useMutex}
}

// Enabled reports whether this mutex actually locks
func (m *OptionalRWMutex) Enabled() bool {
	return m.useMutex
}

func (m *OptionalRWMutex) Lock() {
	if m.useMutex {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.useMutex {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.useMutex {
		m.mutex.RUnlock()
	}
}
