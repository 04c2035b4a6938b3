package utils

import (
	"sync"
)

// OptionalMutex is a mutex that only locks when UseMutex is set. Arenas that are driven from a
// single goroutine leave it off and pay nothing.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// Do runs fn while holding the mutex
func (m *OptionalMutex) Do(fn func()) {
	m.Lock()
	defer m.Unlock()

	fn()
}
