package stream

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Token identifies one registration.
type Token string

type registration[T any] struct {
	token Token
	value T
}

// Registry holds values in registration order. It may be mutated at any time,
// including while a caller iterates a Snapshot.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []registration[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add registers v and returns its token and a remove func. The remove func
// is safe to call more than once.
func (r *Registry[T]) Add(v T) (Token, func()) {
	token := Token(uuid.NewString())

	r.mu.Lock()
	r.entries = append(r.entries, registration[T]{token: token, value: v})
	r.mu.Unlock()

	var once sync.Once
	return token, func() {
		once.Do(func() { r.Remove(token) })
	}
}

// Remove drops the registration with the given token. It reports whether
// anything was removed.
func (r *Registry[T]) Remove(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.token != token {
			continue
		}
		r.entries = slices.Delete(r.entries, i, i+1)
		return true
	}
	return false
}

// Snapshot returns the registered values in registration order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.value)
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
