// Package registry tracks which generated wrapper was installed on a host
// event for each (callback, scope) pair, so repeated registrations stay
// idempotent and removals touch only the wrappers they name.
package registry

import "sync"

// Registry maps callback identity to scope to wrapper.
type Registry[C comparable, S comparable, W any] struct {
	mu      sync.Mutex
	entries map[C]map[S]W
}

func New[C comparable, S comparable, W any]() *Registry[C, S, W] {
	return &Registry[C, S, W]{entries: make(map[C]map[S]W)}
}

// Ensure returns the wrapper registered for (cb, scope), building and storing
// one with build when none exists. created reports whether build ran.
//
// install, when non-nil, receives the wrapper before the registry lock is
// released, so a concurrent Take can never observe the entry without the
// wrapper being installed on the host. It runs on every call and must be
// idempotent.
func (r *Registry[C, S, W]) Ensure(cb C, scope S, build func() W, install func(W)) (wrapper W, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := r.entries[cb]
	if scopes == nil {
		scopes = make(map[S]W)
		r.entries[cb] = scopes
	}
	wrapper, ok := scopes[scope]
	if !ok {
		wrapper = build()
		scopes[scope] = wrapper
	}
	if install != nil {
		install(wrapper)
	}
	return wrapper, !ok
}

// Take removes and returns the wrapper registered for (cb, scope). uninstall,
// when non-nil, receives the removed wrapper under the registry lock.
func (r *Registry[C, S, W]) Take(cb C, scope S, uninstall func(W)) (W, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero W
	scopes := r.entries[cb]
	if scopes == nil {
		return zero, false
	}
	wrapper, ok := scopes[scope]
	if !ok {
		return zero, false
	}
	delete(scopes, scope)
	if len(scopes) == 0 {
		delete(r.entries, cb)
	}
	if uninstall != nil {
		uninstall(wrapper)
	}
	return wrapper, true
}

// TakeAll removes every wrapper registered for cb, handing each to uninstall
// under the registry lock when uninstall is non-nil.
func (r *Registry[C, S, W]) TakeAll(cb C, uninstall func(W)) []W {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := r.entries[cb]
	if scopes == nil {
		return nil
	}
	delete(r.entries, cb)

	wrappers := make([]W, 0, len(scopes))
	for _, wrapper := range scopes {
		if uninstall != nil {
			uninstall(wrapper)
		}
		wrappers = append(wrappers, wrapper)
	}
	return wrappers
}

// Has reports whether cb has a wrapper for scope.
func (r *Registry[C, S, W]) Has(cb C, scope S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[cb][scope]
	return ok
}

// Len returns the number of callbacks with at least one wrapper.
func (r *Registry[C, S, W]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
