package storage

import (
	"saladict/pkg/browser"
	"saladict/pkg/stream"
)

// view carries the listener operations shared by concrete and union areas.
type view struct {
	o     *Observer
	scope Scope
}

func (v view) Scope() Scope { return v.scope }

// AddListener registers cb for every change in this view's area.
func (v view) AddListener(cb *browser.ChangeListener) {
	v.add("", cb)
}

// AddKeyListener registers cb for changes that include key.
func (v view) AddKeyListener(key string, cb *browser.ChangeListener) {
	v.add(key, cb)
}

// RemoveListener removes every registration of cb, in every area.
func (v view) RemoveListener(cb *browser.ChangeListener) {
	if cb == nil {
		panic("storage: nil listener")
	}
	events := v.o.st.OnChanged()
	wrappers := v.o.reg.TakeAll(cb, events.RemoveListener)
	if len(wrappers) == 0 {
		events.RemoveListener(cb)
		return
	}
	v.o.log.Debug("Change listener removed", "scopes", len(wrappers))
}

// RemoveKeyListener removes the registration of cb for key in this view's area.
func (v view) RemoveKeyListener(key string, cb *browser.ChangeListener) {
	if cb == nil {
		panic("storage: nil listener")
	}
	if key == "" {
		v.RemoveListener(cb)
		return
	}
	events := v.o.st.OnChanged()
	if _, ok := v.o.reg.Take(cb, scopeKey{scope: v.scope, key: key}, events.RemoveListener); ok {
		v.o.log.Debug("Change listener removed", "scope", v.scope, "key", key)
		return
	}
	events.RemoveListener(cb)
}

// Registered reports whether cb is registered for key in this view's area.
func (v view) Registered(key string, cb *browser.ChangeListener) bool {
	return v.o.reg.Has(cb, scopeKey{scope: v.scope, key: key})
}

// Stream yields the change of key each time it changes in this view's area.
func (v view) Stream(key string) (*stream.Stream[browser.Change], error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	return stream.FromEventPattern(
		func(l *browser.ChangeListener) { v.AddKeyListener(key, l) },
		func(l *browser.ChangeListener) { v.RemoveKeyListener(key, l) },
		func(emit func(browser.Change)) *browser.ChangeListener {
			return browser.NewChangeListener(func(changes browser.Changes, _ browser.AreaName) {
				if change, ok := changes[key]; ok {
					emit(change)
				}
			})
		},
	), nil
}

func (v view) add(key string, cb *browser.ChangeListener) {
	if cb == nil {
		panic("storage: nil listener")
	}
	_, created := v.o.reg.Ensure(cb, scopeKey{scope: v.scope, key: key}, func() *browser.ChangeListener {
		return v.wrap(key, cb)
	}, v.o.st.OnChanged().AddListener)
	if created {
		v.o.log.Debug("Change listener added", "scope", v.scope, "key", key)
	}
}

// wrap filters the host's area-wide change events down to this view's area
// and, when key is set, to events that touch key.
func (v view) wrap(key string, cb *browser.ChangeListener) *browser.ChangeListener {
	scope := v.scope
	return browser.NewChangeListener(func(changes browser.Changes, area browser.AreaName) {
		if scope != ScopeAll && Scope(area) != scope {
			return
		}
		if key != "" {
			if _, ok := changes[key]; !ok {
				return
			}
		}
		cb.Call(changes, area)
	})
}
