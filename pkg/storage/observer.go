// Package storage wraps the host key-value areas of one execution context.
// It adds scoped change listeners that only fire for the area and key they
// were registered for, and key streams built on top of them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"saladict/pkg/browser"
	"saladict/pkg/logger"
	"saladict/pkg/registry"
)

// ErrMissingKey is returned when a stream is requested without a key.
var ErrMissingKey = errors.New("storage: missing key")

// Scope selects which area a listener observes.
type Scope string

const (
	ScopeSync  Scope = Scope(browser.AreaSync)
	ScopeLocal Scope = Scope(browser.AreaLocal)
	// ScopeAll observes both areas.
	ScopeAll Scope = "all"
)

type scopeKey struct {
	scope Scope
	key   string
}

type Option func(*Observer)

func WithLogger(log *slog.Logger) Option {
	return func(o *Observer) {
		if log != nil {
			o.log = log
		}
	}
}

// Observer is the storage entry point of one execution context.
type Observer struct {
	st  browser.Storage
	log *slog.Logger
	reg *registry.Registry[*browser.ChangeListener, scopeKey, *browser.ChangeListener]

	sync  *Area
	local *Area
	all   *UnionArea
}

func New(st browser.Storage, opts ...Option) *Observer {
	o := &Observer{
		st:  st,
		log: logger.Discard(),
		reg: registry.New[*browser.ChangeListener, scopeKey, *browser.ChangeListener](),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "storage.observer")

	o.sync = &Area{view: view{o: o, scope: ScopeSync}, name: browser.AreaSync}
	o.local = &Area{view: view{o: o, scope: ScopeLocal}, name: browser.AreaLocal}
	o.all = &UnionArea{view: view{o: o, scope: ScopeAll}}
	return o
}

// Sync returns the synchronized area.
func (o *Observer) Sync() *Area { return o.sync }

// Local returns the device-local area.
func (o *Observer) Local() *Area { return o.local }

// All returns the union of both areas.
func (o *Observer) All() *UnionArea { return o.all }

// Area is one concrete storage area.
type Area struct {
	view
	name browser.AreaName
}

func (a *Area) Name() browser.AreaName { return a.name }

func (a *Area) host() browser.StorageArea {
	return a.o.st.Area(a.name)
}

// Get returns the raw values of keys, or of every key when none are given.
// Missing keys are absent from the result.
func (a *Area) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	items, err := a.host().Get(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", a.name, err)
	}
	return items, nil
}

// GetInto decodes the value stored under key into v. found is false when the
// key does not exist, in which case v is left untouched.
func (a *Area) GetInto(ctx context.Context, key string, v any) (found bool, err error) {
	items, err := a.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := items[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s.%s: %w", a.name, key, err)
	}
	return true, nil
}

func (a *Area) Set(ctx context.Context, items map[string]any) error {
	if err := a.host().Set(ctx, items); err != nil {
		return fmt.Errorf("set %s: %w", a.name, err)
	}
	return nil
}

func (a *Area) Remove(ctx context.Context, keys ...string) error {
	if err := a.host().Remove(ctx, keys...); err != nil {
		return fmt.Errorf("remove %s: %w", a.name, err)
	}
	return nil
}

func (a *Area) Clear(ctx context.Context) error {
	if err := a.host().Clear(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", a.name, err)
	}
	a.o.log.Debug("Area cleared", "area", a.name)
	return nil
}

// UnionArea is the view over both areas.
type UnionArea struct {
	view
}

// Clear clears both areas at the same time and returns once both are done.
// Change listeners of the two areas may therefore run concurrently with each
// other, so a listener registered on both must guard its own state.
func (u *UnionArea) Clear(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, area := range []*Area{u.o.local, u.o.sync} {
		g.Go(func() error {
			return area.Clear(ctx)
		})
	}
	return g.Wait()
}
