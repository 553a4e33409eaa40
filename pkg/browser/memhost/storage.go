package memhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"saladict/pkg/browser"
	"saladict/pkg/bus"
)

var areaNames = []browser.AreaName{browser.AreaSync, browser.AreaLocal}

type changeEvent struct {
	listenerSet[*browser.ChangeListener]
}

func (e *changeEvent) AddListener(l *browser.ChangeListener)      { e.add(l) }
func (e *changeEvent) RemoveListener(l *browser.ChangeListener)   { e.remove(l) }
func (e *changeEvent) HasListener(l *browser.ChangeListener) bool { return e.has(l) }

// ChangeListeners returns how many listeners the context has on storage.onChanged.
func (c *Context) ChangeListeners() int {
	return c.changes.len()
}

// storageState holds both areas for the whole profile.
type storageState struct {
	host *Host
	dir  string

	mu    sync.Mutex
	areas map[browser.AreaName]map[string]json.RawMessage
}

func newStorageState(h *Host, dir string) (*storageState, error) {
	s := &storageState{
		host:  h,
		dir:   dir,
		areas: make(map[browser.AreaName]map[string]json.RawMessage, len(areaNames)),
	}
	for _, name := range areaNames {
		s.areas[name] = make(map[string]json.RawMessage)
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	for _, name := range areaNames {
		data, err := os.ReadFile(s.pathFor(name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		items := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parse %s area: %w", name, err)
		}
		s.areas[name] = items
	}
	h.log.Debug("Storage loaded", "state_dir", dir)
	return s, nil
}

func (s *storageState) pathFor(area browser.AreaName) string {
	return filepath.Join(s.dir, string(area)+".json")
}

// save writes one area atomically. Callers hold s.mu.
func (s *storageState) save(area browser.AreaName) error {
	if s.dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.areas[area], "", "  ")
	if err != nil {
		return err
	}
	path := s.pathFor(area)
	tmp, err := os.CreateTemp(filepath.Dir(path), "area-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *storageState) get(area browser.AreaName, keys []string) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.areas[area]
	if len(keys) == 0 {
		return cloneItems(items)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if value, ok := items[key]; ok {
			out[key] = slices.Clone(value)
		}
	}
	return out
}

// mutate applies fn to a copy of the area, persists it and broadcasts the
// resulting changes. Keys whose value did not change are not reported.
func (s *storageState) mutate(area browser.AreaName, fn func(items map[string]json.RawMessage)) error {
	s.mu.Lock()
	before := s.areas[area]
	after := cloneItems(before)
	fn(after)

	changes := diff(before, after)
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.areas[area] = after
	if err := s.save(area); err != nil {
		s.areas[area] = before
		s.mu.Unlock()
		return fmt.Errorf("persist %s area: %w", area, err)
	}
	s.mu.Unlock()

	s.dispatch(area, changes)
	return nil
}

func (s *storageState) dispatch(area browser.AreaName, changes browser.Changes) {
	keys := slices.Sorted(maps.Keys(changes))
	s.host.log.Debug("Storage changed", "area", area, "keys", keys)
	s.host.publish(bus.Event{Type: bus.EventStorageChanged, Area: string(area), Keys: keys})

	contexts := s.host.snapshot(func(*Context) bool { return true })
	for _, c := range contexts {
		for _, listener := range c.changes.snapshot() {
			listener.Call(cloneChanges(changes), area)
		}
	}
}

func diff(before, after map[string]json.RawMessage) browser.Changes {
	changes := make(browser.Changes)
	for key, oldValue := range before {
		newValue, ok := after[key]
		if !ok {
			changes[key] = browser.Change{OldValue: slices.Clone(oldValue)}
			continue
		}
		if !bytes.Equal(oldValue, newValue) {
			changes[key] = browser.Change{OldValue: slices.Clone(oldValue), NewValue: slices.Clone(newValue)}
		}
	}
	for key, newValue := range after {
		if _, ok := before[key]; !ok {
			changes[key] = browser.Change{NewValue: slices.Clone(newValue)}
		}
	}
	return changes
}

func cloneItems(items map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(items))
	for key, value := range items {
		out[key] = slices.Clone(value)
	}
	return out
}

func cloneChanges(changes browser.Changes) browser.Changes {
	out := make(browser.Changes, len(changes))
	for key, change := range changes {
		out[key] = browser.Change{
			OldValue: slices.Clone(change.OldValue),
			NewValue: slices.Clone(change.NewValue),
		}
	}
	return out
}

type storageAPI struct {
	c *Context
}

func (s storageAPI) Area(name browser.AreaName) browser.StorageArea {
	return areaAPI{state: s.c.host.storage, name: name}
}

func (s storageAPI) OnChanged() browser.ChangeEvent {
	return s.c.changes
}

type areaAPI struct {
	state *storageState
	name  browser.AreaName
}

func (a areaAPI) check(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !slices.Contains(areaNames, a.name) {
		return fmt.Errorf("unknown storage area %q", a.name)
	}
	return nil
}

func (a areaAPI) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}
	return a.state.get(a.name, keys), nil
}

func (a areaAPI) Set(ctx context.Context, items map[string]any) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	encoded := make(map[string]json.RawMessage, len(items))
	for key, value := range items {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		encoded[key] = raw
	}
	return a.state.mutate(a.name, func(current map[string]json.RawMessage) {
		maps.Copy(current, encoded)
	})
}

func (a areaAPI) Remove(ctx context.Context, keys ...string) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	return a.state.mutate(a.name, func(current map[string]json.RawMessage) {
		for _, key := range keys {
			delete(current, key)
		}
	})
}

func (a areaAPI) Clear(ctx context.Context) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	return a.state.mutate(a.name, func(current map[string]json.RawMessage) {
		clear(current)
	})
}
