package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

type Registry struct {
	manifestPath string

	mu        sync.Mutex
	entries   map[string]Entry
	available map[string]bool
	listeners []func(audio.DeviceEvent)
}

func NewRegistry(manifestPath string) (*Registry, error) {
	manifestPath = filepath.Clean(manifestPath)
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		manifestPath: manifestPath,
		entries:      make(map[string]Entry),
		available:    make(map[string]bool),
	}
	for _, e := range m.Devices {
		r.entries[e.ID] = e
		r.available[e.ID] = pathExists(e.Path)
	}
	return r, nil
}

func (r *Registry) EnumerateInputs() ([]audio.DeviceHandle, error) {
	return r.enumerate(audio.DeviceKindInput), nil
}

func (r *Registry) EnumerateOutputs() ([]audio.DeviceHandle, error) {
	return r.enumerate(audio.DeviceKindOutput), nil
}

func (r *Registry) enumerate(kind audio.DeviceKind) []audio.DeviceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audio.DeviceHandle
	for id, e := range r.entries {
		if e.Kind == kind && r.available[id] {
			out = append(out, e.Handle())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Lookup(id string) (audio.DeviceHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return audio.DeviceHandle{}, false
	}
	return e.Handle(), true
}

func (r *Registry) IsAvailable(h audio.DeviceHandle) bool {
	r.mu.Lock()
	e, ok := r.entries[h.ID]
	r.mu.Unlock()
	if !ok || (h.Kind != "" && h.Kind != e.Kind) {
		return false
	}
	return pathExists(e.Path)
}

func (r *Registry) Open(ctx context.Context, h audio.DeviceHandle) (audio.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	e, ok := r.entries[h.ID]
	r.mu.Unlock()
	if !ok || !pathExists(e.Path) {
		return nil, fmt.Errorf("%w: %s", audio.ErrDeviceUnavailable, h.ID)
	}
	switch e.Driver {
	case DriverOpus:
		return openOpusDevice(e)
	default:
		return openPCMDevice(e)
	}
}

func (r *Registry) OnChange(fn func(audio.DeviceEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) Watch(ctx context.Context) error {
	watcher, watched, err := r.openWatcher()
	if err != nil {
		return err
	}
	return r.watchLoop(ctx, watcher, watched)
}

func (r *Registry) openWatcher() (*fsnotify.Watcher, map[string]bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("create device watcher: %w", err)
	}
	watched := make(map[string]bool)
	r.addWatches(watcher, watched)
	slog.Info("device watcher started", "manifest", r.manifestPath, "watched_dirs", len(watched))
	return watcher, watched, nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, watched map[string]bool) error {
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("failed to close device watcher", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event.Name) {
				continue
			}
			if event.Name == r.manifestPath {
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				r.reloadManifest()
				r.addWatches(watcher, watched)
			}
			r.rescan()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("device watcher error", "error", err)
		}
	}
}

func (r *Registry) addWatches(watcher *fsnotify.Watcher, watched map[string]bool) {
	dirs := []string{filepath.Dir(r.manifestPath)}
	r.mu.Lock()
	for _, e := range r.entries {
		dirs = append(dirs, filepath.Dir(e.Path))
	}
	r.mu.Unlock()
	for _, dir := range dirs {
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			slog.Warn("failed to watch device directory", "dir", dir, "error", err)
			continue
		}
		watched[dir] = true
	}
}

func (r *Registry) relevant(name string) bool {
	if name == r.manifestPath {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Path == name {
			return true
		}
	}
	return false
}

// reloadManifest keeps the previous entries when the new manifest does not
// parse, so a half-written file does not drop every device.
func (r *Registry) reloadManifest() {
	m, err := LoadManifest(r.manifestPath)
	if err != nil {
		slog.Warn("ignoring unreadable device manifest", "path", r.manifestPath, "error", err)
		return
	}
	entries := make(map[string]Entry, len(m.Devices))
	for _, e := range m.Devices {
		entries[e.ID] = e
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

func (r *Registry) rescan() {
	r.mu.Lock()
	var events []audio.DeviceEvent
	next := make(map[string]bool, len(r.entries))
	for id, e := range r.entries {
		now := pathExists(e.Path)
		next[id] = now
		if now && !r.available[id] {
			events = append(events, audio.DeviceEvent{Kind: audio.DeviceAdded, Handle: e.Handle()})
		}
	}
	for id, was := range r.available {
		if !was || next[id] {
			continue
		}
		h := audio.DeviceHandle{ID: id}
		if e, ok := r.entries[id]; ok {
			h = e.Handle()
		}
		events = append(events, audio.DeviceEvent{Kind: audio.DeviceRemoved, Handle: h})
	}
	r.available = next
	listeners := append([]func(audio.DeviceEvent){}, r.listeners...)
	r.mu.Unlock()

	for _, ev := range events {
		slog.Info("device availability changed", "device_id", ev.Handle.ID, "added", ev.Kind == audio.DeviceAdded)
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
