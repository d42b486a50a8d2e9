// Package conflict watches the host directories of session sandboxes and
// reports files that more than one session modified.
package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/warren/internal/event"
	"github.com/Iron-Ham/warren/internal/logging"
)

// DefaultDebounce collapses the bursts of events editors and tools emit for
// a single save.
const DefaultDebounce = 50 * time.Millisecond

// Overlap is a file modified by more than one session.
type Overlap struct {
	RelativePath string
	SessionIDs   []string
	LastModified time.Time
}

// Options configures a Detector.
type Options struct {
	// Bus receives a FileOverlapEvent whenever a path gains a session. Optional.
	Bus      *event.Bus
	Logger   *logging.Logger
	Debounce time.Duration
	// Ignore lists path components that are never tracked.
	Ignore []string
}

// Detector watches session directories for overlapping modifications.
type Detector struct {
	watcher  *fsnotify.Watcher
	bus      *event.Bus
	logger   *logging.Logger
	debounce time.Duration
	ignore   []string

	mu sync.RWMutex
	// session id -> watched root
	sessions map[string]string
	// relative path -> session id -> last modification
	modifications map[string]map[string]time.Time
	// relative path -> number of sessions last reported
	reported map[string]int

	subs     []string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a detector. Call Start to begin processing events.
func New(opts Options) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = []string{".git", ".warren", "node_modules", ".DS_Store"}
	}
	return &Detector{
		watcher:       watcher,
		bus:           opts.Bus,
		logger:        opts.Logger.WithComponent("conflict"),
		debounce:      opts.Debounce,
		ignore:        opts.Ignore,
		sessions:      make(map[string]string),
		modifications: make(map[string]map[string]time.Time),
		reported:      make(map[string]int),
		stopCh:        make(chan struct{}),
	}, nil
}

// Attach follows sandbox lifecycle events on bus: sandboxes with a host path
// are watched once ready and forgotten when their session closes.
func (d *Detector) Attach(bus *event.Bus) {
	ready := bus.Subscribe(event.TypeSandboxReady, func(e event.Event) {
		ev, ok := e.(event.SandboxReadyEvent)
		if !ok || ev.HostPath == "" {
			return
		}
		if err := d.AddSession(ev.SessionID, ev.HostPath); err != nil {
			d.logger.Warn("failed to watch sandbox", "session_id", ev.SessionID, "error", err.Error())
		}
	})
	closed := bus.Subscribe(event.TypeSessionClosed, func(e event.Event) {
		d.RemoveSession(event.SessionOf(e))
	})

	d.mu.Lock()
	d.subs = append(d.subs, ready, closed)
	if d.bus == nil {
		d.bus = bus
	}
	d.mu.Unlock()
}

// AddSession starts watching root on behalf of a session.
func (d *Detector) AddSession(sessionID, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("sandbox path does not exist: %s", root)
		}
		return fmt.Errorf("failed to stat sandbox path %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sandbox path is not a directory: %s", root)
	}
	root = filepath.Clean(root)

	d.mu.Lock()
	d.sessions[sessionID] = root
	d.mu.Unlock()

	d.watchRecursive(root)
	d.logger.Debug("watching sandbox", "session_id", sessionID, "path", root)
	return nil
}

// watchRecursive adds root and every directory below it that is not ignored.
func (d *Detector) watchRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && d.ignored(entry.Name()) {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(path); err != nil {
			d.logger.Debug("failed to watch directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

// RemoveSession stops tracking a session. Overlaps it took part in are
// recalculated without it.
func (d *Detector) RemoveSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	root, ok := d.sessions[sessionID]
	if !ok {
		return
	}
	delete(d.sessions, sessionID)
	for _, path := range d.watcher.WatchList() {
		if within(root, path) {
			_ = d.watcher.Remove(path)
		}
	}
	for rel, sessions := range d.modifications {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(d.modifications, rel)
		}
		if len(sessions) < 2 {
			delete(d.reported, rel)
		}
	}
}

// Start begins processing filesystem events.
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.watchLoop()
}

// Stop releases the watcher. It may be called more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		subs, bus := d.subs, d.bus
		d.subs = nil
		d.mu.Unlock()
		for _, id := range subs {
			bus.Unsubscribe(id)
		}
		close(d.stopCh)
		_ = d.watcher.Close()
		d.wg.Wait()
	})
}

func (d *Detector) watchLoop() {
	defer d.wg.Done()

	timer := time.NewTimer(d.debounce)
	timer.Stop()
	pending := make(map[string]fsnotify.Event)

	for {
		select {
		case <-d.stopCh:
			timer.Stop()
			return

		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[ev.Name] = ev
			timer.Reset(d.debounce)

		case <-timer.C:
			batch := pending
			pending = make(map[string]fsnotify.Event)
			d.handleBatch(batch)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("file watcher error", "error", err.Error())
		}
	}
}

func (d *Detector) handleBatch(batch map[string]fsnotify.Event) {
	var overlaps []Overlap

	d.mu.Lock()
	for _, ev := range batch {
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && d.tracked(ev.Name) {
				d.mu.Unlock()
				d.watchRecursive(ev.Name)
				d.mu.Lock()
				continue
			}
		}
		if o, ok := d.record(ev.Name); ok {
			overlaps = append(overlaps, o)
		}
	}
	bus := d.bus
	d.mu.Unlock()

	for _, o := range overlaps {
		d.logger.Warn("file modified by multiple sessions",
			"path", o.RelativePath,
			"sessions", strings.Join(o.SessionIDs, ","))
		if bus != nil {
			bus.Publish(event.NewFileOverlapEvent(o.RelativePath, o.SessionIDs))
		}
	}
}

// record tracks a modification of path and reports whether it made a new
// overlap, or added a session to an existing one. d.mu must be held.
func (d *Detector) record(path string) (Overlap, bool) {
	sessionID, rel := d.owner(path)
	if sessionID == "" || d.ignoredPath(rel) {
		return Overlap{}, false
	}

	sessions := d.modifications[rel]
	if sessions == nil {
		sessions = make(map[string]time.Time)
		d.modifications[rel] = sessions
	}
	sessions[sessionID] = time.Now()

	if len(sessions) < 2 || d.reported[rel] >= len(sessions) {
		return Overlap{}, false
	}
	d.reported[rel] = len(sessions)
	return overlapOf(rel, sessions), true
}

// owner finds the session whose root contains path.
func (d *Detector) owner(path string) (string, string) {
	for id, root := range d.sessions {
		if within(root, path) && path != root {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				continue
			}
			return id, filepath.ToSlash(rel)
		}
	}
	return "", ""
}

func (d *Detector) ignored(name string) bool {
	return slices.Contains(d.ignore, name)
}

// tracked reports whether path lies in a session root and is not ignored.
// d.mu must be held.
func (d *Detector) tracked(path string) bool {
	sessionID, rel := d.owner(path)
	return sessionID != "" && !d.ignoredPath(rel)
}

// ignoredPath checks a path relative to a session root, so ignored names in
// the location of the root itself do not matter.
func (d *Detector) ignoredPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if d.ignored(part) {
			return true
		}
	}
	return false
}

// Overlaps returns the current overlaps sorted by path.
func (d *Detector) Overlaps() []Overlap {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []Overlap
	for rel, sessions := range d.modifications {
		if len(sessions) > 1 {
			result = append(result, overlapOf(rel, sessions))
		}
	}
	slices.SortFunc(result, func(a, b Overlap) int { return strings.Compare(a.RelativePath, b.RelativePath) })
	return result
}

// ModifiedBy returns the paths a session modified, sorted.
func (d *Detector) ModifiedBy(sessionID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var files []string
	for rel, sessions := range d.modifications {
		if _, ok := sessions[sessionID]; ok {
			files = append(files, rel)
		}
	}
	slices.Sort(files)
	return files
}

// Forget drops modifications older than maxAge.
func (d *Detector) Forget(maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for rel, sessions := range d.modifications {
		for id, at := range sessions {
			if at.Before(cutoff) {
				delete(sessions, id)
			}
		}
		if len(sessions) == 0 {
			delete(d.modifications, rel)
		}
		if len(sessions) < 2 {
			delete(d.reported, rel)
		}
	}
}

func overlapOf(rel string, sessions map[string]time.Time) Overlap {
	o := Overlap{RelativePath: rel}
	for id, at := range sessions {
		o.SessionIDs = append(o.SessionIDs, id)
		if at.After(o.LastModified) {
			o.LastModified = at
		}
	}
	slices.Sort(o.SessionIDs)
	return o
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
