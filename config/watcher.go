package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/najoast/msgbus/logging"
)

var log = logging.New("config")

// ChangeCallback is invoked after a successful hot-reload with the
// previous and updated configuration.
type ChangeCallback func(old, updated *BusConfig)

// Watcher reloads DefaultReplyTimeout and PingInterval from a YAML
// file on disk using fsnotify plus a debounce window, and fires
// ChangeCallback on either one changing. Of the two, only
// DefaultReplyTimeout has a live consumer today (cmd/eventbusd wires
// it to EventBus.SetDefaultReplyTimeout); a reloaded PingInterval is
// held in Config() but not yet applied to a running transport.Pool.
// Every other field requires a process restart to take effect, since
// it's read once at bus construction (listener bind address, public
// NodeID override).
type Watcher struct {
	path   string
	loader *Loader

	mu     sync.RWMutex
	config *BusConfig

	callbacksMu sync.RWMutex
	callbacks   []ChangeCallback

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher loads path once and prepares a Watcher for it. Call Start
// to begin watching for changes.
func NewWatcher(path string, loader *Loader) (*Watcher, error) {
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:      path,
		loader:    loader,
		config:    cfg,
		fsWatcher: fsw,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the underlying file for writes.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.path); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// Config returns the current, hot-reloaded configuration.
func (w *Watcher) Config() *BusConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback fired after each successful reload.
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var debounce *time.Timer
	const debounceWindow = 250 * time.Millisecond

	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.WithField("err", err).Error("config watch error")
		}
	}
}

// reload re-reads the file and, if DefaultReplyTimeout or PingInterval
// changed, swaps them into the held config and fires callbacks — it's
// up to the callback to decide what to do with each field; see the
// Watcher doc comment on PingInterval's lack of a live consumer. Every
// other field change is ignored until restart.
func (w *Watcher) reload() {
	next, err := w.loader.Load(w.path)
	if err != nil {
		log.WithField("err", err).Error("config reload failed, keeping previous config")
		return
	}

	w.mu.Lock()
	old := w.config
	updated := old.Clone()
	updated.DefaultReplyTimeout = next.DefaultReplyTimeout
	updated.PingInterval = next.PingInterval
	w.config = updated
	w.mu.Unlock()

	if updated.DefaultReplyTimeout == old.DefaultReplyTimeout && updated.PingInterval == old.PingInterval {
		return
	}

	log.WithField("path", w.path).Info("config hot-reloaded")

	w.callbacksMu.RLock()
	callbacks := make([]ChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		cb(old, updated)
	}
}
