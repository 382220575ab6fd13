package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// NamePrefix is the well-known namespace identifying media-player
// endpoints among all bus names.
const NamePrefix = "org.mpris.MediaPlayer2."

// MPRIS object path and interfaces shared across the module
const (
	ObjectPath      = "/org/mpris/MediaPlayer2"
	RootInterface   = "org.mpris.MediaPlayer2"
	PlayerInterface = "org.mpris.MediaPlayer2.Player"

	// NameOwnerChangedSignal is consumed by the watcher itself
	NameOwnerChangedSignal = "org.freedesktop.DBus.NameOwnerChanged"
	// PropertiesChangedSignal and SeekedSignal are forwarded on
	// Signals() for per-player routing
	PropertiesChangedSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
	SeekedSignal            = PlayerInterface + ".Seeked"
)

// EventKind identifies a watcher lifecycle event
type EventKind int

const (
	// PlayerAppeared reports a new endpoint owner for a matching name
	PlayerAppeared EventKind = iota
	// PlayerVanished reports that a matching name lost its owner
	PlayerVanished
	// OwnerTransferred reports that a matching name moved to a new
	// unique owner without disappearing
	OwnerTransferred
)

// Event is a single endpoint lifecycle notification
type Event struct {
	Kind EventKind
	// Name is the well-known bus name (prefix included)
	Name string
	// Owner is the current unique owner, empty for PlayerVanished
	Owner string
}

// Watcher observes appearance and disappearance of media-player
// endpoints on the bus. It owns the connection's signal channel:
// NameOwnerChanged signals become lifecycle events, everything else
// (PropertiesChanged, Seeked) is forwarded untouched on Signals() for
// per-player routing by the owner.
type Watcher struct {
	logger *zap.Logger
	conn   Client

	events  chan Event
	signals chan *dbus.Signal
	raw     chan *dbus.Signal

	mu              sync.Mutex
	known           map[string]string // well-known name -> unique owner
	lastDropWarning time.Time

	initial []Event
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher on the given bus connection
func NewWatcher(conn Client, logger *zap.Logger) *Watcher {
	return &Watcher{
		logger:  logger,
		conn:    conn,
		events:  make(chan Event, 16),
		signals: make(chan *dbus.Signal, 32),
		raw:     make(chan *dbus.Signal, 32),
		known:   make(map[string]string),
	}
}

// Start subscribes to the bus and enumerates currently present
// endpoints. Enumeration failures are fatal: the watcher produces no
// events afterwards. Start returns once the signal pump is running.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return fmt.Errorf("failed to match NameOwnerChanged: %w", err)
	}

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("failed to match PropertiesChanged: %w", err)
	}

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(PlayerInterface),
		dbus.WithMatchMember("Seeked"),
	); err != nil {
		// Not every player emits Seeked; polling still covers position.
		w.logger.Warn("Failed to match Seeked signal", zap.Error(err))
	}

	if err := w.enumerate(); err != nil {
		return err
	}

	w.conn.Signal(w.raw)

	// ctx covers the init phase only; the pump outlives it until Stop.
	pumpCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.pump(pumpCtx)

	w.logger.Info("Bus watcher started", zap.Int("players", len(w.initial)))
	return nil
}

// Stop unsubscribes from the bus and shuts the pump down. The events
// and signals channels are closed once the pump has exited.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.conn.RemoveSignal(w.raw)
	w.wg.Wait()
	close(w.events)
	close(w.signals)
	w.logger.Info("Bus watcher stopped")
}

// Events returns the endpoint lifecycle stream
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Signals returns the forwarded per-player signal stream
func (w *Watcher) Signals() <-chan *dbus.Signal {
	return w.signals
}

// enumerate queries the bus for endpoints already present at startup.
// Matching names are recorded and queued as PlayerAppeared events,
// emitted by the pump before any live signal is processed.
func (w *Watcher) enumerate() error {
	names, err := w.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, NamePrefix) {
			continue
		}
		owner, err := w.conn.GetNameOwner(name)
		if err != nil {
			// Vanished between ListNames and here; not an error.
			w.logger.Debug("Endpoint vanished during enumeration", zap.String("name", name))
			continue
		}
		w.known[name] = owner
		w.initial = append(w.initial, Event{Kind: PlayerAppeared, Name: name, Owner: owner})
		w.logger.Info("Detected media player", zap.String("name", name), zap.String("owner", owner))
	}
	return nil
}

// pump delivers the initial enumeration, then translates bus signals
// into lifecycle events and forwarded player signals.
func (w *Watcher) pump(ctx context.Context) {
	defer w.wg.Done()

	for _, ev := range w.initial {
		select {
		case w.events <- ev:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-w.raw:
			if sig == nil {
				continue
			}
			if sig.Name == NameOwnerChangedSignal {
				w.handleNameOwnerChanged(ctx, sig)
			} else {
				w.forward(sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks endpoint lifecycle transitions.
// Duplicate transitions are harmless: adding a known name or removing
// an unknown one is a no-op.
func (w *Watcher) handleNameOwnerChanged(ctx context.Context, sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, NamePrefix) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	w.mu.Lock()
	_, exists := w.known[name]
	var ev *Event
	switch {
	case newOwner != "" && oldOwner == "":
		if !exists {
			w.known[name] = newOwner
			ev = &Event{Kind: PlayerAppeared, Name: name, Owner: newOwner}
		}
	case newOwner == "" && oldOwner != "":
		if exists {
			delete(w.known, name)
			ev = &Event{Kind: PlayerVanished, Name: name}
		}
	case newOwner != "" && oldOwner != "":
		w.known[name] = newOwner
		if exists {
			ev = &Event{Kind: OwnerTransferred, Name: name, Owner: newOwner}
		} else {
			ev = &Event{Kind: PlayerAppeared, Name: name, Owner: newOwner}
		}
	}
	w.mu.Unlock()

	if ev == nil {
		return
	}

	w.logger.Info("Media player lifecycle change",
		zap.String("name", name),
		zap.String("oldOwner", oldOwner),
		zap.String("newOwner", newOwner))

	select {
	case w.events <- *ev:
	case <-ctx.Done():
	}
}

// forward hands a non-lifecycle signal to the consumer. Property
// signals are droppable under backpressure; the consumer re-reads
// state on the next update anyway.
func (w *Watcher) forward(sig *dbus.Signal) {
	select {
	case w.signals <- sig:
	default:
		w.logDropWarning()
	}
}

// logDropWarning logs a signal drop, rate-limited to avoid spam during
// rapid track skipping.
func (w *Watcher) logDropWarning() {
	w.mu.Lock()
	defer w.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(w.lastDropWarning) >= warningInterval {
		w.logger.Warn("Signal channel full, dropping player signal (consumer may be slow)")
		w.lastDropWarning = now
	}
}
