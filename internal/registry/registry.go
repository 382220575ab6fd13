package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/genricoloni/mpriswatch/internal/bus"
	"github.com/genricoloni/mpriswatch/internal/domain"
	"github.com/genricoloni/mpriswatch/internal/player"
)

// Registry owns the collection of player proxies. It watches the bus
// for endpoint lifecycle changes, routes per-player signals to the
// owning proxy and aggregates their change notifications into a single
// event stream. Pure position updates are excluded from the stream to
// keep per-second poll traffic away from UI observers.
//
// A Registry is an explicitly constructed instance; there is no
// process-wide singleton.
type Registry struct {
	logger       *zap.Logger
	conn         bus.Client
	art          domain.ArtResolver
	pollInterval time.Duration

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	watcher         *bus.Watcher
	players         map[string]*player.Player // well-known name -> proxy
	owners          map[string]string         // unique owner -> well-known name
	coverCache      bool
	lastDropWarning time.Time

	events chan domain.Event
	wg     sync.WaitGroup
}

// New creates a registry on the given bus connection. Cover-art
// caching is enabled by default; art may be nil to disable it
// entirely.
func New(logger *zap.Logger, conn bus.Client, art domain.ArtResolver, pollInterval time.Duration) *Registry {
	if pollInterval <= 0 {
		pollInterval = player.DefaultPollInterval
	}
	return &Registry{
		logger:       logger,
		conn:         conn,
		art:          art,
		pollInterval: pollInterval,
		players:      make(map[string]*player.Player),
		owners:       make(map[string]string),
		coverCache:   true,
		events:       make(chan domain.Event, 32),
	}
}

// Start begins watching the bus. A watcher initialization failure is
// fatal: no player functionality is available afterwards.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.watcher = bus.NewWatcher(r.conn, r.logger)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.watcher.Start(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("bus watcher initialization failed: %w", err)
	}

	r.wg.Add(1)
	go r.run(runCtx)

	r.logger.Info("Player registry started")
	return nil
}

// Stop tears the registry down: the event loop exits, every proxy is
// closed (emitting its removal), then the event stream is closed.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
	watcher := r.watcher
	r.mu.Unlock()

	r.wg.Wait()
	if watcher != nil {
		watcher.Stop()
	}

	r.mu.Lock()
	remaining := make([]*player.Player, 0, len(r.players))
	for _, p := range r.players {
		remaining = append(remaining, p)
	}
	r.players = make(map[string]*player.Player)
	r.owners = make(map[string]string)
	r.mu.Unlock()

	for _, p := range remaining {
		p.Close()
	}
	close(r.events)

	r.logger.Info("Player registry stopped")
	return nil
}

// Events returns the aggregate notification stream
func (r *Registry) Events() <-chan domain.Event {
	return r.events
}

// GetPlayer returns the first live proxy whose well-known name
// contains fragment as a substring. Lookup order is the sorted name
// order, so results are deterministic.
func (r *Registry) GetPlayer(fragment string) (*player.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.sortedNamesLocked() {
		if strings.Contains(name, fragment) {
			return r.players[name], true
		}
	}
	return nil, false
}

// Players returns a snapshot of all live proxies, sorted by name.
// Order carries no meaning but is stable within a snapshot.
func (r *Registry) Players() []*player.Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*player.Player, 0, len(r.players))
	for _, name := range r.sortedNamesLocked() {
		out = append(out, r.players[name])
	}
	return out
}

// PlayerState returns a state snapshot for the player with the given
// well-known name
func (r *Registry) PlayerState(name string) (domain.PlayerState, bool) {
	r.mu.RLock()
	p, ok := r.players[name]
	r.mu.RUnlock()
	if !ok {
		return domain.PlayerState{}, false
	}
	return p.Snapshot(), true
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.players))
	for name := range r.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetCoverCache toggles cover-art caching for all proxies. Already
// resolved paths are kept; only new resolutions are gated.
func (r *Registry) SetCoverCache(enabled bool) {
	r.mu.Lock()
	r.coverCache = enabled
	r.mu.Unlock()
	r.logger.Info("Cover art caching toggled", zap.Bool("enabled", enabled))
}

// CoverCacheEnabled reports whether cover-art caching is on
func (r *Registry) CoverCacheEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coverCache
}

// run is the registry event loop: watcher lifecycle events create and
// destroy proxies, forwarded signals are routed to the owning proxy.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			r.handleLifecycle(ev)
		case sig, ok := <-r.watcher.Signals():
			if !ok {
				return
			}
			r.routeSignal(sig)
		}
	}
}

func (r *Registry) handleLifecycle(ev bus.Event) {
	switch ev.Kind {
	case bus.PlayerAppeared:
		r.addPlayer(ev.Name, ev.Owner)
	case bus.PlayerVanished:
		r.removePlayer(ev.Name)
	case bus.OwnerTransferred:
		r.reindex(ev.Name, ev.Owner)
	}
}

// addPlayer constructs a proxy for a newly appeared endpoint. Adding
// an already-known name is a no-op; a failed construction means the
// endpoint vanished between discovery and fetch and is treated as a
// removal, not surfaced as an error.
func (r *Registry) addPlayer(name, owner string) {
	r.mu.RLock()
	_, exists := r.players[name]
	r.mu.RUnlock()
	if exists {
		r.logger.Debug("Ignoring duplicate player appearance", zap.String("player", name))
		return
	}

	p, err := player.New(player.Options{
		Conn:         r.conn,
		Name:         name,
		Owner:        owner,
		Logger:       r.logger,
		PollInterval: r.pollInterval,
		Art:          r.art,
		ArtEnabled:   r.CoverCacheEnabled,
		OnChange:     r.playerChanged,
		OnClosed:     r.playerClosed,
	})
	if err != nil {
		r.logger.Debug("Player vanished before initial fetch",
			zap.String("player", name),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	r.players[name] = p
	r.owners[owner] = name
	r.mu.Unlock()

	r.emit(domain.EventPlayerAdded, name)
	r.emit(domain.EventChanged, name)
}

// removePlayer destroys the proxy for a vanished endpoint. Removing an
// unknown name is a no-op.
func (r *Registry) removePlayer(name string) {
	r.mu.Lock()
	p, ok := r.players[name]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Ignoring removal of unknown player", zap.String("player", name))
		return
	}
	delete(r.players, name)
	for owner, owned := range r.owners {
		if owned == name {
			delete(r.owners, owner)
		}
	}
	r.mu.Unlock()

	// Close emits the proxy's closed notification, which surfaces as
	// the player-removed event via playerClosed.
	p.Close()
	r.emit(domain.EventChanged, name)
}

// reindex moves a proxy to a new unique owner after a name transfer.
// An unknown name is treated as an appearance.
func (r *Registry) reindex(name, newOwner string) {
	r.mu.Lock()
	p, ok := r.players[name]
	if !ok {
		r.mu.Unlock()
		r.addPlayer(name, newOwner)
		return
	}
	for owner, owned := range r.owners {
		if owned == name {
			delete(r.owners, owner)
		}
	}
	r.owners[newOwner] = name
	r.mu.Unlock()

	p.SetOwner(newOwner)
	r.logger.Debug("Player ownership transferred",
		zap.String("player", name),
		zap.String("newOwner", newOwner))
}

// routeSignal dispatches a forwarded bus signal to the proxy owned by
// the sending unique name. Signals from unknown senders are dropped.
func (r *Registry) routeSignal(sig *dbus.Signal) {
	r.mu.RLock()
	name, ok := r.owners[sig.Sender]
	var p *player.Player
	if ok {
		p = r.players[name]
	}
	r.mu.RUnlock()
	if p == nil {
		return
	}

	switch sig.Name {
	case bus.PropertiesChangedSignal:
		if len(sig.Body) < 2 {
			return
		}
		iface, ok := sig.Body[0].(string)
		if !ok {
			return
		}
		props, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		p.HandlePropertiesChanged(iface, props)
	case bus.SeekedSignal:
		if len(sig.Body) < 1 {
			return
		}
		if us, ok := sig.Body[0].(int64); ok {
			p.HandleSeeked(time.Duration(us) * time.Microsecond)
		}
	}
}

// playerChanged is the per-proxy change callback. Pure position
// updates are suppressed from the aggregate stream; position stays
// observable through PlayerState snapshots.
func (r *Registry) playerChanged(name string, positionOnly bool) {
	if positionOnly {
		return
	}
	r.emit(domain.EventPlayerChanged, name)
	r.emit(domain.EventChanged, name)
}

// playerClosed is the per-proxy teardown callback
func (r *Registry) playerClosed(name string) {
	r.emit(domain.EventPlayerRemoved, name)
}

// emit delivers an event without ever blocking a proxy callback.
// Dropped events only matter to slow consumers, which re-read
// snapshots on the next event anyway.
func (r *Registry) emit(kind domain.EventKind, name string) {
	select {
	case r.events <- domain.Event{Kind: kind, Player: name}:
	default:
		r.logDropWarning()
	}
}

// logDropWarning is rate-limited to avoid log spam during rapid track
// changes.
func (r *Registry) logDropWarning() {
	r.mu.Lock()
	defer r.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(r.lastDropWarning) >= warningInterval {
		r.logger.Warn("Event channel full, dropping registry event (consumer may be slow)")
		r.lastDropWarning = now
	}
}
