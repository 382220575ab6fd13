package player

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/genricoloni/mpriswatch/internal/bus"
	"github.com/genricoloni/mpriswatch/internal/domain"
)

// DefaultPollInterval is the position refresh period while playing
const DefaultPollInterval = time.Second

const artResolveTimeout = 30 * time.Second

// Options configures a Player
type Options struct {
	// Conn is the bus connection the proxy talks through
	Conn bus.Client
	// Name is the well-known endpoint name (prefix included)
	Name string
	// Owner is the unique bus name currently owning Name
	Owner string
	// Logger for the proxy; never nil after New
	Logger *zap.Logger
	// PollInterval overrides the position refresh period (0 = default)
	PollInterval time.Duration
	// Art resolves cover URLs to cached paths; nil disables caching
	Art domain.ArtResolver
	// ArtEnabled gates Art at resolution time; nil means always on
	ArtEnabled func() bool
	// OnChange is invoked after any state mutation. positionOnly is
	// true when nothing but the playback position moved.
	OnChange func(name string, positionOnly bool)
	// OnClosed is invoked exactly once, before the proxy goes inert
	OnClosed func(name string)
}

// Player mirrors one media-player endpoint into a local observable
// object. All attributes are populated by a bulk fetch on construction
// and mutated on property-change signals and position-poll ticks.
type Player struct {
	logger       *zap.Logger
	conn         bus.Client
	name         string
	pollInterval time.Duration
	art          domain.ArtResolver
	artEnabled   func() bool
	onChange     func(name string, positionOnly bool)
	onClosed     func(name string)

	mu       sync.RWMutex
	closed   bool
	owner    string
	state    domain.PlayerState
	lastSeek time.Time

	pollReset chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// New constructs a proxy for the given endpoint and performs the
// initial full property fetch. A fetch failure means the endpoint
// vanished between discovery and construction; the caller must treat
// the error as a removal, not a user-visible fault.
func New(opts Options) (*Player, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p := &Player{
		logger:       logger,
		conn:         opts.Conn,
		name:         opts.Name,
		pollInterval: interval,
		art:          opts.Art,
		artEnabled:   opts.ArtEnabled,
		onChange:     opts.OnChange,
		onClosed:     opts.OnClosed,
		owner:        opts.Owner,
		pollReset:    make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	p.state.Name = opts.Name
	p.state.ShortName = strings.TrimPrefix(opts.Name, bus.NamePrefix)
	p.state.Shuffle = domain.ShuffleUnsupported
	p.state.Loop = domain.LoopUnsupported

	props, err := p.conn.GetAll(p.name, bus.ObjectPath, bus.PlayerInterface)
	if err != nil {
		return nil, fmt.Errorf("initial property fetch for %s failed: %w", p.name, err)
	}
	p.applyProperties(props)

	// Identity lives on the root interface; some players answer GetAll
	// only for the Player interface, so this fetch is best-effort.
	if rootProps, err := p.conn.GetAll(p.name, bus.ObjectPath, bus.RootInterface); err == nil {
		p.applyRootProperties(rootProps)
	} else {
		logger.Debug("Root interface fetch failed", zap.String("player", p.name), zap.Error(err))
	}

	p.wg.Add(1)
	go p.poll()

	logger.Info("Player proxy created",
		zap.String("player", p.name),
		zap.String("identity", p.state.Identity),
		zap.String("status", string(p.state.Status)))
	return p, nil
}

// Name returns the well-known endpoint name
func (p *Player) Name() string { return p.name }

// ShortName returns the endpoint name with the MPRIS prefix stripped
func (p *Player) ShortName() string {
	return strings.TrimPrefix(p.name, bus.NamePrefix)
}

// Owner returns the unique bus name currently owning the endpoint
func (p *Player) Owner() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// SetOwner re-indexes the proxy after a name-owner transfer
func (p *Player) SetOwner(owner string) {
	p.mu.Lock()
	p.owner = owner
	p.mu.Unlock()
}

// Snapshot returns a copy of the current player state
func (p *Player) Snapshot() domain.PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyState(p.state)
}

func copyState(s domain.PlayerState) domain.PlayerState {
	out := s
	out.Artists = append([]string(nil), s.Artists...)
	if s.Metadata != nil {
		md := make(domain.Metadata, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}
		out.Metadata = md
	}
	return out
}

// Close cancels the position timer, flips the liveness flag and emits
// the closed notification. The proxy is inert afterwards: controls and
// late-arriving updates become no-ops.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	p.logger.Info("Player proxy closed", zap.String("player", p.name))
	if p.onClosed != nil {
		p.onClosed(p.name)
	}
}

func (p *Player) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// --- playback controls -------------------------------------------------

// PlayPause toggles playback
func (p *Player) PlayPause() { p.call(bus.PlayerInterface + ".PlayPause") }

// Play starts playback
func (p *Player) Play() { p.call(bus.PlayerInterface + ".Play") }

// Pause pauses playback
func (p *Player) Pause() { p.call(bus.PlayerInterface + ".Pause") }

// Stop halts playback
func (p *Player) Stop() { p.call(bus.PlayerInterface + ".Stop") }

// Next skips to the next track
func (p *Player) Next() { p.call(bus.PlayerInterface + ".Next") }

// Previous skips to the previous track
func (p *Player) Previous() { p.call(bus.PlayerInterface + ".Previous") }

// Raise asks the player to bring its UI to the front
func (p *Player) Raise() { p.call(bus.RootInterface + ".Raise") }

// Quit asks the player process to exit
func (p *Player) Quit() { p.call(bus.RootInterface + ".Quit") }

// call issues a fire-and-forget method invocation. These are
// user-triggered UI actions with no meaningful retry: failures are
// logged and swallowed.
func (p *Player) call(method string, args ...any) {
	if p.isClosed() {
		return
	}
	go func() {
		if err := p.conn.Call(p.name, bus.ObjectPath, method, args...); err != nil {
			p.logger.Warn("Player call failed",
				zap.String("player", p.name),
				zap.String("method", method),
				zap.Error(err))
		}
	}()
}

// ToggleShuffle flips the shuffle property. A no-op when the endpoint
// does not support shuffle.
func (p *Player) ToggleShuffle() {
	p.mu.RLock()
	current := p.state.Shuffle
	p.mu.RUnlock()
	if p.isClosed() || current == domain.ShuffleUnsupported {
		return
	}
	p.setProperty(bus.PlayerInterface+".Shuffle", current != domain.ShuffleOn)
}

// CycleLoop advances the repeat mode None -> Playlist -> Track -> None.
// A no-op when the endpoint does not support looping.
func (p *Player) CycleLoop() {
	p.mu.RLock()
	current := p.state.Loop
	p.mu.RUnlock()
	if p.isClosed() || current == domain.LoopUnsupported {
		return
	}
	var next domain.LoopStatus
	switch current {
	case domain.LoopNone:
		next = domain.LoopPlaylist
	case domain.LoopPlaylist:
		next = domain.LoopTrack
	default:
		next = domain.LoopNone
	}
	p.setProperty(bus.PlayerInterface+".LoopStatus", string(next))
}

// SetVolume sets the player volume. The value is forwarded as-is; the
// endpoint owns clamping.
func (p *Player) SetVolume(v float64) {
	if p.isClosed() {
		return
	}
	p.setProperty(bus.PlayerInterface+".Volume", v)
}

// SetPosition seeks the current track to pos
func (p *Player) SetPosition(pos time.Duration) {
	p.mu.RLock()
	trackID := p.state.TrackID
	p.mu.RUnlock()
	if trackID == "" {
		p.logger.Debug("SetPosition skipped, no current track", zap.String("player", p.name))
		return
	}
	p.call(bus.PlayerInterface+".SetPosition", dbus.ObjectPath(trackID), pos.Microseconds())
}

func (p *Player) setProperty(prop string, value any) {
	go func() {
		if err := p.conn.SetProperty(p.name, bus.ObjectPath, prop, value); err != nil {
			p.logger.Warn("Player property write failed",
				zap.String("player", p.name),
				zap.String("property", prop),
				zap.Error(err))
		}
	}()
}

// --- incoming updates --------------------------------------------------

// HandlePropertiesChanged applies a property-change signal from the
// endpoint. Signals for interfaces other than the Player interface are
// ignored.
func (p *Player) HandlePropertiesChanged(iface string, props map[string]dbus.Variant) {
	if iface != bus.PlayerInterface {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	changed, positionOnly, artURL := p.applyPropertiesLocked(props)
	p.mu.Unlock()

	if !changed {
		return
	}
	if artURL != "" {
		p.resolveArt(artURL)
	}
	p.notify(positionOnly)
}

// HandleSeeked applies an explicit out-of-band position change and
// restarts the poll phase so the next tick does not race the seek.
func (p *Player) HandleSeeked(pos time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.state.Position = pos
	p.lastSeek = time.Now()
	p.mu.Unlock()

	select {
	case p.pollReset <- struct{}{}:
	default:
	}
	p.notify(true)
}

// applyProperties is the construction-time variant: it seeds state and
// kicks off art resolution without emitting change notifications.
func (p *Player) applyProperties(props map[string]dbus.Variant) {
	p.mu.Lock()
	_, _, artURL := p.applyPropertiesLocked(props)
	p.mu.Unlock()
	if artURL != "" {
		p.resolveArt(artURL)
	}
}

// applyPropertiesLocked mutates state under p.mu. It reports whether
// anything changed, whether the change was position-only, and a cover
// URL needing resolution ("" when none).
func (p *Player) applyPropertiesLocked(props map[string]dbus.Variant) (changed, positionOnly bool, artURL string) {
	positionOnly = true
	mark := func(posOnly bool) {
		changed = true
		positionOnly = positionOnly && posOnly
	}

	for key, variant := range props {
		switch key {
		case "PlaybackStatus":
			if s, ok := variant.Value().(string); ok {
				p.state.Status = domain.ParsePlaybackStatus(s)
				mark(false)
			}
		case "Metadata":
			md, ok := variant.Value().(map[string]dbus.Variant)
			if !ok {
				// Some players send nil or junk while idle.
				p.logger.Debug("Ignoring non-map metadata", zap.String("player", p.name))
				continue
			}
			artURL = p.applyMetadataLocked(md)
			mark(false)
		case "CanGoNext":
			if b, ok := variant.Value().(bool); ok {
				p.state.CanGoNext = b
				mark(false)
			}
		case "CanGoPrevious":
			if b, ok := variant.Value().(bool); ok {
				p.state.CanGoPrevious = b
				mark(false)
			}
		case "CanPlay":
			if b, ok := variant.Value().(bool); ok {
				p.state.CanPlay = b
				mark(false)
			}
		case "Shuffle":
			if b, ok := variant.Value().(bool); ok {
				if b {
					p.state.Shuffle = domain.ShuffleOn
				} else {
					p.state.Shuffle = domain.ShuffleOff
				}
				mark(false)
			}
		case "LoopStatus":
			if s, ok := variant.Value().(string); ok {
				p.state.Loop = domain.ParseLoopStatus(s)
				mark(false)
			}
		case "Volume":
			if f, ok := variant.Value().(float64); ok {
				p.state.Volume = f
				mark(false)
			}
		case "Position":
			if us, ok := asInt64(variant.Value()); ok {
				p.state.Position = time.Duration(us) * time.Microsecond
				mark(true)
			}
		}
	}
	return changed, changed && positionOnly, artURL
}

// applyMetadataLocked replaces the metadata mapping and re-derives the
// track fields. Missing keys map to zero values, never an error.
func (p *Player) applyMetadataLocked(raw map[string]dbus.Variant) (artURL string) {
	md := make(domain.Metadata, len(raw))
	for k, v := range raw {
		val := v.Value()
		if op, ok := val.(dbus.ObjectPath); ok {
			val = string(op)
		}
		md[k] = val
	}
	p.state.Metadata = md
	p.state.TrackID = md.TrackID()
	p.state.Artists = md.Artists()
	p.state.Title = md.Title()
	p.state.Album = md.Album()
	p.state.Length = md.Length()

	url := md.ArtURL()
	if url != p.state.ArtURL {
		p.state.ArtURL = url
		p.state.ArtPath = ""
		if url != "" {
			artURL = url
		}
	}
	return artURL
}

func (p *Player) applyRootProperties(props map[string]dbus.Variant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := props["Identity"]; ok {
		if s, ok := v.Value().(string); ok {
			p.state.Identity = s
		}
	}
	if v, ok := props["DesktopEntry"]; ok {
		if s, ok := v.Value().(string); ok {
			p.state.DesktopEntry = s
		}
	}
}

// resolveArt asks the cache for a local copy of the cover and applies
// the result unless the proxy closed or the track moved on meanwhile.
func (p *Player) resolveArt(url string) {
	if p.art == nil || (p.artEnabled != nil && !p.artEnabled()) {
		return
	}
	// Not wg-tracked: Close lets in-flight resolutions finish and the
	// liveness check below discards their results.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), artResolveTimeout)
		defer cancel()

		path, err := p.art.Resolve(ctx, url)
		if err != nil {
			p.logger.Warn("Cover art resolution failed",
				zap.String("player", p.name),
				zap.String("url", url),
				zap.Error(err))
			return
		}

		p.mu.Lock()
		if p.closed || p.state.ArtURL != url {
			p.mu.Unlock()
			return
		}
		p.state.ArtPath = path
		p.mu.Unlock()
		p.notify(false)
	}()
}

func (p *Player) notify(positionOnly bool) {
	if p.onChange != nil {
		p.onChange(p.name, positionOnly)
	}
}

// --- position polling --------------------------------------------------

// poll refreshes the position once per interval while the endpoint is
// Playing. A seek resets the phase so a tick scheduled just before the
// seek cannot immediately overwrite it.
func (p *Player) poll() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-p.pollReset:
			ticker.Reset(p.pollInterval)
		case <-ticker.C:
			p.refreshPosition()
		}
	}
}

func (p *Player) refreshPosition() {
	p.mu.RLock()
	playing := !p.closed && p.state.Status == domain.StatusPlaying
	p.mu.RUnlock()
	if !playing {
		return
	}

	variant, err := p.conn.GetProperty(p.name, bus.ObjectPath, bus.PlayerInterface+".Position")
	if err != nil {
		p.logger.Debug("Position poll failed", zap.String("player", p.name), zap.Error(err))
		return
	}
	us, ok := asInt64(variant.Value())
	if !ok {
		return
	}

	p.mu.Lock()
	// An explicit seek within the current tick wins over the poll.
	if p.closed || time.Since(p.lastSeek) < p.pollInterval {
		p.mu.Unlock()
		return
	}
	p.state.Position = time.Duration(us) * time.Microsecond
	p.mu.Unlock()
	p.notify(true)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
