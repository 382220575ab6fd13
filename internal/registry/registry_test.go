package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/genricoloni/mpriswatch/internal/bus"
	"github.com/genricoloni/mpriswatch/internal/bus/mocks"
	"github.com/genricoloni/mpriswatch/internal/domain"
)

const (
	testName  = "org.mpris.MediaPlayer2.testplayer"
	testOwner = ":1.100"
)

func newTestRegistry(t *testing.T) (*Registry, *mocks.MockClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockClient := mocks.NewMockClient(ctrl)
	// time.Hour keeps position polling out of the picture.
	return New(zap.NewNop(), mockClient, nil, time.Hour), mockClient
}

func expectPlayerFetch(m *mocks.MockClient, name string, props map[string]dbus.Variant) {
	m.EXPECT().GetAll(name, bus.ObjectPath, bus.PlayerInterface).Return(props, nil)
	m.EXPECT().GetAll(name, bus.ObjectPath, bus.RootInterface).Return(map[string]dbus.Variant{
		"Identity": dbus.MakeVariant("Test Player"),
	}, nil)
}

func testplayerProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant("Playing"),
		"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
			"xesam:artist": dbus.MakeVariant([]string{"A"}),
			"xesam:title":  dbus.MakeVariant("T"),
		}),
	}
}

// drainEvents collects everything currently buffered on the stream
func drainEvents(r *Registry) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []domain.Event, kind domain.EventKind, player string) bool {
	for _, ev := range events {
		if ev.Kind == kind && ev.Player == player {
			return true
		}
	}
	return false
}

// TestScenario_PlayerAppears follows the documented happy path: the
// endpoint appears with metadata, player-added fires and lookup by
// name fragment returns a populated proxy.
func TestScenario_PlayerAppears(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())

	r.addPlayer(testName, testOwner)

	events := drainEvents(r)
	if !hasEvent(events, domain.EventPlayerAdded, testName) {
		t.Errorf("missing player-added event, got %+v", events)
	}
	if !hasEvent(events, domain.EventChanged, testName) {
		t.Errorf("missing aggregate changed event, got %+v", events)
	}

	p, ok := r.GetPlayer("testplayer")
	if !ok {
		t.Fatal("GetPlayer(testplayer) returned not-found")
	}
	s := p.Snapshot()
	if s.Title != "T" {
		t.Errorf("Title: got %q, want T", s.Title)
	}
	if s.Artist() != "A" {
		t.Errorf("Artist: got %q, want A", s.Artist())
	}
	if s.Status != domain.StatusPlaying {
		t.Errorf("Status: got %v, want Playing", s.Status)
	}
}

// TestScenario_StatusChange routes a PropertiesChanged signal to the
// owning proxy and expects player-changed to fire.
func TestScenario_StatusChange(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	r.routeSignal(&dbus.Signal{
		Name:   bus.PropertiesChangedSignal,
		Sender: testOwner,
		Body: []interface{}{
			bus.PlayerInterface,
			map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Paused")},
			[]string{},
		},
	})

	events := drainEvents(r)
	if !hasEvent(events, domain.EventPlayerChanged, testName) {
		t.Errorf("missing player-changed event, got %+v", events)
	}

	p, _ := r.GetPlayer("testplayer")
	if got := p.Snapshot().Status; got != domain.StatusPaused {
		t.Errorf("Status: got %v, want Paused", got)
	}
}

// TestScenario_PlayerDisappears: player-removed fires, the players
// list shrinks and lookup reports not-found.
func TestScenario_PlayerDisappears(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	r.removePlayer(testName)

	events := drainEvents(r)
	if !hasEvent(events, domain.EventPlayerRemoved, testName) {
		t.Errorf("missing player-removed event, got %+v", events)
	}
	if got := len(r.Players()); got != 0 {
		t.Errorf("Players: got %d entries, want 0", got)
	}
	if _, ok := r.GetPlayer("testplayer"); ok {
		t.Error("GetPlayer must return not-found after removal")
	}
}

// TestIdempotence pins the set semantics: duplicate adds and removes
// of unknown names leave the registry untouched. The mock enforces a
// single construction fetch.
func TestIdempotence(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())

	r.removePlayer(testName) // unknown: no-op
	r.addPlayer(testName, testOwner)
	r.addPlayer(testName, testOwner) // duplicate: no-op, no second fetch
	drainEvents(r)

	if got := len(r.Players()); got != 1 {
		t.Errorf("Players: got %d entries, want 1", got)
	}

	r.removePlayer(testName)
	r.removePlayer(testName) // unknown again: no-op
	drainEvents(r)

	if got := len(r.Players()); got != 0 {
		t.Errorf("Players: got %d entries, want 0", got)
	}
}

// TestAddPlayer_VanishedBeforeFetch: a construction failure is a
// silent removal, never an error or an event.
func TestAddPlayer_VanishedBeforeFetch(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	mockClient.EXPECT().GetAll(testName, bus.ObjectPath, bus.PlayerInterface).
		Return(nil, fmt.Errorf("name has no owner"))

	r.addPlayer(testName, testOwner)

	if events := drainEvents(r); len(events) != 0 {
		t.Errorf("expected no events, got %+v", events)
	}
	if got := len(r.Players()); got != 0 {
		t.Errorf("Players: got %d entries, want 0", got)
	}
}

// TestPositionOnlySuppression: pure position updates must not reach
// the aggregate stream.
func TestPositionOnlySuppression(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	r.playerChanged(testName, true)
	if events := drainEvents(r); len(events) != 0 {
		t.Errorf("position-only change leaked events: %+v", events)
	}

	r.playerChanged(testName, false)
	events := drainEvents(r)
	if !hasEvent(events, domain.EventPlayerChanged, testName) ||
		!hasEvent(events, domain.EventChanged, testName) {
		t.Errorf("non-position change must emit both events, got %+v", events)
	}
}

// TestGetPlayer_FragmentLookup covers substring matching and the
// deterministic first-match order.
func TestGetPlayer_FragmentLookup(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	names := []string{
		"org.mpris.MediaPlayer2.spotify",
		"org.mpris.MediaPlayer2.vlc",
	}
	for i, name := range names {
		expectPlayerFetch(mockClient, name, testplayerProps())
		r.addPlayer(name, fmt.Sprintf(":1.%d", i))
	}
	drainEvents(r)

	tests := []struct {
		fragment string
		want     string
		found    bool
	}{
		{"vlc", "org.mpris.MediaPlayer2.vlc", true},
		{"spotify", "org.mpris.MediaPlayer2.spotify", true},
		{"MediaPlayer2", "org.mpris.MediaPlayer2.spotify", true}, // sorted first match
		{"firefox", "", false},
	}
	for _, tt := range tests {
		p, ok := r.GetPlayer(tt.fragment)
		if ok != tt.found {
			t.Errorf("GetPlayer(%q): found=%v, want %v", tt.fragment, ok, tt.found)
			continue
		}
		if ok && p.Name() != tt.want {
			t.Errorf("GetPlayer(%q): got %s, want %s", tt.fragment, p.Name(), tt.want)
		}
	}
}

// TestOwnerTransfer keeps the proxy alive and re-routes signals from
// the new unique name.
func TestOwnerTransfer(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	r.reindex(testName, ":1.200")

	r.routeSignal(&dbus.Signal{
		Name:   bus.PropertiesChangedSignal,
		Sender: ":1.200",
		Body: []interface{}{
			bus.PlayerInterface,
			map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant("Stopped")},
			[]string{},
		},
	})

	p, ok := r.GetPlayer("testplayer")
	if !ok {
		t.Fatal("player lost after owner transfer")
	}
	if got := p.Snapshot().Status; got != domain.StatusStopped {
		t.Errorf("Status: got %v, want Stopped (signal from new owner)", got)
	}
}

// TestSeekedRouting delivers an out-of-band position change.
func TestSeekedRouting(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	r.routeSignal(&dbus.Signal{
		Name:   bus.SeekedSignal,
		Sender: testOwner,
		Body:   []interface{}{int64(60_000_000)},
	})

	p, _ := r.GetPlayer("testplayer")
	if got := p.Snapshot().Position; got != time.Minute {
		t.Errorf("Position: got %v, want 1m", got)
	}
	// Seeks are position changes: suppressed from the aggregate stream.
	if events := drainEvents(r); len(events) != 0 {
		t.Errorf("seek leaked aggregate events: %+v", events)
	}
}

// TestCoverCacheToggle: default on, flips off.
func TestCoverCacheToggle(t *testing.T) {
	r, _ := newTestRegistry(t)
	if !r.CoverCacheEnabled() {
		t.Error("cover cache must default to enabled")
	}
	r.SetCoverCache(false)
	if r.CoverCacheEnabled() {
		t.Error("cover cache still enabled after SetCoverCache(false)")
	}
}

// TestPlayerState exposes snapshots by exact name for consumers.
func TestPlayerState(t *testing.T) {
	r, mockClient := newTestRegistry(t)
	expectPlayerFetch(mockClient, testName, testplayerProps())
	r.addPlayer(testName, testOwner)
	drainEvents(r)

	s, ok := r.PlayerState(testName)
	if !ok {
		t.Fatal("PlayerState returned not-found")
	}
	if s.Title != "T" {
		t.Errorf("Title: got %q, want T", s.Title)
	}
	if _, ok := r.PlayerState("org.mpris.MediaPlayer2.other"); ok {
		t.Error("PlayerState for unknown name must report not-found")
	}
}
