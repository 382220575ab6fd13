package domain

import "time"

// PlaybackStatus represents the current state of a media player
type PlaybackStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlaybackStatus = "Stopped"
)

// ParsePlaybackStatus maps a raw status string to a PlaybackStatus.
// Unknown values map to Stopped, never an error.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch s {
	case "Playing":
		return StatusPlaying
	case "Paused":
		return StatusPaused
	default:
		return StatusStopped
	}
}

// LoopStatus represents a player's repeat mode.
// LoopUnsupported marks players that do not expose the property at all;
// it is distinct from LoopNone ("supported but off").
type LoopStatus string

const (
	// LoopUnsupported indicates the player does not expose a loop mode
	LoopUnsupported LoopStatus = "Unsupported"
	// LoopNone indicates looping is off
	LoopNone LoopStatus = "None"
	// LoopTrack indicates the current track repeats
	LoopTrack LoopStatus = "Track"
	// LoopPlaylist indicates the whole playlist repeats
	LoopPlaylist LoopStatus = "Playlist"
)

// ParseLoopStatus maps a raw loop string to a LoopStatus.
// Unknown values map to LoopNone.
func ParseLoopStatus(s string) LoopStatus {
	switch s {
	case "Track":
		return LoopTrack
	case "Playlist":
		return LoopPlaylist
	default:
		return LoopNone
	}
}

// ShuffleStatus is a tri-state shuffle flag. UI consumers branch on
// ShuffleUnsupported, so it must stay distinguishable from ShuffleOff.
type ShuffleStatus int

const (
	// ShuffleUnsupported indicates the player does not expose shuffle
	ShuffleUnsupported ShuffleStatus = iota
	// ShuffleOff indicates shuffle is supported and disabled
	ShuffleOff
	// ShuffleOn indicates shuffle is supported and enabled
	ShuffleOn
)

// String returns a human-readable form for logging
func (s ShuffleStatus) String() string {
	switch s {
	case ShuffleOff:
		return "Off"
	case ShuffleOn:
		return "On"
	default:
		return "Unsupported"
	}
}

// PlayerState is a snapshot of a single player's observable attributes.
// Derived track fields are populated from Metadata with missing keys
// mapping to zero values.
type PlayerState struct {
	// Name is the well-known bus name (e.g. "org.mpris.MediaPlayer2.spotify")
	Name string
	// ShortName is Name with the MPRIS prefix stripped (e.g. "spotify")
	ShortName string
	// Identity is the human-readable player name (e.g. "Spotify")
	Identity string
	// DesktopEntry is the associated desktop file basename, if any
	DesktopEntry string

	// TrackID is the player-scoped identifier of the current track
	TrackID string
	// Artists lists the track artists, possibly empty
	Artists []string
	// Title of the current track
	Title string
	// Album of the current track
	Album string
	// ArtURL is the remote (or file) cover art location
	ArtURL string
	// ArtPath is the locally cached cover art file, populated asynchronously
	ArtPath string
	// Metadata is the full typed metadata mapping
	Metadata Metadata

	// Status is the current playback status
	Status PlaybackStatus
	// CanGoNext reports whether Next is expected to work
	CanGoNext bool
	// CanGoPrevious reports whether Previous is expected to work
	CanGoPrevious bool
	// CanPlay reports whether Play is expected to work
	CanPlay bool
	// Shuffle is the tri-state shuffle flag
	Shuffle ShuffleStatus
	// Loop is the repeat mode, or LoopUnsupported
	Loop LoopStatus
	// Volume is the player volume, typically 0.0-1.0 but not clamped here
	Volume float64
	// Length is the current track length
	Length time.Duration
	// Position is the playback cursor, same unit as Length
	Position time.Duration
}

// Artist returns the first artist, or "" when none are known
func (s PlayerState) Artist() string {
	if len(s.Artists) == 0 {
		return ""
	}
	return s.Artists[0]
}

// EventKind identifies a registry notification
type EventKind int

const (
	// EventPlayerAdded fires when a new player endpoint appears
	EventPlayerAdded EventKind = iota
	// EventPlayerRemoved fires when a player endpoint disappears
	EventPlayerRemoved
	// EventPlayerChanged fires when a player's attributes change
	// (pure position updates excluded)
	EventPlayerChanged
	// EventChanged is the aggregate notification: some player changed
	// for any reason except a pure position update
	EventChanged
)

// String returns the event kind name for logging
func (k EventKind) String() string {
	switch k {
	case EventPlayerAdded:
		return "player-added"
	case EventPlayerRemoved:
		return "player-removed"
	case EventPlayerChanged:
		return "player-changed"
	default:
		return "changed"
	}
}

// Event is a single registry notification. Player carries the
// well-known bus name of the player the event refers to.
type Event struct {
	Kind   EventKind
	Player string
}
