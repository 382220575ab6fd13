package domain

import "time"

// Well-known MPRIS metadata keys. The vocabulary is defined by the
// MPRIS v2 metadata spec; players may add arbitrary extra keys.
const (
	MetaTrackID = "mpris:trackid"
	MetaLength  = "mpris:length"
	MetaArtURL  = "mpris:artUrl"
	MetaTitle   = "xesam:title"
	MetaArtist  = "xesam:artist"
	MetaAlbum   = "xesam:album"
)

// Metadata is the free-form track metadata mapping with values already
// unwrapped from their wire representation. Accessors return zero
// values for missing or wrongly-typed keys, never an error.
type Metadata map[string]any

// String returns the string value for key, or ""
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

// StringList returns the string-list value for key. A bare string is
// treated as a single-element list since some players are not
// spec-compliant about artist arrays.
func (m Metadata) StringList(key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Duration interprets the value for key as microseconds (the MPRIS
// time unit) and returns it as a time.Duration, or 0.
func (m Metadata) Duration(key string) time.Duration {
	if m == nil {
		return 0
	}
	var us int64
	switch v := m[key].(type) {
	case int64:
		us = v
	case uint64:
		us = int64(v)
	case int32:
		us = int64(v)
	case uint32:
		us = int64(v)
	case int:
		us = int64(v)
	case float64:
		us = int64(v)
	default:
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

// TrackID returns the current track identifier, or "".
// Object-path values are normalized to strings before they reach the
// mapping, so a plain string lookup suffices.
func (m Metadata) TrackID() string { return m.String(MetaTrackID) }

// Title returns the track title, or ""
func (m Metadata) Title() string { return m.String(MetaTitle) }

// Album returns the album name, or ""
func (m Metadata) Album() string { return m.String(MetaAlbum) }

// Artists returns the artist list, possibly nil
func (m Metadata) Artists() []string { return m.StringList(MetaArtist) }

// ArtURL returns the cover art location, or ""
func (m Metadata) ArtURL() string { return m.String(MetaArtURL) }

// Length returns the track length, or 0
func (m Metadata) Length() time.Duration { return m.Duration(MetaLength) }
