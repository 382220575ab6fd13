package domain

import "context"

// ArtResolver resolves a remote cover art URL to a locally cached file.
// Implementations must deduplicate concurrent resolutions per URL.
type ArtResolver interface {
	// Resolve returns the local path for url, fetching and caching it
	// on first use. Failures are returned to every concurrent caller
	// and are not cached, so a later attempt may retry.
	Resolve(ctx context.Context, url string) (string, error)
}

// PlayerSource exposes the reactive player collection to consumers
// (UI binding layers, the now-playing engine) without tying them to
// the registry implementation.
type PlayerSource interface {
	// Events returns the registry notification stream
	Events() <-chan Event

	// PlayerState returns a snapshot for the player with the given
	// well-known bus name, reporting whether it is currently live
	PlayerState(name string) (PlayerState, bool)
}
