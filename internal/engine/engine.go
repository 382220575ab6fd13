package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/genricoloni/mpriswatch/internal/domain"
)

// DefaultDebounce is the quiet period before a change is reported
const DefaultDebounce = 500 * time.Millisecond

// Engine is the daemon's built-in consumer of the registry stream: it
// logs now-playing transitions. Debouncing keeps rapid track skipping
// from producing one line per intermediate track.
type Engine struct {
	logger   *zap.Logger
	source   domain.PlayerSource
	debounce time.Duration
	cancel   context.CancelFunc
}

// New creates an engine reading from source. debounce <= 0 selects the
// default quiet period.
func New(logger *zap.Logger, source domain.PlayerSource, debounce time.Duration) *Engine {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Engine{
		logger:   logger,
		source:   source,
		debounce: debounce,
	}
}

// Start launches the event processing loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.runLoop(runCtx)
	e.logger.Info("Engine started")
	return nil
}

// Stop halts the event loop
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.logger.Info("Engine stopped")
	return nil
}

// runLoop consumes registry events with debouncing: the latest changed
// player wins once the stream goes quiet.
func (e *Engine) runLoop(ctx context.Context) {
	events := e.source.Events()

	timer := time.NewTimer(e.debounce)
	timer.Stop() // Start with stopped timer

	var pending string

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("Registry event channel closed")
				return
			}
			switch ev.Kind {
			case domain.EventPlayerAdded, domain.EventPlayerChanged:
				pending = ev.Player
				timer.Reset(e.debounce)
			case domain.EventPlayerRemoved:
				e.logger.Info("Player gone", zap.String("player", ev.Player))
				if pending == ev.Player {
					pending = ""
					timer.Stop()
				}
			}

		case <-timer.C:
			if pending != "" {
				e.report(pending)
				pending = ""
			}
		}
	}
}

// report logs the current snapshot for a player that settled down
func (e *Engine) report(name string) {
	state, ok := e.source.PlayerState(name)
	if !ok {
		return
	}
	e.logger.Info("Now playing",
		zap.String("player", state.ShortName),
		zap.String("identity", state.Identity),
		zap.String("title", state.Title),
		zap.String("artist", state.Artist()),
		zap.String("album", state.Album),
		zap.String("status", string(state.Status)),
		zap.Duration("length", state.Length),
		zap.String("cover", state.ArtPath))
}
