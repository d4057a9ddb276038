package beat

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aatumaykin/nexbeat/internal/logger"
)

// Run ticks immediately, then on every period and on every poke, until ctx
// is done. A tick that has started always runs to completion.
func (b *Beat) Run(ctx context.Context) error {
	b.logger.Info("beat loop started",
		logger.Field{Key: "tick", Value: b.cfg.Tick.String()},
		logger.Field{Key: "reap_after", Value: b.cfg.ReapAfter.String()},
		logger.Field{Key: "timezone", Value: b.cfg.Location.String()})

	if b.cfg.PokeFile != "" {
		stop, err := b.watchPokeFile(ctx)
		if err != nil {
			b.logger.Warn("poke file watch unavailable, relying on the ticker",
				logger.Field{Key: "poke_file", Value: b.cfg.PokeFile},
				logger.Field{Key: "error", Value: err})
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(b.cfg.Tick)
	defer ticker.Stop()

	b.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("beat loop stopped")
			return nil
		case <-ticker.C:
			b.runTick(ctx)
		case <-b.poke:
			b.logger.Debug("poked")
			b.runTick(ctx)
		}
	}
}

func (b *Beat) runTick(ctx context.Context) {
	if _, err := b.Tick(context.WithoutCancel(ctx)); err != nil {
		b.logger.Error("tick failed", err)
	}
}

// watchPokeFile turns writes to the poke file into pokes.
func (b *Beat) watchPokeFile(ctx context.Context) (func(), error) {
	target := filepath.Clean(b.cfg.PokeFile)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					b.Poke()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.logger.Warn("poke watcher error", logger.Field{Key: "error", Value: err})
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}, nil
}
