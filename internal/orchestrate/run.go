package orchestrate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of artifact events into one reload. The
// build writes three files back to back.
const reloadDebounce = 500 * time.Millisecond

// Trigger requests an on-demand cycle. Returns false when a request is
// already queued.
func (o *Orchestrator) Trigger() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run loads the index, starts the artifact watcher, and runs cycles on the
// configured interval and on Trigger until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if _, err := o.idx.Load(ctx); err != nil {
		// A damaged index is repaired by the first cycle's rebuild.
		o.logger.Warn("index load failed at startup", "error", err)
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		o.watchIndexDir(ctx)
	}()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	// First cycle runs immediately; the ticker covers steady state.
	o.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return nil
		case <-ticker.C:
			o.runOnce(ctx)
		case <-o.trigger:
			o.runOnce(ctx)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := o.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleActive):
		o.logger.Info("cycle request skipped, one already running")
	case err != nil:
		id := ""
		if sum != nil {
			id = sum.CycleID
		}
		o.logger.Error("cycle failed", "cycle_id", id, "error", err)
	}
}

// watchIndexDir reloads the index snapshot when another process replaces the
// artifacts on disk. Installs land via rename, so renames and creates are
// the signal.
func (o *Orchestrator) watchIndexDir(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.logger.Warn("index watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(o.idx.Dir()); err != nil {
		o.logger.Warn("cannot watch index dir", "dir", o.idx.Dir(), "error", err)
		return
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := o.idx.Load(ctx); err != nil {
				o.logger.Warn("index reload failed", "error", err)
			} else {
				o.logger.Debug("index reloaded after artifact change")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.logger.Warn("index watcher error", "error", err)
		}
	}
}
