package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/metrics"
)

// DefaultPollInterval is the fixed resynchronization cadence. There is no
// backoff or jitter; the small per-user build count makes a fixed cadence
// acceptable.
const DefaultPollInterval = 3 * time.Second

// loop tracks one build's polling goroutine and the phase it was started
// under, so a phase change tears it down and restarts it.
type loop struct {
	cancel context.CancelFunc
	phase  builder.Phase
}

// Poller keeps non-terminal builds refreshed on a fixed timer. A build is
// polled while its phase is neither terminal nor awaiting review; the loop
// is torn down as soon as either is reached, or the build is removed.
type Poller struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

// NewPoller creates a poller over the given store. interval <= 0 selects
// DefaultPollInterval.
func NewPoller(store *Store, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
		loops:    make(map[string]*loop),
	}
}

// SetMetrics attaches a metrics collector.
func (p *Poller) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Run subscribes to store events and reconciles polling loops until ctx is
// cancelled. Blocks; run it in its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	events, unsubscribe := p.store.Subscribe()
	defer unsubscribe()

	p.reconcileAll(ctx)
	p.logger.Info().Dur("interval", p.interval).Msg("poller started")

	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			p.wg.Wait()
			p.logger.Info().Msg("poller stopped")
			return
		case ev, ok := <-events:
			if !ok {
				p.stopAll()
				p.wg.Wait()
				return
			}
			switch ev.Type {
			case EventBuildAdded, EventBuildUpdated:
				p.reconcile(ctx, ev.Build)
			case EventBuildRemoved:
				p.stop(ev.Build.ID)
			case EventHistoryReplaced:
				p.reconcileAll(ctx)
			}
		}
	}
}

// Active returns the number of builds currently being polled.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

func (p *Poller) reconcileAll(ctx context.Context) {
	known := make(map[string]bool)
	for _, rec := range p.store.Builds() {
		known[rec.ID] = true
		p.reconcile(ctx, rec)
	}
	// Drop loops for builds no longer in the list.
	p.mu.Lock()
	var stale []string
	for id := range p.loops {
		if !known[id] {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()
	for _, id := range stale {
		p.stop(id)
	}
}

func (p *Poller) reconcile(ctx context.Context, rec builder.BuildRecord) {
	p.mu.Lock()
	l, running := p.loops[rec.ID]

	switch {
	case rec.Phase.Pollable() && !running:
		p.startLocked(ctx, rec)
	case rec.Phase.Pollable() && running && l.phase != rec.Phase:
		// Phase moved: tear down and restart the timer.
		l.cancel()
		delete(p.loops, rec.ID)
		p.startLocked(ctx, rec)
	case !rec.Phase.Pollable() && running:
		l.cancel()
		delete(p.loops, rec.ID)
		p.logger.Debug().Str("build_id", rec.ID).Str("phase", string(rec.Phase)).Msg("polling stopped")
	}
	n := len(p.loops)
	p.mu.Unlock()

	p.gauge(n)
}

// startLocked launches a polling loop; caller holds p.mu.
func (p *Poller) startLocked(ctx context.Context, rec builder.BuildRecord) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.loops[rec.ID] = &loop{cancel: cancel, phase: rec.Phase}
	p.logger.Debug().Str("build_id", rec.ID).Str("phase", string(rec.Phase)).Msg("polling started")

	p.wg.Add(1)
	go func(id string) {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// Poll failures are transient noise; the next tick retries.
				_ = p.store.PollStatus(loopCtx, id)
			}
		}
	}(rec.ID)
}

func (p *Poller) stop(id string) {
	p.mu.Lock()
	if l, ok := p.loops[id]; ok {
		l.cancel()
		delete(p.loops, id)
	}
	n := len(p.loops)
	p.mu.Unlock()
	p.gauge(n)
}

func (p *Poller) stopAll() {
	p.mu.Lock()
	for id, l := range p.loops {
		l.cancel()
		delete(p.loops, id)
	}
	p.mu.Unlock()
	p.gauge(0)
}

func (p *Poller) gauge(n int) {
	if p.metrics != nil {
		p.metrics.ActivePollers.Set(float64(n))
	}
}
