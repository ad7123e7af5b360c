// Package ingest contains the alert pipeline: the orchestrator that owns
// ordering, the broadcaster that fans alerts out to streaming clients, and
// the tailer that follows the upstream alert log.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/alert"
	"github.com/alertstream/siem-engine/internal/correlate"
	"github.com/alertstream/siem-engine/internal/metrics"
	"github.com/alertstream/siem-engine/internal/store"
)

// Pipeline orchestrates the alert flow: persist → prune accounting →
// broadcast → correlate. All alerts from every source funnel through one
// buffered channel consumed by a single worker goroutine, so store writes,
// ring mutation, fan-out and correlator state are serialized per alert and
// every client observes the same global order.
type Pipeline struct {
	store      *store.Store
	correlator *correlate.Correlator
	bc         *Broadcaster
	log        zerolog.Logger

	retention  int
	pruneEvery int
	warmLoad   int

	in      chan alert.Alert
	pruneCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Int64
	persisted atomic.Int64
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Store                *store.Store
	RetentionLimit       int
	StartupLoadLimit     int
	PruneInterval        int
	CorrelationWindowSec int
	CorrelationThreshold int
	Log                  zerolog.Logger
}

// NewPipeline creates a Pipeline with its broadcaster and correlator.
func NewPipeline(opts PipelineOptions) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Log.With().Str("component", "pipeline").Logger()

	return &Pipeline{
		store:      opts.Store,
		correlator: correlate.New(opts.CorrelationWindowSec, opts.CorrelationThreshold),
		bc:         NewBroadcaster(opts.StartupLoadLimit, opts.Log),
		log:        log,
		retention:  opts.RetentionLimit,
		pruneEvery: opts.PruneInterval,
		warmLoad:   opts.StartupLoadLimit,
		in:         make(chan alert.Alert, 256),
		pruneCh:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start warms the replay ring from the store and launches the worker,
// prune, and stats goroutines. A store read failure is logged and the ring
// starts empty.
func (p *Pipeline) Start() {
	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
	recent, err := p.store.RecentN(ctx, p.warmLoad)
	cancel()
	if err != nil {
		p.log.Warn().Err(err).Msg("startup load failed, starting with empty ring")
	} else {
		p.bc.Seed(recent)
		p.log.Info().Int("alerts", len(recent)).Msg("replay ring warmed from store")
	}

	p.wg.Add(2)
	go p.worker()
	go p.pruneLoop()
	go p.statsLoop()
	p.log.Info().Msg("pipeline started")
}

// Stop halts the worker and closes all client channels. Alerts still queued
// in the submit channel are dropped; persistence already happened for
// everything the worker consumed.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	p.bc.Close()
	p.log.Info().Int64("total_alerts", p.processed.Load()).Msg("pipeline stopped")
}

// Ingest normalizes and enriches a raw upstream document, queues it for
// processing, and returns the canonical alert (callers need the assigned
// id). Called concurrently by the HTTP handler and the tailer.
func (p *Pipeline) Ingest(raw map[string]any, source string) alert.Alert {
	a := alert.Normalize(raw)
	a.Source = source
	alert.Enrich(&a)

	select {
	case p.in <- a:
	case <-p.ctx.Done():
	}
	return a
}

// Subscribe registers a streaming client; the replay batch is queued on its
// frame channel before the call returns.
func (p *Pipeline) Subscribe(id string) *Client { return p.bc.Subscribe(id) }

// Unsubscribe removes a streaming client.
func (p *Pipeline) Unsubscribe(id string) { p.bc.Unsubscribe(id) }

// Recent returns the replay ring contents, oldest first.
func (p *Pipeline) Recent() []json.RawMessage { return p.bc.Recent() }

// ClientCount returns the number of connected streaming clients.
func (p *Pipeline) ClientCount() int { return p.bc.ClientCount() }

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case a := <-p.in:
			p.process(a)
		}
	}
}

// process runs one alert through the pipeline stages in order. Synthetic
// correlation alerts re-enter here directly so they are broadcast
// immediately after their trigger; the correlator's source guard stops the
// recursion at depth one.
func (p *Pipeline) process(a alert.Alert) {
	p.processed.Add(1)
	metrics.AlertsIngestedTotal.WithLabelValues(a.Source).Inc()

	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	err := p.store.Append(ctx, a)
	cancel()
	if err != nil {
		// Persistence is best-effort relative to delivery.
		metrics.StoreWriteErrorsTotal.Inc()
		p.log.Warn().Err(err).Str("alert_id", a.ID).Msg("store append failed")
	} else {
		n := p.persisted.Add(1)
		if p.pruneEvery > 0 && n%int64(p.pruneEvery) == 0 {
			select {
			case p.pruneCh <- struct{}{}:
			default:
			}
		}
	}

	p.bc.Broadcast(a)

	if syn := p.correlator.Process(a); syn != nil {
		metrics.CorrelationAlertsTotal.Inc()
		p.log.Info().
			Str("title", syn.Title).
			Str("alert_id", syn.ID).
			Msg("correlation alert emitted")
		p.process(*syn)
	}
}

// pruneLoop runs retention pruning on its own goroutine so a slow DELETE
// never delays broadcast. It observes recency at execution time.
func (p *Pipeline) pruneLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.pruneCh:
			ctx, cancel := context.WithTimeout(p.ctx, time.Minute)
			n, err := p.store.Prune(ctx, p.retention)
			cancel()
			if err != nil {
				p.log.Warn().Err(err).Msg("prune failed")
			} else if n > 0 {
				p.log.Info().Int64("deleted", n).Int("retention", p.retention).Msg("pruned old alerts")
			}
		}
	}
}

// statsLoop logs pipeline totals every 60 seconds.
func (p *Pipeline) statsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	var lastTotal int64
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			total := p.processed.Load()
			p.log.Info().
				Int64("total", total).
				Int64("last_60s", total-lastTotal).
				Int("clients", p.bc.ClientCount()).
				Msg("stats")
			lastTotal = total
		}
	}
}
