// Package poller drives the fetch → parse → deliver cycle.
//
// One cycle runs to completion before the next starts:
//
//	Fetching ──ok──▶ Parsing ──ok──▶ Delivering ──▶ Sleeping ──▶ Fetching …
//	    │                │                              ▲
//	    └─────fail───────┴──────────fail────────────────┘
//
// A failed fetch or parse skips the rest of the cycle. Sleeping always lasts
// the configured delay; there is no back-off, jitter or retry limit. The loop
// ends only when its context is cancelled.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/obsidianstack/upsstats/agent/internal/metrics"
	"github.com/obsidianstack/upsstats/agent/internal/scraper"
	"github.com/obsidianstack/upsstats/pkg/types"
)

// Sink receives the measurement of each successful cycle. Implementations
// handle their own failures.
type Sink interface {
	Ship(ctx context.Context, batch []types.Measurement)
}

// Poller owns the control loop for a single UPS source.
type Poller struct {
	src   scraper.Scraper
	sink  Sink
	delay time.Duration
	rec   *metrics.Recorder
	now   func() time.Time // injectable for deterministic tests
}

// New creates a Poller that sleeps delay between cycles. rec may be nil.
func New(src scraper.Scraper, sink Sink, delay time.Duration, rec *metrics.Recorder) *Poller {
	return &Poller{
		src:   src,
		sink:  sink,
		delay: delay,
		rec:   rec,
		now:   time.Now,
	}
}

// Run polls immediately and then once per delay until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("poller: starting", "source", p.src.Source(), "delay", p.delay)
	defer slog.Info("poller: stopped", "source", p.src.Source())

	for ctx.Err() == nil {
		p.Cycle(ctx)

		sleep := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			sleep.Stop()
			return
		case <-sleep.C:
		}
	}
}

// Cycle runs one fetch → parse → deliver pass and returns its outcome.
func (p *Poller) Cycle(ctx context.Context) string {
	start := p.now()
	raw, err := p.src.Fetch(ctx)
	p.rec.ObserveFetch(p.now().Sub(start))
	if err != nil {
		slog.Warn("poller: fetch failed, skipping cycle", "source", p.src.Source(), "err", err)
		return p.finish(metrics.OutcomeFetchFailed)
	}

	m, err := p.src.Parse(raw)
	if err != nil {
		slog.Warn("poller: parse failed, skipping cycle", "source", p.src.Source(), "err", err)
		return p.finish(metrics.OutcomeParseFailed)
	}

	p.sink.Ship(ctx, []types.Measurement{m})
	return p.finish(metrics.OutcomeDelivered)
}

func (p *Poller) finish(outcome string) string {
	p.rec.Cycle(outcome, p.now())
	return outcome
}
