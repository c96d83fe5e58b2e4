// Package core runs the feed pipeline event loop.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	"github.com/syntrixbase/postfeed/internal/feed/internal/health"
	"github.com/syntrixbase/postfeed/internal/feed/internal/metrics"
	"github.com/syntrixbase/postfeed/internal/feed/internal/operator"
	"github.com/syntrixbase/postfeed/internal/feed/internal/sink"
)

// Component is the name the pipeline reports sink health under.
const Component = "sink"

// Source produces change events until its context is cancelled.
type Source interface {
	Start(ctx context.Context) <-chan *events.ChangeEvent
}

// Sink projects sink records.
type Sink interface {
	Apply(ctx context.Context, r *events.SinkRecord) (sink.Outcome, error)
}

// Notifier announces projected records. Optional.
type Notifier interface {
	Notify(ctx context.Context, r *events.SinkRecord) error
}

// Options configures a Pipeline.
type Options struct {
	Name     string
	Source   Source
	Chain    *operator.Chain
	Sink     Sink
	Notifier Notifier
	Health   *health.Checker
	Logger   *slog.Logger
}

// Pipeline moves events from the source through the operator chain into the
// sink, one event at a time.
type Pipeline struct {
	name     string
	source   Source
	chain    *operator.Chain
	sink     Sink
	notifier Notifier
	health   *health.Checker
	logger   *slog.Logger
}

// New creates a new Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chain := opts.Chain
	if chain == nil {
		chain = operator.NewChain()
	}
	if opts.Health != nil {
		opts.Health.Register(Component)
	}
	return &Pipeline{
		name:     opts.Name,
		source:   opts.Source,
		chain:    chain,
		sink:     opts.Sink,
		notifier: opts.Notifier,
		health:   opts.Health,
		logger:   logger.With("component", "feed-pipeline", "pipeline", opts.Name),
	}
}

// Run processes events until ctx is cancelled. Processing errors are logged
// and never stop the loop. The event in flight when ctx is cancelled is
// finished before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "operators", p.chain.Len(), "notifications", p.notifier != nil)

	// In-flight work must not be torn down half way by shutdown
	workCtx := context.WithoutCancel(ctx)

	for evt := range p.source.Start(ctx) {
		p.process(workCtx, evt)
		evt.Ack()
	}

	p.logger.Info("pipeline stopped")
	return nil
}

// process runs one event through the chain and the sink.
func (p *Pipeline) process(ctx context.Context, evt *events.ChangeEvent) {
	start := time.Now()
	defer func() {
		metrics.ApplyLatency.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	}()

	logger := p.logger.With("eventId", evt.EventID, "postId", evt.DocumentKey, "type", evt.Type)

	env, stage, err := p.chain.Run(ctx, &operator.Envelope{Event: evt})
	if err != nil {
		logger.Error("operator failed, dropping event", "operator", stage, "error", err)
		metrics.EventsFailed.WithLabelValues(p.name, stage).Inc()
		p.recordError()
		return
	}
	if env == nil || env.Record == nil {
		if stage == "" {
			stage = "chain"
		}
		logger.Debug("event skipped", "operator", stage)
		metrics.EventsSkipped.WithLabelValues(p.name, stage).Inc()
		return
	}

	outcome, err := p.sink.Apply(ctx, env.Record)
	if err != nil {
		logger.Error("sink failed, dropping event", "error", err)
		metrics.EventsFailed.WithLabelValues(p.name, "sink").Inc()
		p.recordError()
		return
	}
	if outcome != sink.Applied {
		logger.Debug("sink skipped record")
		metrics.EventsSkipped.WithLabelValues(p.name, "sink").Inc()
		return
	}

	metrics.EventsApplied.WithLabelValues(p.name, string(env.Record.Type)).Inc()
	if p.health != nil {
		p.health.RecordEvent(Component)
	}
	logger.Debug("event applied")

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, env.Record); err != nil {
			logger.Warn("failed to publish feed notification", "error", err)
			metrics.NotificationErrors.WithLabelValues(p.name).Inc()
			return
		}
		metrics.NotificationsPublished.WithLabelValues(p.name).Inc()
	}
}

func (p *Pipeline) recordError() {
	if p.health != nil {
		p.health.RecordError(Component)
	}
}
