// Package source turns a MongoDB change stream into a restartable channel of
// acknowledgeable change events.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	"github.com/syntrixbase/postfeed/internal/feed/internal/checkpoint"
	"github.com/syntrixbase/postfeed/internal/feed/internal/health"
	"github.com/syntrixbase/postfeed/internal/feed/internal/metrics"
	"github.com/syntrixbase/postfeed/internal/feed/internal/normalizer"
	"github.com/syntrixbase/postfeed/internal/feed/internal/recovery"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Component is the name the source reports health under.
const Component = "source"

const (
	defaultRestartBackoff = 5 * time.Second
	defaultAckGrace       = 5 * time.Second
)

var errStreamClosed = errors.New("change stream closed by server")

// Options configures a Source.
type Options struct {
	Watcher    Watcher
	Checkpoint checkpoint.Store

	// Operations restricts the watched operation types
	Operations []string

	// RestartBackoff is the fixed delay before reopening a failed stream
	RestartBackoff time.Duration

	// AckGrace bounds how long shutdown waits for the in-flight event's ack
	AckGrace time.Duration

	Pipeline string
	Health   *health.Checker
	Logger   *slog.Logger
}

// Source watches the posts collection and emits one ChangeEvent per mutation.
//
// Events are handed over one at a time: the next event is read only after the
// previous one has been acknowledged and its resume token checkpointed.
type Source struct {
	watcher    Watcher
	store      checkpoint.Store
	normalizer *normalizer.Normalizer
	gaps       *recovery.GapDetector
	health     *health.Checker
	pipeline   mongo.Pipeline

	name     string
	backoff  time.Duration
	ackGrace time.Duration
	logger   *slog.Logger
}

// New creates a new Source.
func New(opts Options) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "feed-source")

	backoff := opts.RestartBackoff
	if backoff <= 0 {
		backoff = defaultRestartBackoff
	}
	ackGrace := opts.AckGrace
	if ackGrace <= 0 {
		ackGrace = defaultAckGrace
	}

	if opts.Health != nil {
		opts.Health.Register(Component)
	}

	return &Source{
		watcher:    opts.Watcher,
		store:      opts.Checkpoint,
		normalizer: normalizer.New(),
		gaps:       recovery.NewGapDetector(0, logger),
		health:     opts.Health,
		pipeline:   buildWatchPipeline(opts.Operations),
		name:       opts.Pipeline,
		backoff:    backoff,
		ackGrace:   ackGrace,
		logger:     logger,
	}
}

// Start begins watching and returns the event channel. The channel is closed
// once ctx is cancelled; stream failures only restart the watch.
func (s *Source) Start(ctx context.Context) <-chan *events.ChangeEvent {
	out := make(chan *events.ChangeEvent)
	go s.run(ctx, out)
	return out
}

func (s *Source) run(ctx context.Context, out chan<- *events.ChangeEvent) {
	defer close(out)

	s.logger.Info("starting change source")

	for {
		err := s.watchChangeStream(ctx, out)
		if ctx.Err() != nil {
			s.logger.Info("change source stopped")
			return
		}

		action := recovery.Classify(err)
		if action == recovery.ActionRestart {
			s.logger.Warn("resume token rejected, restarting from now", "error", err)
			s.deleteCheckpoint(ctx)
		} else {
			s.logger.Error("change stream error, reconnecting", "error", err, "backoff", s.backoff)
		}
		metrics.SourceRestarts.WithLabelValues(s.name, action.String()).Inc()
		s.recordRestart()

		select {
		case <-ctx.Done():
			s.logger.Info("change source stopped")
			return
		case <-time.After(s.backoff):
		}
	}
}

// watchChangeStream runs one change stream session until it fails.
func (s *Source) watchChangeStream(ctx context.Context, out chan<- *events.ChangeEvent) error {
	resumeToken, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrMalformed) {
			return err
		}
		s.logger.Warn("discarding malformed checkpoint", "error", err)
		s.deleteCheckpoint(ctx)
		resumeToken = nil
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeToken != nil {
		opts.SetResumeAfter(resumeToken)
		s.logger.Info("resuming from checkpoint")
	} else {
		s.logger.Info("starting fresh (no checkpoint)")
	}

	stream, err := s.watcher.Watch(ctx, s.pipeline, opts)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	defer func() {
		// The handle is discarded either way
		_ = stream.Close(context.Background())
	}()

	s.logger.Info("change stream opened")
	s.setStatus(health.StatusOK)

	for stream.Next(ctx) {
		var raw normalizer.RawEvent
		if err := stream.Decode(&raw); err != nil {
			s.logger.Error("failed to decode event", "error", err)
			s.recordError()
			s.saveCheckpoint(ctx, stream.ResumeToken())
			continue
		}

		evt, err := s.normalizer.Normalize(&raw)
		if err != nil {
			s.logger.Error("failed to normalize event", "error", err)
			s.recordError()
			s.saveCheckpoint(ctx, raw.ResumeToken)
			continue
		}

		metrics.EventsReceived.WithLabelValues(s.name, string(evt.Type)).Inc()
		if s.gaps.RecordEvent(evt) {
			metrics.GapsDetected.WithLabelValues(s.name).Inc()
			if s.health != nil {
				s.health.RecordGap(Component)
			}
		}

		if err := s.emit(ctx, out, evt); err != nil {
			return err
		}
		s.saveCheckpoint(ctx, evt.ResumeToken)
		if s.health != nil {
			s.health.RecordEvent(Component)
		}
	}

	s.setStatus(health.StatusDegraded)
	if err := stream.Err(); err != nil {
		return fmt.Errorf("change stream error: %w", err)
	}
	return errStreamClosed
}

// emit hands evt to the consumer and waits for its acknowledgement.
func (s *Source) emit(ctx context.Context, out chan<- *events.ChangeEvent, evt *events.ChangeEvent) error {
	// select picks randomly among ready cases; never hand over after shutdown
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case out <- evt:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-evt.Acked():
		return nil
	case <-ctx.Done():
	}

	// Shutting down: the consumer finishes the in-flight event on its own,
	// give it a bounded window so the checkpoint still lands.
	select {
	case <-evt.Acked():
		return nil
	case <-time.After(s.ackGrace):
		s.logger.Warn("in-flight event not acknowledged before shutdown", "eventId", evt.EventID)
		return ctx.Err()
	}
}

// saveCheckpoint persists token. It outlives ctx so the last acknowledged
// event is still recorded during shutdown.
func (s *Source) saveCheckpoint(ctx context.Context, token bson.Raw) {
	if token == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ackGrace)
	defer cancel()
	if err := s.store.Save(saveCtx, token); err != nil {
		s.logger.Error("failed to save checkpoint", "error", err)
		metrics.CheckpointErrors.WithLabelValues(s.name).Inc()
		return
	}
	metrics.CheckpointsSaved.WithLabelValues(s.name).Inc()
}

func (s *Source) deleteCheckpoint(ctx context.Context) {
	if err := s.store.Delete(ctx); err != nil {
		s.logger.Error("failed to delete checkpoint", "error", err)
		metrics.CheckpointErrors.WithLabelValues(s.name).Inc()
	}
}

func (s *Source) recordError() {
	if s.health != nil {
		s.health.RecordError(Component)
	}
}

func (s *Source) recordRestart() {
	if s.health != nil {
		s.health.RecordRestart(Component)
	}
}

func (s *Source) setStatus(status health.Status) {
	if s.health != nil {
		s.health.SetStatus(Component, status)
	}
}

// buildWatchPipeline builds the $match stage for the watched operation types.
// Whole-document replacements are watched together with updates.
func buildWatchPipeline(operations []string) mongo.Pipeline {
	if len(operations) == 0 {
		operations = []string{"insert", "update", "delete"}
	}

	ops := make([]string, 0, len(operations)+1)
	for _, op := range operations {
		ops = append(ops, op)
		if op == string(events.OperationUpdate) {
			ops = append(ops, "replace")
		}
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": ops},
		}}},
	}
}
