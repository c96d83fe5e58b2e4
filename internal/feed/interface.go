// Package feed implements the post feed pipeline.
//
// The pipeline watches the posts collection through a MongoDB change stream
// and projects every change into per-follower ranked feeds kept in Redis:
//
//   - Change source: resumable change stream with Redis checkpoints
//   - Operator chain: author/post enrichment and an optional CEL filter
//   - Feed sink: idempotent post, metadata and feed projection
//   - Notifications: optional NATS JetStream message per projected post
//   - Health: HTTP health report and Prometheus metrics
//
// # Usage
//
//	svc, err := feed.New(cfg.Feed, feed.Dependencies{Database: db, Redis: rdb})
//	go feed.StartHealthServer(ctx, cfg.Feed.Health.Address, svc.Handler(), logger)
//	svc.Run(ctx)
//
// Readers only need the cache:
//
//	reader := feed.NewReader(rdb, cfg.Feed.Sink, logger)
//	items, err := reader.GetUserFeed(ctx, "user-1", 20, 0)
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/postfeed/internal/feed/config"
	"github.com/syntrixbase/postfeed/internal/feed/events"
	"github.com/syntrixbase/postfeed/internal/feed/internal/checkpoint"
	"github.com/syntrixbase/postfeed/internal/feed/internal/core"
	"github.com/syntrixbase/postfeed/internal/feed/internal/health"
	"github.com/syntrixbase/postfeed/internal/feed/internal/notify"
	"github.com/syntrixbase/postfeed/internal/feed/internal/operator"
	"github.com/syntrixbase/postfeed/internal/feed/internal/sink"
	"github.com/syntrixbase/postfeed/internal/feed/internal/source"
	storage "github.com/syntrixbase/postfeed/internal/storage/mongo"
	"go.mongodb.org/mongo-driver/mongo"
)

// Reader serves paginated user feeds from the cache.
type Reader interface {
	GetUserFeed(ctx context.Context, userID string, limit, offset int) ([]*events.FeedItem, error)
}

// Notifier announces projected records.
type Notifier interface {
	Notify(ctx context.Context, r *events.SinkRecord) error
}

// Dependencies are the connections a Service runs on.
type Dependencies struct {
	Database *mongo.Database
	Redis    redis.Cmdable

	// Notifier is optional
	Notifier Notifier
	Logger   *slog.Logger
}

// Service is one running feed pipeline.
type Service struct {
	pipeline *core.Pipeline
	checker  *health.Checker
	cfg      config.Config
}

// New wires a feed pipeline from configuration.
func New(cfg config.Config, deps Dependencies) (*Service, error) {
	if deps.Database == nil {
		return nil, fmt.Errorf("feed: database is required")
	}
	if deps.Redis == nil {
		return nil, fmt.Errorf("feed: redis client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checker := health.NewChecker(uuid.NewString(), cfg.Name, logger)
	store := storage.NewPostStore(deps.Database, cfg.Source.Collection, cfg.Source.UsersCollection)

	operators := []operator.Operator{operator.NewEnrich(store, logger)}
	if cfg.Operators.Filter != "" {
		filter, err := operator.NewFilter(cfg.Operators.Filter, logger)
		if err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		operators = append(operators, filter)
	}

	src := source.New(source.Options{
		Watcher:        source.CollectionWatcher(store.Posts()),
		Checkpoint:     checkpoint.NewRedisStore(deps.Redis, cfg.Source.CheckpointKey),
		Operations:     cfg.Source.Operations,
		RestartBackoff: cfg.Source.RestartBackoff,
		Pipeline:       cfg.Name,
		Health:         checker,
		Logger:         logger,
	})

	snk := sink.New(deps.Redis, sink.Options{
		MaxFeedSize: cfg.Sink.MaxFeedSize,
		PostTTL:     cfg.Sink.PostTTL,
		Followers:   store,
		Logger:      logger,
	})

	pipeline := core.New(core.Options{
		Name:     cfg.Name,
		Source:   src,
		Chain:    operator.NewChain(operators...),
		Sink:     snk,
		Notifier: deps.Notifier,
		Health:   checker,
		Logger:   logger,
	})

	return &Service{
		pipeline: pipeline,
		checker:  checker,
		cfg:      cfg,
	}, nil
}

// Run processes changes until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.pipeline.Run(ctx)
}

// Handler serves the health report and metrics on the configured paths.
func (s *Service) Handler() http.Handler {
	return health.NewHandler(s.checker, s.cfg.Health.Path, s.cfg.Health.MetricsPath)
}

// Status returns the current overall health status.
func (s *Service) Status() string {
	return string(s.checker.Check())
}

// NewReader creates a feed reader over the cache.
func NewReader(client redis.Cmdable, cfg config.SinkConfig, logger *slog.Logger) Reader {
	return sink.NewReader(client, cfg.DefaultPageSize, cfg.MaxFeedSize, logger)
}

// NotifierConnection is a connected notifier that must be closed on shutdown.
type NotifierConnection struct {
	*notify.Publisher
	provider *notify.Provider
}

// Close closes the underlying NATS connection.
func (c *NotifierConnection) Close() error {
	return c.provider.Close()
}

// ConnectNotifier connects to NATS and prepares the notification stream.
func ConnectNotifier(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (*NotifierConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	provider := notify.NewProvider(cfg.URL, logger)
	if err := provider.Connect(ctx); err != nil {
		return nil, err
	}
	pub, err := provider.NewPublisher(ctx, notify.Options{
		StreamName:    cfg.StreamName,
		SubjectPrefix: cfg.SubjectPrefix,
		RetryAttempts: cfg.RetryAttempts,
		OnPublish: func(subject string, err error, latency time.Duration) {
			if err == nil {
				logger.Debug("feed notification published", "subject", subject, "latency", latency)
			}
		},
	})
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return &NotifierConnection{Publisher: pub, provider: provider}, nil
}

// StartHealthServer serves handler on addr until ctx is cancelled.
func StartHealthServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	return health.StartServer(ctx, addr, handler, logger)
}
