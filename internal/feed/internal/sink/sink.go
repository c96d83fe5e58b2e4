// Package sink projects sink records into the Redis feed cache and serves
// paginated feeds back out of it.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/postfeed/internal/feed/events"
)

const (
	DefaultMaxFeedSize = 500
	DefaultPostTTL     = 30 * 24 * time.Hour
)

// Outcome reports what Apply did with a record.
type Outcome int

const (
	// Skipped means the record was refused as a no-op; it is not an error.
	Skipped Outcome = iota
	// Applied means the projection was written.
	Applied
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// FollowerResolver looks up the followers of an author when a record does
// not carry them.
type FollowerResolver interface {
	FollowerIDs(ctx context.Context, authorID string) ([]string, error)
}

// Options configures a Sink.
type Options struct {
	MaxFeedSize int
	PostTTL     time.Duration

	// Followers is optional; without it deletes only clean the followers
	// listed on the record.
	Followers FollowerResolver
	Logger    *slog.Logger
}

// Sink writes the feed projection. Every Apply is idempotent: applying the
// same record twice leaves the cache as applying it once.
type Sink struct {
	client    redis.Cmdable
	maxFeed   int64
	postTTL   time.Duration
	followers FollowerResolver
	logger    *slog.Logger
}

// New creates a Sink.
func New(client redis.Cmdable, opts Options) *Sink {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFeed := opts.MaxFeedSize
	if maxFeed <= 0 {
		maxFeed = DefaultMaxFeedSize
	}
	ttl := opts.PostTTL
	if ttl <= 0 {
		ttl = DefaultPostTTL
	}
	return &Sink{
		client:    client,
		maxFeed:   int64(maxFeed),
		postTTL:   ttl,
		followers: opts.Followers,
		logger:    logger.With("component", "feed-sink"),
	}
}

// Apply projects one record. Records missing a field their operation needs
// are skipped rather than partially applied.
func (s *Sink) Apply(ctx context.Context, r *events.SinkRecord) (Outcome, error) {
	if r == nil {
		return Skipped, nil
	}

	switch r.Type {
	case events.OperationInsert:
		return s.insert(ctx, r)
	case events.OperationUpdate:
		return s.update(ctx, r)
	case events.OperationDelete:
		return s.delete(ctx, r)
	default:
		s.logger.Warn("unknown operation type", "type", r.Type, "postId", r.PostID)
		return Skipped, nil
	}
}

func (s *Sink) insert(ctx context.Context, r *events.SinkRecord) (Outcome, error) {
	if r.PostID == "" || r.Timestamp <= 0 || r.AuthorID == "" {
		s.logger.Warn("insert missing required fields, skipping",
			"postId", r.PostID, "authorId", r.AuthorID, "timestamp", r.Timestamp)
		return Skipped, nil
	}

	body, err := encodeDocument(r.Document)
	if err != nil {
		return Skipped, err
	}

	member := redis.Z{Score: float64(r.Timestamp), Member: r.PostID}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, PostKey(r.PostID), body, s.postTTL)
		for _, followerID := range r.FollowerIDs {
			key := FeedKey(followerID)
			pipe.ZAdd(ctx, key, member)
			pipe.ZRemRangeByRank(ctx, key, 0, -(s.maxFeed + 1))
		}
		authorKey := AuthorPostsKey(r.AuthorID)
		pipe.ZAdd(ctx, authorKey, member)
		pipe.ZRemRangeByRank(ctx, authorKey, 0, -(s.maxFeed + 1))
		pipe.HSet(ctx, MetadataKey(r.PostID),
			fieldLastOperation, string(events.OperationInsert),
			fieldLastUpdated, r.Timestamp,
			fieldAuthorID, r.AuthorID,
		)
		return nil
	})
	if err != nil {
		return Skipped, fmt.Errorf("failed to project insert of post %s: %w", r.PostID, err)
	}

	s.logger.Debug("projected insert", "postId", r.PostID, "followers", len(r.FollowerIDs))
	return Applied, nil
}

func (s *Sink) update(ctx context.Context, r *events.SinkRecord) (Outcome, error) {
	if r.PostID == "" || r.Timestamp <= 0 {
		s.logger.Warn("update missing required fields, skipping", "postId", r.PostID, "timestamp", r.Timestamp)
		return Skipped, nil
	}

	authorID, err := s.resolveAuthor(ctx, r)
	if err != nil {
		return Skipped, err
	}
	if authorID == "" {
		s.logger.Info("update for unknown post, skipping", "postId", r.PostID)
		return Skipped, nil
	}

	followers := s.resolveFollowers(ctx, r, authorID)
	present, err := s.feedsContaining(ctx, followers, r.PostID)
	if err != nil {
		return Skipped, err
	}

	body, err := encodeDocument(r.Document)
	if err != nil {
		return Skipped, err
	}

	member := redis.Z{Score: float64(r.Timestamp), Member: r.PostID}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, PostKey(r.PostID), body, s.postTTL)
		for _, followerID := range present {
			key := FeedKey(followerID)
			pipe.ZRem(ctx, key, r.PostID)
			pipe.ZAdd(ctx, key, member)
		}
		authorKey := AuthorPostsKey(authorID)
		pipe.ZAdd(ctx, authorKey, member)
		pipe.ZRemRangeByRank(ctx, authorKey, 0, -(s.maxFeed + 1))
		pipe.HSet(ctx, MetadataKey(r.PostID),
			fieldLastOperation, string(events.OperationUpdate),
			fieldLastUpdated, r.Timestamp,
			fieldAuthorID, authorID,
		)
		return nil
	})
	if err != nil {
		return Skipped, fmt.Errorf("failed to project update of post %s: %w", r.PostID, err)
	}

	s.logger.Debug("projected update", "postId", r.PostID, "rescored", len(present))
	return Applied, nil
}

func (s *Sink) delete(ctx context.Context, r *events.SinkRecord) (Outcome, error) {
	if r.PostID == "" {
		s.logger.Warn("delete missing post id, skipping")
		return Skipped, nil
	}

	authorID, err := s.resolveAuthor(ctx, r)
	if err != nil {
		return Skipped, err
	}

	var followers []string
	if authorID != "" {
		followers = s.resolveFollowers(ctx, r, authorID)
	} else {
		followers = r.FollowerIDs
		s.logger.Info("deleting post without known author", "postId", r.PostID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, PostKey(r.PostID), MetadataKey(r.PostID))
		for _, followerID := range followers {
			pipe.ZRem(ctx, FeedKey(followerID), r.PostID)
		}
		if authorID != "" {
			pipe.ZRem(ctx, AuthorPostsKey(authorID), r.PostID)
		}
		return nil
	})
	if err != nil {
		return Skipped, fmt.Errorf("failed to project delete of post %s: %w", r.PostID, err)
	}

	s.logger.Debug("projected delete", "postId", r.PostID, "followers", len(followers))
	return Applied, nil
}

// resolveAuthor returns the record's author, falling back to the author
// recorded in the post metadata. An empty result means neither is known.
func (s *Sink) resolveAuthor(ctx context.Context, r *events.SinkRecord) (string, error) {
	if r.AuthorID != "" {
		return r.AuthorID, nil
	}
	authorID, err := s.client.HGet(ctx, MetadataKey(r.PostID), fieldAuthorID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read metadata of post %s: %w", r.PostID, err)
	}
	return authorID, nil
}

// resolveFollowers returns the record's followers, or asks the resolver when
// the record does not know them. An empty list means no followers.
func (s *Sink) resolveFollowers(ctx context.Context, r *events.SinkRecord, authorID string) []string {
	if r.FollowerIDs != nil || s.followers == nil {
		return r.FollowerIDs
	}
	followers, err := s.followers.FollowerIDs(ctx, authorID)
	if err != nil {
		s.logger.Warn("failed to resolve followers", "authorId", authorID, "postId", r.PostID, "error", err)
		return nil
	}
	return followers
}

// feedsContaining returns the followers whose feed currently holds postID.
func (s *Sink) feedsContaining(ctx context.Context, followers []string, postID string) ([]string, error) {
	if len(followers) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.FloatCmd, len(followers))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, followerID := range followers {
			cmds[i] = pipe.ZScore(ctx, FeedKey(followerID), postID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to check feeds for post %s: %w", postID, err)
	}

	// Pipelined reports only the first failure, check every reply
	present := make([]string, 0, len(followers))
	for i, cmd := range cmds {
		switch err := cmd.Err(); {
		case err == nil:
			present = append(present, followers[i])
		case errors.Is(err, redis.Nil):
		default:
			return nil, fmt.Errorf("failed to check feed of user %s for post %s: %w", followers[i], postID, err)
		}
	}
	return present, nil
}

func encodeDocument(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post document: %w", err)
	}
	return body, nil
}
