package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/postfeed/internal/feed/events"
)

const DefaultPageSize = 20

// Reader serves user feeds from the cache. It is safe for concurrent use and
// independent of the writer.
type Reader struct {
	client      redis.Cmdable
	pageSize    int
	maxFeedSize int
	logger      *slog.Logger
}

// NewReader creates a Reader. Non-positive sizes use the defaults.
func NewReader(client redis.Cmdable, pageSize, maxFeedSize int, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxFeedSize <= 0 {
		maxFeedSize = DefaultMaxFeedSize
	}
	return &Reader{
		client:      client,
		pageSize:    pageSize,
		maxFeedSize: maxFeedSize,
		logger:      logger.With("component", "feed-reader"),
	}
}

// GetUserFeed returns a page of userID's feed, newest first. Entries whose
// cached post is gone or unreadable are dropped from the page.
func (r *Reader) GetUserFeed(ctx context.Context, userID string, limit, offset int) ([]*events.FeedItem, error) {
	if limit <= 0 {
		limit = r.pageSize
	}
	if limit > r.maxFeedSize {
		limit = r.maxFeedSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := r.client.ZRevRangeWithScores(ctx, FeedKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read feed of user %s: %w", userID, err)
	}
	if len(entries) == 0 {
		return []*events.FeedItem{}, nil
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = PostKey(fmt.Sprint(e.Member))
	}
	bodies, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read posts of user %s feed: %w", userID, err)
	}

	items := make([]*events.FeedItem, 0, len(entries))
	for i, e := range entries {
		body, ok := bodies[i].(string)
		if !ok {
			continue
		}
		var post map[string]any
		if err := json.Unmarshal([]byte(body), &post); err != nil {
			r.logger.Debug("dropping undecodable cached post", "key", keys[i], "error", err)
			continue
		}
		items = append(items, &events.FeedItem{
			PostID:    fmt.Sprint(e.Member),
			Timestamp: int64(e.Score),
			Post:      post,
		})
	}
	return items, nil
}
