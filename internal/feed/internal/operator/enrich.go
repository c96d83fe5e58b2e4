package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	storage "github.com/syntrixbase/postfeed/internal/storage/mongo"
)

// PostLookup reads current post and author state from the document store.
// Implementations return storage.ErrNotFound for missing documents.
type PostLookup interface {
	FindAuthor(ctx context.Context, authorID string) (*events.Author, error)
	FindPost(ctx context.Context, postID string) (*events.Post, error)
}

// Enrich turns change events into sink records. It re-reads the author and
// post instead of trusting the change payload, since followers and content
// may have changed since the mutation.
type Enrich struct {
	lookup PostLookup
	now    func() time.Time
	logger *slog.Logger
}

// NewEnrich creates the enrichment operator.
func NewEnrich(lookup PostLookup, logger *slog.Logger) *Enrich {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enrich{
		lookup: lookup,
		now:    time.Now,
		logger: logger.With("component", "feed-enrich"),
	}
}

func (e *Enrich) Name() string {
	return "enrich"
}

// Run implements Operator.
func (e *Enrich) Run(ctx context.Context, env *Envelope) (*Envelope, error) {
	evt := env.Event
	var (
		record *events.SinkRecord
		err    error
	)

	switch evt.Type {
	case events.OperationInsert:
		record, err = e.insert(ctx, evt)
	case events.OperationUpdate:
		record, err = e.update(ctx, evt)
	case events.OperationDelete:
		record = &events.SinkRecord{
			EventID: evt.EventID,
			PostID:  evt.DocumentKey,
			Type:    events.OperationDelete,
		}
	default:
		e.logger.Warn("unexpected operation type", "type", evt.Type, "eventId", evt.EventID)
		return nil, nil
	}
	if err != nil || record == nil {
		return nil, err
	}

	env.Record = record
	return env, nil
}

func (e *Enrich) insert(ctx context.Context, evt *events.ChangeEvent) (*events.SinkRecord, error) {
	if evt.FullDocument == nil {
		e.logger.Warn("insert without full document", "postId", evt.DocumentKey)
		return nil, nil
	}

	authorID := referenceID(evt.FullDocument["author"])
	if authorID == "" {
		e.logger.Warn("post has no author", "postId", evt.DocumentKey)
		return nil, nil
	}

	author, err := e.lookup.FindAuthor(ctx, authorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Info("author not found, skipping", "postId", evt.DocumentKey, "authorId", authorID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load author %s: %w", authorID, err)
	}

	doc := copyDocument(evt.FullDocument)
	doc["author"] = author.Summary()

	return &events.SinkRecord{
		EventID:     evt.EventID,
		PostID:      evt.DocumentKey,
		AuthorID:    authorID,
		Timestamp:   e.timestamp(doc["createdAt"]),
		Type:        events.OperationInsert,
		FollowerIDs: dedupe(author.Followers),
		Document:    doc,
	}, nil
}

func (e *Enrich) update(ctx context.Context, evt *events.ChangeEvent) (*events.SinkRecord, error) {
	post, err := e.lookup.FindPost(ctx, evt.DocumentKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Info("post not found, skipping", "postId", evt.DocumentKey)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load post %s: %w", evt.DocumentKey, err)
	}

	record := &events.SinkRecord{
		EventID:   evt.EventID,
		PostID:    evt.DocumentKey,
		Timestamp: e.timestamp(post.Document["updatedAt"]),
		Type:      events.OperationUpdate,
		Document:  post.Document,
	}
	if post.Author != nil {
		record.AuthorID = post.Author.ID
		record.FollowerIDs = dedupe(post.Author.Followers)
	} else {
		// The sink falls back to the author recorded at insert time
		e.logger.Warn("post author missing, deferring to cached metadata", "postId", evt.DocumentKey)
	}
	return record, nil
}

// timestamp converts a document date into unix milliseconds, falling back to now.
func (e *Enrich) timestamp(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		if !t.IsZero() {
			return t.UnixMilli()
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli()
		}
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return e.now().UnixMilli()
}

// referenceID extracts an id from a foreign key that is either the id itself
// or an embedded document.
func referenceID(v any) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]any:
		return referenceID(ref["_id"])
	case nil:
		return ""
	default:
		return storage.FormatID(ref)
	}
}

func copyDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
