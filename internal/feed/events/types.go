// Package events defines the records that flow through the feed pipeline:
// change events observed on the posts collection and the enriched sink
// records projected into the feed cache.
package events

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperationType represents the type of change operation.
// All values are lowercase to match MongoDB change stream semantics.
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// IsValid checks if the operation type is one the pipeline understands.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// ParseOperationType converts a change stream operationType into an
// OperationType. Full-document replacements are folded into updates.
func ParseOperationType(s string) (OperationType, bool) {
	if s == "replace" {
		return OperationUpdate, true
	}
	op := OperationType(s)
	return op, op.IsValid()
}

// ClusterTime represents a MongoDB cluster timestamp.
type ClusterTime struct {
	T uint32 `json:"T"` // Seconds since epoch
	I uint32 `json:"I"` // Increment within second
}

// IsZero returns true if the ClusterTime is unset.
func (c ClusterTime) IsZero() bool {
	return c.T == 0 && c.I == 0
}

// ClusterTimeFromPrimitive converts a MongoDB primitive.Timestamp to ClusterTime.
func ClusterTimeFromPrimitive(ts primitive.Timestamp) ClusterTime {
	return ClusterTime{T: ts.T, I: ts.I}
}

// ChangeEvent is one mutation observed on the watched collection.
//
// A ChangeEvent is consumed exactly once by the operator chain. The consumer
// calls Ack once processing has finished; the source persists ResumeToken as
// the checkpoint only after that.
type ChangeEvent struct {
	EventID      string
	Type         OperationType
	DocumentKey  string
	FullDocument map[string]any
	ResumeToken  bson.Raw
	ClusterTime  ClusterTime

	ackOnce sync.Once
	acked   chan struct{}
}

// NewChangeEvent creates a ChangeEvent that can be acknowledged.
func NewChangeEvent(eventID string, op OperationType, documentKey string, fullDoc map[string]any, token bson.Raw) *ChangeEvent {
	return &ChangeEvent{
		EventID:      eventID,
		Type:         op,
		DocumentKey:  documentKey,
		FullDocument: fullDoc,
		ResumeToken:  token,
		acked:        make(chan struct{}),
	}
}

// Ack marks the event as processed. Safe to call more than once.
func (e *ChangeEvent) Ack() {
	if e.acked == nil {
		return
	}
	e.ackOnce.Do(func() { close(e.acked) })
}

// Acked returns a channel that is closed once Ack has been called.
// Events built without NewChangeEvent return a nil channel.
func (e *ChangeEvent) Acked() <-chan struct{} {
	return e.acked
}

// Author is the subset of a user document the feed needs.
type Author struct {
	ID        string   `json:"_id"`
	Name      string   `json:"name"`
	Avatar    string   `json:"avatar"`
	Followers []string `json:"followers"`
}

// Summary returns the author representation embedded into cached posts.
func (a *Author) Summary() map[string]any {
	return map[string]any{
		"_id":    a.ID,
		"name":   a.Name,
		"avatar": a.Avatar,
	}
}

// Post is a post document with its author already joined.
type Post struct {
	ID       string
	Document map[string]any
	Author   *Author
}

// SinkRecord is the enriched, self-contained unit handed to the feed sink.
type SinkRecord struct {
	EventID     string
	PostID      string
	AuthorID    string
	Timestamp   int64 // Unix milliseconds, the feed score
	Type        OperationType
	FollowerIDs []string       // nil when unknown, empty when the author has no followers
	Document    map[string]any // nil for deletes
}

// Map exposes the record as a plain map, used by expression filters.
func (r *SinkRecord) Map() map[string]any {
	followers := make([]any, len(r.FollowerIDs))
	for i, f := range r.FollowerIDs {
		followers[i] = f
	}
	doc := r.Document
	if doc == nil {
		doc = map[string]any{}
	}
	return map[string]any{
		"postId":        r.PostID,
		"authorId":      r.AuthorID,
		"timestamp":     r.Timestamp,
		"operationType": string(r.Type),
		"followerIds":   followers,
		"document":      doc,
	}
}

// FeedItem is one entry of a user's feed as served to readers.
type FeedItem struct {
	PostID    string         `json:"postId"`
	Timestamp int64          `json:"timestamp"`
	Post      map[string]any `json:"post"`
}

// Notification is published after a record has been projected.
type Notification struct {
	EventID     string        `json:"eventId"`
	PostID      string        `json:"postId"`
	AuthorID    string        `json:"authorId,omitempty"`
	Type        OperationType `json:"operationType"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	FollowerIDs []string      `json:"followerIds,omitempty"`
}

// NotificationFromRecord builds the notification for a projected record.
func NotificationFromRecord(r *SinkRecord) *Notification {
	return &Notification{
		EventID:     r.EventID,
		PostID:      r.PostID,
		AuthorID:    r.AuthorID,
		Type:        r.Type,
		Timestamp:   r.Timestamp,
		FollowerIDs: r.FollowerIDs,
	}
}
