// Package normalizer converts MongoDB change stream events into ChangeEvents.
package normalizer

import (
	"encoding/hex"
	"fmt"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	"github.com/syntrixbase/postfeed/internal/storage/mongo"
	"github.com/zeebo/blake3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RawEvent represents a MongoDB change stream event before normalization.
type RawEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	FullDocument  bson.M              `bson:"fullDocument,omitempty"`
	DocumentKey   bson.M              `bson:"documentKey"`
	Namespace     struct {
		DB   string `bson:"db"`
		Coll string `bson:"coll"`
	} `bson:"ns"`
	ResumeToken bson.Raw `bson:"_id"`
}

// Normalizer converts RawEvents to ChangeEvents.
type Normalizer struct{}

// New creates a new Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts a RawEvent to an acknowledgeable ChangeEvent.
func (n *Normalizer) Normalize(raw *RawEvent) (*events.ChangeEvent, error) {
	opType, ok := events.ParseOperationType(raw.OperationType)
	if !ok {
		return nil, fmt.Errorf("unknown operation type: %s", raw.OperationType)
	}

	docID, err := extractDocumentID(raw.DocumentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to extract document ID: %w", err)
	}

	var fullDoc map[string]any
	if raw.FullDocument != nil && opType != events.OperationDelete {
		fullDoc = mongo.ConvertDocument(raw.FullDocument)
	}

	evt := events.NewChangeEvent(
		generateEventID(raw.ClusterTime, raw.Namespace.Coll, docID, opType, raw.ResumeToken),
		opType,
		docID,
		fullDoc,
		raw.ResumeToken,
	)
	evt.ClusterTime = events.ClusterTimeFromPrimitive(raw.ClusterTime)
	return evt, nil
}

// extractDocumentID extracts the document ID from the documentKey.
func extractDocumentID(docKey bson.M) (string, error) {
	if docKey == nil {
		return "", fmt.Errorf("documentKey is nil")
	}

	id, ok := docKey["_id"]
	if !ok {
		// Sharded collections may key on a compound shard key
		return mongo.FormatID(docKey), nil
	}

	docID := mongo.FormatID(id)
	if docID == "" {
		return "", fmt.Errorf("documentKey has empty _id")
	}
	return docID, nil
}

// generateEventID derives a stable id from the cluster time, document,
// operation and resume token, so a redelivered event keeps the id it had the
// first time. Events of one transaction share a cluster time; the token keeps
// them apart.
func generateEventID(ct primitive.Timestamp, collection, docID string, op events.OperationType, token bson.Raw) string {
	h := blake3.New()
	_, _ = h.Write([]byte(collection + "/" + docID + "/" + string(op) + "/"))
	_, _ = h.Write(token)
	sum := h.Sum(nil)
	return fmt.Sprintf("%d-%d-%s", ct.T, ct.I, hex.EncodeToString(sum[:8]))
}
