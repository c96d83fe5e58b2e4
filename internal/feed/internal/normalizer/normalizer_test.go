package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/postfeed/internal/feed/events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newRawEvent(op string, key bson.M, doc bson.M) *RawEvent {
	raw := &RawEvent{
		OperationType: op,
		ClusterTime:   primitive.Timestamp{T: 1700000000, I: 3},
		FullDocument:  doc,
		DocumentKey:   key,
	}
	raw.Namespace.DB = "social"
	raw.Namespace.Coll = "posts"
	raw.ResumeToken, _ = bson.Marshal(bson.M{"_data": "token"})
	return raw
}

func TestNormalize_Insert(t *testing.T) {
	t.Parallel()
	oid := primitive.NewObjectID()
	author := primitive.NewObjectID()

	evt, err := New().Normalize(newRawEvent("insert",
		bson.M{"_id": oid},
		bson.M{"_id": oid, "author": author, "title": "hello"},
	))
	require.NoError(t, err)

	assert.Equal(t, events.OperationInsert, evt.Type)
	assert.Equal(t, oid.Hex(), evt.DocumentKey)
	assert.Equal(t, author.Hex(), evt.FullDocument["author"])
	assert.Equal(t, "hello", evt.FullDocument["title"])
	assert.Equal(t, events.ClusterTime{T: 1700000000, I: 3}, evt.ClusterTime)
	assert.NotEmpty(t, evt.ResumeToken)
	assert.NotNil(t, evt.Acked())
}

func TestNormalize_ReplaceIsUpdate(t *testing.T) {
	t.Parallel()
	evt, err := New().Normalize(newRawEvent("replace", bson.M{"_id": "p1"}, bson.M{"_id": "p1"}))
	require.NoError(t, err)
	assert.Equal(t, events.OperationUpdate, evt.Type)
}

func TestNormalize_DeleteHasNoDocument(t *testing.T) {
	t.Parallel()
	evt, err := New().Normalize(newRawEvent("delete", bson.M{"_id": "p1"}, bson.M{"_id": "p1"}))
	require.NoError(t, err)
	assert.Equal(t, events.OperationDelete, evt.Type)
	assert.Nil(t, evt.FullDocument)
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()
	n := New()

	_, err := n.Normalize(newRawEvent("drop", bson.M{"_id": "p1"}, nil))
	assert.ErrorContains(t, err, "unknown operation type")

	_, err = n.Normalize(newRawEvent("insert", nil, nil))
	assert.ErrorContains(t, err, "documentKey is nil")

	_, err = n.Normalize(newRawEvent("insert", bson.M{"_id": ""}, nil))
	assert.ErrorContains(t, err, "empty _id")
}

func TestNormalize_CompoundKey(t *testing.T) {
	t.Parallel()
	evt, err := New().Normalize(newRawEvent("delete", bson.M{"shard": "a", "seq": int32(1)}, nil))
	require.NoError(t, err)
	assert.Len(t, evt.DocumentKey, 32)
}

func TestGenerateEventID(t *testing.T) {
	t.Parallel()
	ct := primitive.Timestamp{T: 10, I: 2}
	token, err := bson.Marshal(bson.M{"_data": "8265A1"})
	require.NoError(t, err)

	id := generateEventID(ct, "posts", "p1", events.OperationInsert, token)
	assert.Equal(t, id, generateEventID(ct, "posts", "p1", events.OperationInsert, token), "ids are deterministic")
	assert.Regexp(t, `^10-2-[0-9a-f]{16}$`, id)
	assert.NotEqual(t, id, generateEventID(ct, "posts", "p2", events.OperationInsert, token))
	assert.NotEqual(t, id, generateEventID(primitive.Timestamp{T: 10, I: 3}, "posts", "p1", events.OperationInsert, token))
	assert.NotEqual(t, id, generateEventID(ct, "posts", "p1", events.OperationDelete, token))

	other, err := bson.Marshal(bson.M{"_data": "8265A2"})
	require.NoError(t, err)
	assert.NotEqual(t, id, generateEventID(ct, "posts", "p1", events.OperationInsert, other))
}

func TestNormalize_SameTransactionEventsHaveDistinctIDs(t *testing.T) {
	t.Parallel()
	n := New()
	oid := primitive.NewObjectID()

	// Events of one transaction share the cluster time
	insert := newRawEvent("insert", bson.M{"_id": oid}, bson.M{"_id": oid})
	update := newRawEvent("update", bson.M{"_id": oid}, bson.M{"_id": oid})
	update.ResumeToken, _ = bson.Marshal(bson.M{"_data": "token-2"})
	secondUpdate := newRawEvent("update", bson.M{"_id": oid}, bson.M{"_id": oid})
	secondUpdate.ResumeToken, _ = bson.Marshal(bson.M{"_data": "token-3"})
	del := newRawEvent("delete", bson.M{"_id": oid}, nil)

	ids := make(map[string]string)
	for name, raw := range map[string]*RawEvent{
		"insert": insert, "update": update, "secondUpdate": secondUpdate, "delete": del,
	} {
		evt, err := n.Normalize(raw)
		require.NoError(t, err)
		for other, id := range ids {
			assert.NotEqual(t, id, evt.EventID, "%s and %s share an id", name, other)
		}
		ids[name] = evt.EventID
	}

	// A redelivered event keeps its id
	again, err := n.Normalize(newRawEvent("delete", bson.M{"_id": oid}, nil))
	require.NoError(t, err)
	assert.Equal(t, ids["delete"], again.EventID)
}
