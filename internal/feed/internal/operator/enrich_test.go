package operator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/postfeed/internal/feed/events"
	storage "github.com/syntrixbase/postfeed/internal/storage/mongo"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) FindAuthor(ctx context.Context, authorID string) (*events.Author, error) {
	args := m.Called(ctx, authorID)
	if a := args.Get(0); a != nil {
		return a.(*events.Author), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLookup) FindPost(ctx context.Context, postID string) (*events.Post, error) {
	args := m.Called(ctx, postID)
	if p := args.Get(0); p != nil {
		return p.(*events.Post), args.Error(1)
	}
	return nil, args.Error(1)
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestEnrich(lookup PostLookup) *Enrich {
	e := NewEnrich(lookup, nil)
	e.now = func() time.Time { return fixedNow }
	return e
}

func envelope(op events.OperationType, postID string, doc map[string]any) *Envelope {
	return &Envelope{Event: events.NewChangeEvent("evt-1", op, postID, doc, nil)}
}

func TestEnrich_Insert(t *testing.T) {
	t.Parallel()
	created := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	lookup := new(mockLookup)
	lookup.On("FindAuthor", mock.Anything, "u1").Return(&events.Author{
		ID: "u1", Name: "Ada", Avatar: "ada.png",
		Followers: []string{"f1", "f2", "f1", ""},
	}, nil)

	doc := map[string]any{"_id": "p1", "author": "u1", "title": "hi", "createdAt": created}
	out, err := newTestEnrich(lookup).Run(context.Background(), envelope(events.OperationInsert, "p1", doc))
	require.NoError(t, err)
	require.NotNil(t, out)

	r := out.Record
	assert.Equal(t, "evt-1", r.EventID)
	assert.Equal(t, "p1", r.PostID)
	assert.Equal(t, "u1", r.AuthorID)
	assert.Equal(t, events.OperationInsert, r.Type)
	assert.Equal(t, created.UnixMilli(), r.Timestamp)
	assert.Equal(t, []string{"f1", "f2"}, r.FollowerIDs)
	assert.Equal(t, map[string]any{"_id": "u1", "name": "Ada", "avatar": "ada.png"}, r.Document["author"])
	assert.Equal(t, "u1", doc["author"], "change event payload is not mutated")
	lookup.AssertExpectations(t)
}

func TestEnrich_InsertAuthorNotFound(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	lookup.On("FindAuthor", mock.Anything, "ghost").Return(nil, storage.ErrNotFound)

	out, err := newTestEnrich(lookup).Run(context.Background(),
		envelope(events.OperationInsert, "p1", map[string]any{"author": "ghost"}))
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEnrich_InsertLookupError(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	lookup.On("FindAuthor", mock.Anything, "u1").Return(nil, errors.New("timeout"))

	out, err := newTestEnrich(lookup).Run(context.Background(),
		envelope(events.OperationInsert, "p1", map[string]any{"author": "u1"}))
	assert.ErrorContains(t, err, "timeout")
	assert.Nil(t, out)
}

func TestEnrich_InsertWithoutAuthorOrDocument(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	e := newTestEnrich(lookup)

	out, err := e.Run(context.Background(), envelope(events.OperationInsert, "p1", map[string]any{"title": "x"}))
	assert.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Run(context.Background(), envelope(events.OperationInsert, "p1", nil))
	assert.NoError(t, err)
	assert.Nil(t, out)

	lookup.AssertNotCalled(t, "FindAuthor", mock.Anything, mock.Anything)
}

func TestEnrich_InsertEmbeddedAuthorReference(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	lookup.On("FindAuthor", mock.Anything, "u1").Return(&events.Author{ID: "u1"}, nil)

	out, err := newTestEnrich(lookup).Run(context.Background(),
		envelope(events.OperationInsert, "p1", map[string]any{"author": map[string]any{"_id": "u1"}}))
	require.NoError(t, err)
	assert.Equal(t, "u1", out.Record.AuthorID)
	assert.NotNil(t, out.Record.FollowerIDs, "a known author without followers yields an empty list")
	assert.Empty(t, out.Record.FollowerIDs)
	assert.Equal(t, fixedNow.UnixMilli(), out.Record.Timestamp, "missing createdAt falls back to now")
}

func TestEnrich_Update(t *testing.T) {
	t.Parallel()
	updated := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	lookup := new(mockLookup)
	lookup.On("FindPost", mock.Anything, "p1").Return(&events.Post{
		ID:       "p1",
		Document: map[string]any{"_id": "p1", "title": "edited", "updatedAt": updated},
		Author:   &events.Author{ID: "u1", Followers: []string{"f3"}},
	}, nil)

	out, err := newTestEnrich(lookup).Run(context.Background(), envelope(events.OperationUpdate, "p1", nil))
	require.NoError(t, err)

	r := out.Record
	assert.Equal(t, events.OperationUpdate, r.Type)
	assert.Equal(t, "u1", r.AuthorID)
	assert.Equal(t, []string{"f3"}, r.FollowerIDs)
	assert.Equal(t, updated.UnixMilli(), r.Timestamp)
	assert.Equal(t, "edited", r.Document["title"])
}

func TestEnrich_UpdateMissingAuthor(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	lookup.On("FindPost", mock.Anything, "p1").Return(&events.Post{
		ID:       "p1",
		Document: map[string]any{"_id": "p1"},
	}, nil)

	out, err := newTestEnrich(lookup).Run(context.Background(), envelope(events.OperationUpdate, "p1", nil))
	require.NoError(t, err)
	assert.Empty(t, out.Record.AuthorID)
	assert.Nil(t, out.Record.FollowerIDs, "followers are unknown without an author")
}

func TestEnrich_UpdatePostNotFound(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)
	lookup.On("FindPost", mock.Anything, "p1").Return(nil, storage.ErrNotFound)

	out, err := newTestEnrich(lookup).Run(context.Background(), envelope(events.OperationUpdate, "p1", nil))
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEnrich_Delete(t *testing.T) {
	t.Parallel()
	lookup := new(mockLookup)

	out, err := newTestEnrich(lookup).Run(context.Background(), envelope(events.OperationDelete, "p1", nil))
	require.NoError(t, err)
	assert.Equal(t, &events.SinkRecord{EventID: "evt-1", PostID: "p1", Type: events.OperationDelete}, out.Record)
	lookup.AssertNotCalled(t, "FindPost", mock.Anything, mock.Anything)
}

func TestEnrich_UnknownOperation(t *testing.T) {
	t.Parallel()
	out, err := newTestEnrich(new(mockLookup)).Run(context.Background(), envelope("drop", "p1", nil))
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEnrich_Timestamp(t *testing.T) {
	t.Parallel()
	e := newTestEnrich(new(mockLookup))
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"time", ts, ts.UnixMilli()},
		{"rfc3339", "2024-01-02T03:04:05Z", ts.UnixMilli()},
		{"rfc3339 fractional", "2024-01-02T03:04:05.250Z", ts.UnixMilli() + 250},
		{"epoch int64", int64(1700000000000), 1700000000000},
		{"epoch float", float64(1700000000000), 1700000000000},
		{"garbage string", "yesterday", fixedNow.UnixMilli()},
		{"zero time", time.Time{}, fixedNow.UnixMilli()},
		{"missing", nil, fixedNow.UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.timestamp(tt.in))
		})
	}
}
