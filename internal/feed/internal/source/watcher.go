package source

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Stream is an open change stream. *mongo.ChangeStream satisfies it.
type Stream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
	ResumeToken() bson.Raw
}

// Watcher opens change streams.
type Watcher interface {
	Watch(ctx context.Context, pipeline mongo.Pipeline, opts *options.ChangeStreamOptions) (Stream, error)
}

type collectionWatcher struct {
	coll *mongo.Collection
}

// CollectionWatcher opens collection-level change streams on coll.
func CollectionWatcher(coll *mongo.Collection) Watcher {
	return &collectionWatcher{coll: coll}
}

func (w *collectionWatcher) Watch(ctx context.Context, pipeline mongo.Pipeline, opts *options.ChangeStreamOptions) (Stream, error) {
	cs, err := w.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}
	return cs, nil
}
