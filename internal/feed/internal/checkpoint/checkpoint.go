// Package checkpoint provides resume token persistence for the change stream.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrMalformed is returned by Load when the stored checkpoint cannot be decoded.
var ErrMalformed = errors.New("malformed checkpoint")

// Store defines the interface for persisting resume tokens.
type Store interface {
	// Save persists the resume token.
	Save(ctx context.Context, token bson.Raw) error

	// Load retrieves the last saved resume token.
	// Returns nil if no checkpoint exists.
	Load(ctx context.Context) (bson.Raw, error)

	// Delete removes the checkpoint.
	Delete(ctx context.Context) error
}

// RedisStore implements Store on a single Redis string key.
//
// Tokens are kept as relaxed extended JSON ({"_data": "..."}), the same shape a
// driver-agnostic JSON encoding of the change event _id produces.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a checkpoint store writing to key.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, token bson.Raw) error {
	if token == nil {
		return nil
	}

	data, err := bson.MarshalExtJSON(token, false, false)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint token: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (bson.Raw, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	token, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return bson.Raw(token), nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
