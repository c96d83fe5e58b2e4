package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/postfeed/internal/storage/config"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{
		Addr:        mr.Addr(),
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.DB(0).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_SelectsDB(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr(), DB: 2})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.DB(2).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(context.Background(), config.RedisConfig{
		Addr:        addr,
		DialTimeout: 100 * time.Millisecond,
	})
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestNewClient_RequiresPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	_, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)

	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr(), Password: "secret"})
	require.NoError(t, err)
	client.Close()
}
