package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Mongo.ConnectTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("MONGO_DB_NAME", "social")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "social", cfg.Mongo.DatabaseName)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestConfig_ApplyEnvOverrides_BadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mongo.URI = ""
	assert.ErrorContains(t, cfg.Validate(), "storage.mongo.uri is required")

	cfg = DefaultConfig()
	cfg.Mongo.DatabaseName = ""
	assert.ErrorContains(t, cfg.Validate(), "database_name is required")

	cfg = DefaultConfig()
	cfg.Redis.Addr = ""
	assert.ErrorContains(t, cfg.Validate(), "storage.redis.addr is required")

	cfg = DefaultConfig()
	cfg.Redis.DB = -1
	assert.ErrorContains(t, cfg.Validate(), "must not be negative")
}
