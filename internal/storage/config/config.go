package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds connection settings for the document store and the feed cache.
type Config struct {
	Mongo MongoConfig `yaml:"mongo"`
	Redis RedisConfig `yaml:"redis"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	DatabaseName   string        `yaml:"database_name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxPoolSize    uint64        `yaml:"max_pool_size"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			DatabaseName:   "postfeed",
			ConnectTimeout: 30 * time.Second,
			MaxPoolSize:    50,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = defaults.Mongo.ConnectTimeout
	}
	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = defaults.Mongo.MaxPoolSize
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaults.Redis.Addr
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("MONGO_DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Redis.DB = db
		}
	}
}

// ResolvePaths is a no-op; storage config has no file paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("storage.mongo.uri is required")
	}
	if c.Mongo.DatabaseName == "" {
		return errors.New("storage.mongo.database_name is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("storage.redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return errors.New("storage.redis.db must not be negative")
	}
	return nil
}
