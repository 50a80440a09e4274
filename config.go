package mentatsync

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DatabaseOptions holds the configuration for the SQL backend.
type DatabaseOptions struct {
	// Driver is the database/sql driver name: "sqlite3" or "mysql".
	Driver string `json:"driver"`
	// DSN is the driver-specific data source name.
	DSN string `json:"dsn"`
	// CreateTables creates the database tables at startup if they
	// don't exist yet.
	CreateTables bool `json:"create_tables"`
	// MaxOpenConns caps the number of open connections in the pool.
	MaxOpenConns int `json:"max_open_conns,omitempty"`
	// MaxIdleConns caps the number of idle pooled connections.
	MaxIdleConns int `json:"max_idle_conns,omitempty"`
	// MaxWaiters caps the number of callers allowed to block waiting for
	// a connection; the backlog beyond it fails fast instead of queueing
	// behind a stalled engine.
	MaxWaiters int `json:"max_waiters,omitempty"`
}

// RedisCacheConfig holds configuration for the optional Redis cache layer.
type RedisCacheConfig struct {
	// Address is the host:port of the Redis server/cluster.
	Address string `json:"address"`
	// Password is the password used to authenticate.
	Password string `json:"password"`
	// DB is the database index to select.
	DB int `json:"db"`
	// TTLSeconds is the expiration of cached entries; 0 means no expiry.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// TTL returns the entry expiration as a duration.
func (c RedisCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// S3ChunkConfig holds configuration for the optional S3 chunk payload
// offload. When set, chunk payloads live in the named bucket and the SQL
// chunks table only records existence.
type S3ChunkConfig struct {
	// HostEndpointUrl, e.g. "http://127.0.0.1:9000" for minio.
	HostEndpointUrl string `json:"host_endpoint_url"`
	// Region, e.g. "us-east-1".
	Region string `json:"region"`
	// Bucket receiving the chunk payloads.
	Bucket   string `json:"bucket"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config is the service configuration consumed by cmd/mentatsyncd.
type Config struct {
	// Listen is the host:port the HTTP surface binds to.
	Listen string `json:"listen"`
	// Database configures the SQL backend.
	Database DatabaseOptions `json:"database"`
	// Redis, when present, wraps the backend with the caching layer.
	Redis *RedisCacheConfig `json:"redis,omitempty"`
	// S3, when present, offloads chunk payloads to an S3 bucket.
	S3 *S3ChunkConfig `json:"s3,omitempty"`
}

// DefaultConfig returns a configuration suitable for local development:
// an on-disk SQLite database and no cache or blob offload.
func DefaultConfig() Config {
	return Config{
		Listen: "localhost:8080",
		Database: DatabaseOptions{
			Driver:       "sqlite3",
			DSN:          "file:mentatsync.db?_journal_mode=WAL&_busy_timeout=5000",
			CreateTables: true,
		},
	}
}

// LoadConfig reads a JSON config file, applying DefaultConfig for any
// fields the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	ba, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(ba, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
