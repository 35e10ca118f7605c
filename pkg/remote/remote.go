// Package remote provides the bundled persistence services. Each factory
// returns a Service ready to hand to cache.WithDataService; the
// implementations live in internal packages so the wire details stay
// private.
package remote

import (
	"log/slog"
	"time"

	"github.com/jmwren/replica/internal/remote/memory"
	"github.com/jmwren/replica/internal/remote/redis"
	"github.com/jmwren/replica/internal/remote/rest"
	"github.com/jmwren/replica/internal/remote/sqlite"
	"github.com/jmwren/replica/pkg/cache"
	"github.com/jmwren/replica/pkg/entity"
)

// Service is a data service with a uniform shutdown.
type Service interface {
	cache.DataService
	Close() error
}

// NewMemory returns an in-process service holding documents in maps.
// Nothing survives the process; it backs tests and scenario runs.
func NewMemory(reg *entity.Registry) Service {
	return memory.New(reg)
}

// NewREST returns a service speaking JSON over HTTP against baseURL.
func NewREST(baseURL string, reg *entity.Registry, logger *slog.Logger) Service {
	return rest.New(baseURL, reg, logger)
}

// OpenSQLite opens or creates a document database at path.
func OpenSQLite(path string, reg *entity.Registry) (Service, error) {
	return sqlite.Open(path, reg)
}

// RedisOptions configures the Redis-backed service.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// TTL expires documents this long after their last write; zero keeps
	// them forever.
	TTL time.Duration
}

// NewRedis returns a service persisting documents in Redis.
func NewRedis(opts RedisOptions, reg *entity.Registry) Service {
	return redis.New(redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		TTL:      opts.TTL,
	}, reg)
}
