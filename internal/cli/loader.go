package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmwren/replica/internal/compiler"
	"github.com/jmwren/replica/internal/config"
	"github.com/jmwren/replica/internal/journal"
	"github.com/jmwren/replica/pkg/entity"
	"github.com/jmwren/replica/pkg/remote"
)

// Environment bundles everything a command needs to touch a configured
// deployment: the parsed config, the compiled type registry, the
// persistence backend, and the journal.
type Environment struct {
	Config   *config.Config
	Registry *entity.Registry
	Service  remote.Service
	Journal  *journal.Journal // nil when journaling is disabled
	Logger   *slog.Logger
}

// LoadEnvironment builds the environment from a config file path. An
// empty path picks up replica.yaml in the working directory when present,
// defaults and REPLICA_* environment variables otherwise.
func LoadEnvironment(configPath string, verbose bool) (*Environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging.Level, verbose)

	reg, err := loadRegistry(cfg.Metadata.Files)
	if err != nil {
		return nil, err
	}

	svc, err := openBackend(cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Config:   cfg,
		Registry: reg,
		Service:  svc,
		Logger:   logger,
	}

	if cfg.Journal.Path != "" {
		jnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		env.Journal = jnl
	}

	return env, nil
}

// Close releases the journal and the backend, keeping the first error.
func (e *Environment) Close() error {
	var first error
	if e.Journal != nil {
		if err := e.Journal.Close(); err != nil {
			first = err
		}
	}
	if e.Service != nil {
		if err := e.Service.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// loadRegistry compiles the configured metadata files into a registry.
// No files means dynamic mode: a nil registry, every type gets the
// default definition.
func loadRegistry(files []string) (*entity.Registry, error) {
	if len(files) == 0 {
		return nil, nil
	}

	metas, errs := compiler.CompileFiles(files)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compiling metadata: %w", errors.Join(errs...))
	}
	reg, err := compiler.BuildRegistry(metas)
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}
	return reg, nil
}

// loadRegistryFromConfig builds just the registry, for commands that read
// the journal without opening a backend.
func loadRegistryFromConfig(configPath string) (*entity.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return loadRegistry(cfg.Metadata.Files)
}

// openBackend constructs the persistence service named by backend.kind.
// The config has already validated kind-specific settings.
func openBackend(cfg *config.Config, reg *entity.Registry, logger *slog.Logger) (remote.Service, error) {
	switch cfg.Backend.Kind {
	case config.BackendMemory:
		return remote.NewMemory(reg), nil
	case config.BackendREST:
		return remote.NewREST(cfg.Backend.REST.BaseURL, reg, logger), nil
	case config.BackendSQLite:
		return remote.OpenSQLite(cfg.Backend.SQLite.Path, reg)
	case config.BackendRedis:
		return remote.NewRedis(remote.RedisOptions{
			Addr:     cfg.Backend.Redis.Addr,
			Password: cfg.Backend.Redis.Password,
			DB:       cfg.Backend.Redis.DB,
			TTL:      cfg.Backend.Redis.TTL,
		}, reg), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// newLogger builds the structured logger commands hand to the store.
// The verbose flag forces debug regardless of the configured level.
func newLogger(level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
