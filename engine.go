package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/upload-engine/chunkup/internal/cache"
	"github.com/upload-engine/chunkup/internal/chunk"
	"github.com/upload-engine/chunkup/internal/config"
	"github.com/upload-engine/chunkup/internal/manager"
	"github.com/upload-engine/chunkup/internal/pipeline"
	"github.com/upload-engine/chunkup/internal/queue"
	"github.com/upload-engine/chunkup/internal/resource"
	"github.com/upload-engine/chunkup/internal/retry"
	"github.com/upload-engine/chunkup/internal/security"
	"github.com/upload-engine/chunkup/internal/state"
	"github.com/upload-engine/chunkup/internal/workerpool"
	"github.com/upload-engine/chunkup/internal/wsproxy"
)

// engine collects every component the upload commands share: the state
// store, the resumable upload manager (C11), the queue scheduler (C12),
// and the security/resource components the pipeline factory closes over.
// One engine is built per CLI invocation and torn down via Close.
type engine struct {
	cfg *config.Config

	states *state.Manager
	mgr    *manager.Manager
	queue  *queue.Scheduler

	pool       *workerpool.Pool
	accountant *resource.Accountant
	keyManager *security.KeyManager
	rateLimit  *security.RateLimiter
	tokens     *security.TokenManager
	bandwidth  *security.BandwidthLimiter
	chunks     *cache.Cache
	wsHub      *wsproxy.Hub

	closers []func() error
}

// buildEngine wires every component named in cc.Cfg. Pass a background
// context; it is only used for the SQLite backend's migration run.
func buildEngine(ctx context.Context, cc *CLIContext) (*engine, error) {
	cfg := cc.Cfg

	backend, statePath, err := openStateBackend(ctx, cfg, cc.Logger)
	if err != nil {
		return nil, err
	}

	autosave, err := parseDurationOrZero(cfg.Resumable.AutoSaveInterval)
	if err != nil {
		return nil, fmt.Errorf("resumable.auto_save_interval: %w", err)
	}

	states := state.NewManager(backend, autosave, cc.Logger)

	maxMemory, err := config.ParseSize(cfg.Resource.MaxMemoryUsage)
	if err != nil {
		return nil, fmt.Errorf("resource.max_memory_usage: %w", err)
	}

	accountant := resource.New(maxMemory, resource.Thresholds{
		Warning:  cfg.Resource.Thresholds.Warning,
		Critical: cfg.Resource.Thresholds.Critical,
	}, cc.Logger)

	pool := workerpool.New(
		workerpool.DefaultWorkerCount(cfg.Transfers.ConcurrentStreams),
		pipeline.NewWorkerHandler(),
		0,
		cfg.Transfers.RetryAttempts,
		cc.Logger,
	)

	var keyManager *security.KeyManager
	if cfg.Security.Encryption.Enabled {
		keyManager = security.NewKeyManager(cfg.Security.Encryption.KeySize / 8)
	}

	var rateLimit *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		rateLimit = security.NewRateLimiter(cfg.Security.RateLimit.MaxRequestsPerMinute, cfg.Security.RateLimit.MaxConcurrentUploads)
	}

	var tokens *security.TokenManager
	if cfg.Security.AccessControl.Enabled {
		expiration, err := time.ParseDuration(cfg.Security.AccessControl.TokenExpiration)
		if err != nil {
			return nil, fmt.Errorf("security.access_control.token_expiration: %w", err)
		}

		tokens = security.NewTokenManager(expiration, cfg.Security.AccessControl.MaxTokensPerUser)
	}

	var bandwidth *security.BandwidthLimiter
	if limit, err := config.ParseSize(cfg.Transfers.BandwidthLimit); err == nil && limit > 0 {
		bandwidth = security.NewBandwidthLimiter(limit)
	}

	var chunks *cache.Cache
	if cfg.Cache.Enabled {
		ttl, err := parseDurationOrZero(cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("cache.ttl: %w", err)
		}

		chunks = cache.New(cfg.Cache.Capacity, ttl)
	}

	deps := pipeline.Deps{
		Chunker:    chunk.New(),
		Pool:       pool,
		KeyManager: keyManager,
		Accountant: accountant,
		Bandwidth:  bandwidth,
		Cache:      chunks,
		HTTPClient: transferHTTPClient(),
	}

	factory := func(pcfg pipeline.Config) *pipeline.Pipeline {
		return pipeline.New(pcfg, deps)
	}

	mgr := manager.New(states, retry.NewClassifier(), factory, cc.Logger)

	maxConcurrentFiles := 0
	if cfg.Security.RateLimit.Enabled {
		maxConcurrentFiles = cfg.Security.RateLimit.MaxConcurrentUploads
	}

	e := &engine{
		cfg:        cfg,
		states:     states,
		mgr:        mgr,
		queue:      queue.New(maxConcurrentFiles),
		pool:       pool,
		accountant: accountant,
		keyManager: keyManager,
		rateLimit:  rateLimit,
		tokens:     tokens,
		bandwidth:  bandwidth,
		chunks:     chunks,
	}

	e.closers = append(e.closers, states.Close, func() error { pool.Dispose(); return nil })

	_ = statePath // retained on the struct only via states; kept for callers that log it

	return e, nil
}

// Close releases every component the engine opened, in reverse dependency
// order, returning the first error encountered.
func (e *engine) Close() error {
	if e.wsHub != nil {
		e.wsHub.Close()
	}

	var first error

	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// validationConfig translates cfg.Security into security.ValidationConfig,
// parsing the human-readable max file size.
func validationConfig(cfg *config.Config) (security.ValidationConfig, error) {
	maxSize, err := config.ParseSize(cfg.Security.MaxFileSize)
	if err != nil {
		return security.ValidationConfig{}, fmt.Errorf("security.max_file_size: %w", err)
	}

	return security.ValidationConfig{
		MaxFileSize:           maxSize,
		AllowedMimeTypes:      cfg.Security.AllowedMimeTypes,
		AllowedExtensions:     cfg.Security.AllowedExtensions,
		ValidateFileSignature: cfg.Security.ValidateFileSignature,
		EnableVirusScan:       cfg.Security.EnableVirusScan,
	}, nil
}

// chunkingProfile builds the single size-based FileTypeConfig chunkup uses
// by default, from cfg.Transfers.ChunkSize. --chunk-mode lines on the
// upload command builds a KindLines profile instead.
func chunkingProfile(cfg *config.Config) (chunk.FileTypeConfig, error) {
	size, err := config.ParseSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return chunk.FileTypeConfig{}, fmt.Errorf("transfers.chunk_size: %w", err)
	}

	return chunk.FileTypeConfig{
		MIMEPattern: "other",
		Chunking:    chunk.Config{Kind: chunk.KindSize, Value: int(size)},
	}, nil
}

// openStateBackend selects the file or SQLite state backend per
// cfg.Resumable.StorageAdapter, resolving the state path from (in priority
// order) CHUNKUP_STATE_PATH, cfg.Resumable.StatePath, and a platform
// default under the data directory.
func openStateBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Backend, string, error) {
	path := resolveStatePath(cfg)

	switch cfg.Resumable.StorageAdapter {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("creating state directory: %w", err)
		}

		backend, err := state.NewSQLiteBackend(ctx, path, logger)
		if err != nil {
			return nil, "", fmt.Errorf("opening sqlite state backend: %w", err)
		}

		return backend, path, nil
	default:
		backend, err := state.NewFileBackend(path)
		if err != nil {
			return nil, "", fmt.Errorf("opening file state backend: %w", err)
		}

		return backend, path, nil
	}
}

func resolveStatePath(cfg *config.Config) string {
	env := config.ReadEnvOverrides()
	if env.StatePath != "" {
		return env.StatePath
	}

	if cfg.Resumable.StatePath != "" {
		return cfg.Resumable.StatePath
	}

	name := "state"
	if cfg.Resumable.StorageAdapter == "sqlite" {
		name = "state.db"
	}

	return filepath.Join(config.DefaultDataDir(), name)
}

func parseDurationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
