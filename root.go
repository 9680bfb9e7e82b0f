package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/upload-engine/chunkup/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Flags collects the persistent CLI flags every command can read through
// CLIContext, replacing ad-hoc global-variable plumbing in each command.
type Flags struct {
	ConfigPath string
	JSON       bool
	Quiet      bool
	Verbose    bool
	Debug      bool
}

// Global persistent flag destinations, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that load configuration themselves
// (or don't need it at all), so PersistentPreRunE skips the automatic
// resolution step for them.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config and logger. Created once in
// PersistentPreRunE; eliminates redundant buildLogger/config-load calls in
// RunE handlers.
type CLIContext struct {
	Cfg    *config.Config
	Holder *config.Holder
	Logger *slog.Logger
	Flags  Flags
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
// Returns nil if no config was loaded (e.g., commands that skip config).
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require config (no
// skipConfigAnnotation). Panics are always programmer errors — the command
// tree should guarantee the context is populated before RunE executes.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chunkup",
		Short:   "Resumable chunked file upload engine",
		Long:    "chunkup chunks, validates, and resiliently uploads files over HTTP, persisting enough state to pause and resume across restarts.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration before every command. Commands
		// annotated with skipConfigAnnotation handle config access themselves.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	// Register subcommands.
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// loadConfig resolves the effective configuration (defaults -> file ->
// env/flags) and stores the result in the command's context for use by
// subcommands.
func loadConfig(cmd *cobra.Command) error {
	// Bootstrap logger derived from CLI flags only (config doesn't exist yet).
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	path := config.ResolveConfigPath(env, flagConfigPath)

	logger.Debug("resolving config", slog.String("path", path))

	cfg, err := config.LoadOrDefault(path, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Build the final logger incorporating the config-file log level.
	finalLogger := buildLogger(cfg)

	cc := &CLIContext{
		Cfg:    cfg,
		Holder: config.NewHolder(cfg, path),
		Logger: finalLogger,
		Flags: Flags{
			ConfigPath: path,
			JSON:       flagJSON,
			Quiet:      flagQuiet,
			Verbose:    flagVerbose,
			Debug:      flagDebug,
		},
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by cfg's log level and CLI
// flags. Pass nil for pre-config bootstrap (no config-file log level).
// Config-file log level provides the baseline; --verbose, --debug, and
// --quiet override it (mutually exclusive, enforced by Cobra).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// transferHTTPClient returns the HTTP client used for chunk uploads. Large
// file transfers have no natural upper bound on duration, so it carries no
// overall timeout; per-chunk retry and backoff is handled by the Error
// Classifier (C7) instead.
func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}
