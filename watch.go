package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/upload-engine/chunkup/internal/config"
	"github.com/upload-engine/chunkup/internal/model"
	"github.com/upload-engine/chunkup/internal/queue"
	"github.com/upload-engine/chunkup/internal/wsproxy"
)

var (
	flagWatchEndpoint string
	flagSweepInterval time.Duration
	flagSweepTTL      time.Duration
	flagWSAddr        string
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Watch a directory and upload files dropped into it",
		Long: `Watch runs as a long-lived daemon: every file created in <directory>
is admitted to the queue scheduler (C12) and uploaded to --endpoint. It
writes a PID file so "chunkup pause" can notify it, and reloads its
configuration on SIGHUP without restarting.

A background sweep periodically deletes persisted state for uploads that
finished (or failed permanently) more than --sweep-ttl ago.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().StringVar(&flagWatchEndpoint, "endpoint", "", "destination URL chunks are POSTed to (required)")
	cmd.Flags().DurationVar(&flagSweepInterval, "sweep-interval", 10*time.Minute, "how often to sweep expired session state")
	cmd.Flags().DurationVar(&flagSweepTTL, "sweep-ttl", 24*time.Hour, "how long a completed or failed session is kept before being swept")
	cmd.Flags().StringVar(&flagWSAddr, "ws-addr", "", "serve live progress events over WebSocket at this address (e.g. :8081); disabled when empty")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	dir := args[0]

	eng, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	pidPath := config.PIDFilePath()

	cleanup, err := writePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if flagWSAddr != "" {
		closeWS, err := startWebSocketServer(flagWSAddr, eng, cc.Logger)
		if err != nil {
			return err
		}
		defer closeWS()
	}

	go runSweepLoop(ctx, eng, cc.Logger)
	go runReloadLoop(ctx, cc)

	chunking, err := resolveChunkingProfile(cc.Cfg)
	if err != nil {
		return err
	}

	eng.queue.Subscribe(func(ev queue.Event) {
		cc.Logger.Info("queue event", "file_id", ev.FileID, "kind", ev.Kind)
	})

	cc.Statusf("watching %s, uploading to %s\n", dir, flagWatchEndpoint)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()

			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				wg.Wait()

				return nil
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			path := ev.Name
			fileID := fileIDFromPath(path)

			eng.queue.Enqueue(fileID, 0)

			item, ok := eng.queue.GetNext()
			if !ok {
				continue
			}

			wg.Add(1)

			go func(item model.QueueItem, path string) {
				defer wg.Done()

				stats, uploadErr := runOneTransfer(ctx, cc, eng, chunking, item.FileID, path, false)
				if uploadErr != nil {
					eng.queue.Fail(item.FileID, stats)
					cc.Logger.Error("watch upload failed", "path", path, "error", uploadErr)

					return
				}

				eng.queue.Complete(item.FileID, stats)
			}(item, path)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				wg.Wait()

				return nil
			}

			cc.Logger.Error("watcher error", "error", watchErr)
		}
	}
}

// startWebSocketServer starts the optional progress-event WebSocket adapter
// (SPEC_FULL.md §5.7) on addr, sets eng.wsHub so runOneTransfer's
// OnProgress callback broadcasts to it, and returns a function that shuts
// the server down.
func startWebSocketServer(addr string, eng *engine, logger *slog.Logger) (func(), error) {
	hub := wsproxy.NewHub(logger)
	eng.wsHub = hub

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting websocket listener on %s: %w", addr, err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket server stopped unexpectedly", "error", err)
		}
	}()

	logger.Info("serving progress events over websocket", "addr", addr, "path", "/ws")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
		eng.wsHub = nil
	}, nil
}

// runSweepLoop periodically removes expired terminal session state, per
// resumable session-file TTL sweeping.
func runSweepLoop(ctx context.Context, eng *engine, logger *slog.Logger) {
	ticker := time.NewTicker(flagSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := eng.states.SweepExpired(ctx, flagSweepTTL)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)

				continue
			}

			if len(removed) > 0 {
				logger.Info("swept expired session state", "count", len(removed))
			}
		}
	}
}

// runReloadLoop reloads cc's Holder from the config file on SIGHUP. Only
// the Holder is updated: the engine built at startup, including the queue's
// concurrency cap, keeps its original settings.
func runReloadLoop(ctx context.Context, cc *CLIContext) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			cfg, err := config.LoadOrDefault(cc.Holder.Path(), cc.Logger)
			if err != nil {
				cc.Logger.Error("config reload failed", "error", err)

				continue
			}

			cc.Holder.Update(cfg)
			cc.Logger.Info("configuration reloaded", "path", cc.Holder.Path())
		}
	}
}

