package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/upload-engine/chunkup/internal/chunk"
	"github.com/upload-engine/chunkup/internal/config"
	"github.com/upload-engine/chunkup/internal/manager"
	"github.com/upload-engine/chunkup/internal/model"
	"github.com/upload-engine/chunkup/internal/pipeline"
	"github.com/upload-engine/chunkup/internal/queue"
	"github.com/upload-engine/chunkup/internal/security"
	"github.com/upload-engine/chunkup/internal/wsproxy"
)

// localUser is the rate-limiter/token identity for every upload issued by
// this CLI process. chunkup has no multi-tenant auth layer of its own —
// the Security Gate's per-user bookkeeping still runs, scoped to one user.
const localUser = "local"

var (
	flagEndpoint      string
	flagFileID        string
	flagMimeType      string
	flagPriority      int
	flagChunkMode     string
	flagRowsPerChunk  int
	flagMaxConcurrent int
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload one or more files, resumably",
		Long: `Chunks each file, validates it against the Security Gate, and streams
it to --endpoint. Progress and final state are persisted so an interrupted
upload can be continued with "chunkup resume".

Multiple files are admitted through the queue scheduler (C12), which caps
how many upload concurrently per security.rate_limit.max_concurrent_uploads.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "destination URL chunks are POSTed to (required)")
	cmd.Flags().StringVar(&flagFileID, "file-id", "", "identifier for the upload state (defaults to the file's base name; only valid with one file)")
	cmd.Flags().StringVar(&flagMimeType, "mime-type", "", "override the detected MIME type")
	cmd.Flags().IntVar(&flagPriority, "priority", 0, "queue priority, higher runs first")
	cmd.Flags().StringVar(&flagChunkMode, "chunk-mode", "size", `chunking strategy: "size" or "lines"`)
	cmd.Flags().IntVar(&flagRowsPerChunk, "rows-per-chunk", 100, "rows per chunk when --chunk-mode=lines")
	cmd.Flags().IntVar(&flagMaxConcurrent, "max-concurrent", 0, "override security.rate_limit.max_concurrent_uploads (0 keeps the config value)")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

// fileIDFromPath derives the default file identifier for a path: its base
// name, so the same file at different locations but the same name shares
// resumable state (and a different name never collides with it).
func fileIDFromPath(path string) string {
	return filepath.Base(path)
}

// fileSource adapts an *os.File to chunk.Source.
type fileSource struct{ f *os.File }

func (s fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s fileSource) Size() int64 {
	info, err := s.f.Stat()
	if err != nil {
		return 0
	}

	return info.Size()
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagFileID != "" && len(args) > 1 {
		return fmt.Errorf("--file-id can only be used with a single file")
	}

	if flagMaxConcurrent > 0 {
		cc.Cfg.Security.RateLimit.Enabled = true
		cc.Cfg.Security.RateLimit.MaxConcurrentUploads = flagMaxConcurrent
	}

	eng, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	chunking, err := resolveChunkingProfile(cc.Cfg)
	if err != nil {
		return err
	}

	if cc.Cfg.Security.RateLimit.Enabled {
		eng.queue.SetMaxConcurrent(cc.Cfg.Security.RateLimit.MaxConcurrentUploads)
	}

	eng.queue.Subscribe(func(ev queue.Event) {
		if cc.Flags.JSON {
			return
		}

		cc.Statusf("[%s] %s\n", ev.FileID, ev.Kind)
	})

	pathByID := make(map[string]string, len(args))

	for _, path := range args {
		fileID := flagFileID
		if fileID == "" {
			fileID = filepath.Base(path)
		}

		pathByID[fileID] = path
		eng.queue.Enqueue(fileID, flagPriority)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failed  []string
		pending = len(args)
	)

	for pending > 0 {
		item, ok := eng.queue.GetNext()
		if !ok {
			time.Sleep(20 * time.Millisecond)

			continue
		}

		pending--

		wg.Add(1)

		go func(item model.QueueItem) {
			defer wg.Done()

			path := pathByID[item.FileID]

			stats, uploadErr := runOneTransfer(cmd.Context(), cc, eng, chunking, item.FileID, path, false)
			if uploadErr == nil {
				eng.queue.Complete(item.FileID, stats)

				return
			}

			eng.queue.Fail(item.FileID, stats)

			if item.RetryAttempts < cc.Cfg.Resumable.MaxRetries {
				if _, ok := eng.queue.Retry(item.FileID); ok {
					mu.Lock()
					pending++
					mu.Unlock()

					return
				}
			}

			cc.Logger.Error("upload failed permanently", "file_id", item.FileID, "error", uploadErr)

			mu.Lock()
			failed = append(failed, item.FileID)
			mu.Unlock()
		}(item)
	}

	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("%d file(s) failed: %v", len(failed), failed)
	}

	return nil
}

// runOneTransfer validates and uploads (or resumes) a single file end to
// end, returning the stats the queue scheduler records against it.
func runOneTransfer(ctx context.Context, cc *CLIContext, eng *engine, chunking chunk.FileTypeConfig, fileID, path string, resume bool) (model.UploadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.UploadStats{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	src := fileSource{f: f}
	size := src.Size()

	mimeType := flagMimeType
	if mimeType == "" {
		mimeType = detectMimeType(f, path)
	}

	valCfg, err := validationConfig(cc.Cfg)
	if err != nil {
		return model.UploadStats{}, err
	}

	if err := security.ValidateFile(ctx, security.FileInfo{
		Name:     path,
		MimeType: mimeType,
		Size:     size,
		Reader:   f,
	}, valCfg); err != nil {
		return model.UploadStats{}, fmt.Errorf("security gate rejected %s: %w", path, err)
	}

	if eng.rateLimit != nil {
		if err := eng.rateLimit.CheckRateLimit(localUser); err != nil {
			return model.UploadStats{}, err
		}
		defer eng.rateLimit.ReleaseRateLimit(localUser)
	}

	if eng.keyManager != nil {
		if err := eng.keyManager.GenerateKey(fileID); err != nil {
			return model.UploadStats{}, fmt.Errorf("generating encryption key: %w", err)
		}
		defer eng.keyManager.DestroyKey(fileID)
	}

	var uploadErr error

	if eng.tokens != nil {
		tokenPath := config.TokenFilePath(fileID)

		token, err := acquireToken(eng, tokenPath, resume)
		if err != nil {
			return model.UploadStats{}, fmt.Errorf("acquiring access token: %w", err)
		}

		defer func() {
			if uploadErr != nil {
				if perr := eng.tokens.PersistToken(tokenPath, token); perr != nil {
					cc.Logger.Warn("failed to persist access token for resume", "file_id", fileID, "error", perr)
				}

				return
			}

			eng.tokens.Revoke(token)

			if rerr := security.ForgetPersisted(tokenPath); rerr != nil {
				cc.Logger.Warn("failed to remove persisted access token", "file_id", fileID, "error", rerr)
			}
		}()
	}

	start := time.Now()

	req := manager.UploadRequest{
		FileID:   fileID,
		FileName: filepath.Base(path),
		FileSize: size,
		MimeType: mimeType,
		Endpoint: flagEndpoint,
		Source:   src,
		Chunking: chunking,
		Pipeline: pipelineConfig(cc),
		OnProgress: func(p model.Progress) {
			if eng.wsHub != nil {
				eng.wsHub.Broadcast(wsproxy.EventFromProgress(p, string(model.StatusUploading)))
			}

			if cc.Flags.JSON {
				return
			}

			sep := "\n"
			if renderProgress(os.Stderr) {
				sep = "\r"
			}

			cc.Statusf("%s: %s / %s (%.0f KB/s)%s", fileID, formatSize(p.BytesUploaded), formatSize(p.TotalBytes), p.Speed/1024, sep)
		},
	}

	if resume {
		uploadErr = eng.mgr.ResumeUpload(ctx, req)
	} else {
		uploadErr = eng.mgr.StartUpload(ctx, req)
	}

	s, stateErr := eng.states.GetUploadState(ctx, fileID)

	stats := model.UploadStats{StartTime: start, TotalBytes: size}
	if stateErr == nil && s != nil {
		stats.UploadedBytes = s.BytesUploaded
		stats.ChunksUploaded = len(s.UploadedChunks)
		stats.TotalChunks = s.TotalChunks
	}

	return stats, uploadErr
}

// acquireToken gets the access token the Security Gate (C8) requires for
// this transfer. On a resume it first tries to restore the token persisted
// by the interrupted attempt, so the gate's per-user token bookkeeping
// survives the pause/resume boundary instead of accumulating one token per
// retry; it falls back to minting a fresh one if none was persisted.
func acquireToken(eng *engine, tokenPath string, resume bool) (string, error) {
	if resume && tokenPath != "" {
		if token, err := eng.tokens.LoadToken(tokenPath); err != nil {
			return "", err
		} else if token != "" {
			return token, nil
		}
	}

	return eng.tokens.IssueToken(localUser), nil
}

// pipelineConfig translates cfg.Transfers/Resumable into the parts of
// pipeline.Config the manager's resumablePipelineConfig doesn't overwrite
// per call (FileID, Endpoint, ResumeToken and friends are set there).
func pipelineConfig(cc *CLIContext) pipeline.Config {
	return pipeline.Config{
		ConcurrentStreams:  cc.Cfg.Transfers.ConcurrentStreams,
		CompressionEnabled: cc.Cfg.Transfers.CompressionEnabled,
		ValidateChunks:     cc.Cfg.Transfers.ValidateChunks,
		ChecksumEnabled:    cc.Cfg.Resumable.ChecksumVerification,
	}
}

// resolveChunkingProfile builds the chunk.FileTypeConfig for this upload
// run: size-based from cfg.Transfers.ChunkSize by default, or line-based
// when --chunk-mode=lines for tabular formats (CSV/Excel).
func resolveChunkingProfile(cfg *config.Config) (chunk.FileTypeConfig, error) {
	if flagChunkMode == "lines" {
		return chunk.FileTypeConfig{
			MIMEPattern: "other",
			Chunking:    chunk.Config{Kind: chunk.KindLines, Value: flagRowsPerChunk},
		}, nil
	}

	return chunkingProfile(cfg)
}

func detectMimeType(f *os.File, path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}

	buf := make([]byte, 512)
	n, _ := f.ReadAt(buf, 0)

	return http.DetectContentType(buf[:n])
}

// renderProgress reports whether progress should use a live,
// carriage-return-updated line (an interactive terminal) rather than one
// line per update (piped or redirected output), per spec.md §5.2.
func renderProgress(w *os.File) bool {
	return isatty.IsTerminal(w.Fd())
}
