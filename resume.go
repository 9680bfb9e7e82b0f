package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <file>",
		Short: "Resume a previously paused or interrupted upload",
		Long: `Resume continues a file's upload from its last persisted chunk state.
It fails if no resumable state exists for the file (nothing was ever
started, or the upload already completed).

Examples:
  chunkup resume report.csv --endpoint https://upload.example.com/chunks
  chunkup resume report.csv --file-id nightly-report --endpoint https://upload.example.com/chunks`,
		Args: cobra.ExactArgs(1),
		RunE: runResume,
	}

	cmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "destination URL chunks are POSTed to (required)")
	cmd.Flags().StringVar(&flagFileID, "file-id", "", "identifier for the upload state (defaults to the file's base name)")
	cmd.Flags().StringVar(&flagMimeType, "mime-type", "", "override the detected MIME type")
	cmd.Flags().StringVar(&flagChunkMode, "chunk-mode", "size", `chunking strategy: "size" or "lines"`)
	cmd.Flags().IntVar(&flagRowsPerChunk, "rows-per-chunk", 100, "rows per chunk when --chunk-mode=lines")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	path := args[0]

	fileID := flagFileID
	if fileID == "" {
		fileID = fileIDFromPath(path)
	}

	eng, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	resumable, err := eng.states.CanResume(cmd.Context(), fileID)
	if err != nil {
		return fmt.Errorf("checking resumability of %s: %w", fileID, err)
	}

	if !resumable {
		return fmt.Errorf("no resumable state for %q — start a fresh upload instead", fileID)
	}

	chunking, err := resolveChunkingProfile(cc.Cfg)
	if err != nil {
		return err
	}

	stats, err := runOneTransfer(cmd.Context(), cc, eng, chunking, fileID, path, true)
	if err != nil {
		return err
	}

	cc.Statusf("%s: resumed, %s / %s uploaded\n", fileID, formatSize(stats.UploadedBytes), formatSize(stats.TotalBytes))

	return nil
}
