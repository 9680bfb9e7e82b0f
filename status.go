package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [file-id]...",
		Short: "Show persisted state for one or more uploads",
		Long: `Status prints each named file's persisted upload state: phase, bytes
uploaded, chunk progress, and whether it can still be resumed.

With no arguments, every file with known persisted state is reported.`,
		RunE: runStatus,
	}
}

// statusEntry is the JSON/text row printed for one file.
type statusEntry struct {
	FileID      string `json:"file_id"`
	Status      string `json:"status"`
	Uploaded    int64  `json:"uploaded_bytes"`
	Total       int64  `json:"total_bytes"`
	ChunksDone  int    `json:"chunks_done"`
	ChunksTotal int    `json:"chunks_total"`
	Resumable   bool   `json:"resumable"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	eng, err := buildEngine(ctx, cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	fileIDs := args
	if len(fileIDs) == 0 {
		fileIDs, err = eng.states.ListFileIDs(ctx)
		if err != nil {
			return fmt.Errorf("listing known uploads: %w", err)
		}
	}

	if len(fileIDs) == 0 {
		cc.Statusf("no uploads tracked\n")

		return nil
	}

	entries, err := collectStatusEntries(ctx, eng, fileIDs)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printStatusJSON(entries)
	}

	printStatusText(entries)

	return nil
}

func collectStatusEntries(ctx context.Context, eng *engine, fileIDs []string) ([]statusEntry, error) {
	entries := make([]statusEntry, 0, len(fileIDs))

	for _, fileID := range fileIDs {
		s, err := eng.states.GetUploadState(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("loading state for %s: %w", fileID, err)
		}

		if s == nil {
			continue
		}

		entries = append(entries, statusEntry{
			FileID:      fileID,
			Status:      string(s.Status),
			Uploaded:    s.BytesUploaded,
			Total:       s.FileSize,
			ChunksDone:  len(s.UploadedChunks),
			ChunksTotal: s.TotalChunks,
			Resumable:   s.Status.IsResumable(),
		})
	}

	return entries, nil
}

func printStatusJSON(entries []statusEntry) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(entries []statusEntry) {
	headers := []string{"FILE ID", "STATUS", "UPLOADED", "CHUNKS", "RESUMABLE"}
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		rows = append(rows, []string{
			e.FileID,
			e.Status,
			fmt.Sprintf("%s / %s", formatSize(e.Uploaded), formatSize(e.Total)),
			fmt.Sprintf("%d / %d", e.ChunksDone, e.ChunksTotal),
			fmt.Sprintf("%t", e.Resumable),
		})
	}

	printTable(os.Stdout, headers, rows)
}
