package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect persisted, queueable uploads",
	}

	cmd.AddCommand(newQueueListCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resumable uploads a future \"chunkup upload\" run would admit",
		Long: `The queue scheduler (C12) only exists for the lifetime of one CLI
invocation — it has no state of its own between processes. This command
approximates what it would see on the next run: every persisted upload
still in a resumable (non-terminal) status, ordered as they were first
saved.`,
		RunE: runQueueList,
	}
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	eng, err := buildEngine(ctx, cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	fileIDs, err := eng.states.ListFileIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing known uploads: %w", err)
	}

	entries, err := collectStatusEntries(ctx, eng, fileIDs)
	if err != nil {
		return err
	}

	pending := entries[:0]
	for _, e := range entries {
		if e.Resumable {
			pending = append(pending, e)
		}
	}

	if cc.Flags.JSON {
		return printStatusJSON(pending)
	}

	if len(pending) == 0 {
		cc.Statusf("no resumable uploads pending\n")

		return nil
	}

	printTable(os.Stdout, []string{"FILE ID", "STATUS", "UPLOADED", "CHUNKS"}, queueRows(pending))

	return nil
}

func queueRows(entries []statusEntry) [][]string {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		rows = append(rows, []string{
			e.FileID,
			e.Status,
			fmt.Sprintf("%s / %s", formatSize(e.Uploaded), formatSize(e.Total)),
			fmt.Sprintf("%d / %d", e.ChunksDone, e.ChunksTotal),
		})
	}

	return rows
}
