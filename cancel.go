package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upload-engine/chunkup/internal/config"
	"github.com/upload-engine/chunkup/internal/security"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <file-id>",
		Short: "Cancel an upload and discard its persisted state",
		Long: `Cancel stops fileID's upload if it is in-flight in this process, then
permanently deletes its persisted chunk state. Unlike pause, a canceled
upload cannot be resumed — "chunkup upload" on the same file starts over
from chunk zero.`,
		Args: cobra.ExactArgs(1),
		RunE: runCancel,
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	fileID := args[0]

	eng, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	ctx := cmd.Context()

	s, err := eng.states.GetUploadState(ctx, fileID)
	if err != nil {
		return fmt.Errorf("loading state for %s: %w", fileID, err)
	}

	if s == nil {
		return fmt.Errorf("no upload state found for %q", fileID)
	}

	if err := eng.mgr.CancelUpload(ctx, fileID); err != nil {
		return fmt.Errorf("canceling %s: %w", fileID, err)
	}

	eng.queue.Remove(fileID)

	if eng.tokens != nil {
		if err := security.ForgetPersisted(config.TokenFilePath(fileID)); err != nil {
			cc.Logger.Warn("failed to remove persisted access token", "file_id", fileID, "error", err)
		}
	}

	cc.Statusf("%s canceled\n", fileID)
	notifyWatchDaemon(cc)

	return nil
}
