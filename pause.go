package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upload-engine/chunkup/internal/config"
	"github.com/upload-engine/chunkup/internal/model"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <file-id>",
		Short: "Pause an upload's persisted state",
		Long: `Pause marks a file's persisted upload state as paused, so a later
"chunkup resume" continues it rather than starting over.

If a "chunkup watch" daemon is running, it is sent SIGHUP to reload
configuration and pick up the change immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	fileID := args[0]

	eng, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("assembling upload engine: %w", err)
	}
	defer eng.Close()

	ctx := cmd.Context()

	if err := eng.mgr.PauseUpload(fileID); err != nil {
		cc.Logger.Debug("pause: no in-process upload to cancel, marking persisted state instead", "file_id", fileID, "error", err)
	}

	s, err := eng.states.GetUploadState(ctx, fileID)
	if err != nil {
		return fmt.Errorf("loading state for %s: %w", fileID, err)
	}

	if s == nil {
		return fmt.Errorf("no upload state found for %q", fileID)
	}

	if !s.Status.IsResumable() {
		return fmt.Errorf("%s is in status %q and cannot be paused", fileID, s.Status)
	}

	s.Status = model.StatusPaused

	if err := eng.states.SaveUploadState(ctx, s); err != nil {
		return fmt.Errorf("saving paused state for %s: %w", fileID, err)
	}

	cc.Statusf("%s paused\n", fileID)
	notifyWatchDaemon(cc)

	return nil
}

// notifyWatchDaemon attempts to send SIGHUP to a running "chunkup watch"
// daemon so it reloads configuration immediately. Non-fatal: if no daemon
// is running, this is silently skipped.
func notifyWatchDaemon(cc *CLIContext) {
	pidPath := config.PIDFilePath()
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		cc.Logger.Debug("no running watch daemon to notify", "error", err)

		return
	}

	cc.Statusf("notified running watch daemon to reload config\n")
}
