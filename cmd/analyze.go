package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"spectra/types"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var (
		pending bool
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze [track-id...]",
		Short: "Launch the worker and analyze tracks without the server",
		Args: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) > 0) {
				return errors.New("pass either track ids or --pending")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid track id %q", arg)
				}
				ids = append(ids, id)
			}

			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			if !cfg.Worker.Enabled {
				return errors.New("worker supervision is disabled in the configuration")
			}
			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return errors.New("a spectra server is running; use POST /api/tracks/:id/analyze instead")
			}
			defer func() { _ = lock.Unlock() }()

			a, err := newApp(cfg, logger, appOptions{supervise: true})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = a.close(closeCtx)
			}()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Waiting for the worker to become ready...")
			if err := waitFor(cmd.Context(), wait, a.supervisor.Ready); err != nil {
				return fmt.Errorf("worker not ready: %w", err)
			}

			if pending {
				queued, err := a.core.ResumePending(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Queued %d pending tracks\n", queued)
			} else {
				for _, id := range ids {
					track, queued, err := a.core.RequestAnalysis(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("track %d: %w", id, err)
					}
					if !queued {
						fmt.Fprintf(out, "Track #%d already analyzed (%s)\n", id, describeTrack(track))
					}
				}
			}

			idle := func() bool {
				for _, stats := range a.core.QueueStats() {
					if stats.Name == types.QueueAnalysis {
						return stats.Pending == 0 && stats.Running == 0
					}
				}
				return true
			}
			if err := waitFor(cmd.Context(), 0, idle); err != nil {
				return err
			}

			if len(ids) > 0 {
				tracks := make([]*types.Track, 0, len(ids))
				for _, id := range ids {
					track, err := a.core.GetTrack(cmd.Context(), id)
					if err != nil {
						return err
					}
					tracks = append(tracks, track)
				}
				fmt.Fprintln(out, renderTracks(tracks))
			}
			stats, err := a.core.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d analyzed, %d pending, %d failed\n", stats.Analyzed, stats.Pending, stats.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Analyze every pending track")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "How long to wait for the worker to load")
	return cmd
}

// waitFor polls cond until it holds, ctx ends or timeout (when positive)
// elapses.
func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
