package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spectra/types"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		archiveID string
		libraryID string
		title     string
		artist    string
		album     string
		filename  string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file-or-url>",
		Short: "Catalog a local file or download a remote one",
		Long: "Catalog a local file or download a remote one. Analysis is left pending " +
			"and runs once a server with a ready worker picks it up.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, appOptions{offline: true, progress: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.close(closeCtx)
			}()

			target := strings.TrimSpace(args[0])
			var resp *types.IngestResponse
			if isRemote(target) {
				resp, err = a.core.IngestRemote(cmd.Context(), types.RemoteIngestRequest{
					URL: target, ArchiveID: archiveID, LibraryID: libraryID,
					Title: title, Artist: artist, Album: album, Filename: filename,
				})
			} else {
				ref, absErr := localRef(target)
				if absErr != nil {
					return absErr
				}
				resp, err = a.core.IngestLocal(cmd.Context(), types.LocalIngestRequest{
					FileRef: ref, ArchiveID: archiveID, LibraryID: libraryID,
					Title: title, Artist: artist, Album: album,
				})
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Duplicate {
				fmt.Fprintf(out, "Already cataloged as track #%d (%s)\n", resp.TrackID, describeTrack(resp.Track))
				return nil
			}
			fmt.Fprintf(out, "Cataloged track #%d (%s), analysis pending\n", resp.TrackID, describeTrack(resp.Track))
			return nil
		},
	}
	cmd.Flags().StringVar(&archiveID, "archive-id", "", "Archive identifier of the asset")
	cmd.Flags().StringVar(&libraryID, "library-id", "", "Library identifier of the asset")
	cmd.Flags().StringVar(&title, "title", "", "Track title")
	cmd.Flags().StringVar(&artist, "artist", "", "Track artist")
	cmd.Flags().StringVar(&album, "album", "", "Album name")
	cmd.Flags().StringVar(&filename, "filename", "", "File name for downloaded assets")
	cmd.MarkFlagsMutuallyExclusive("archive-id", "library-id")
	return cmd
}

func isRemote(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// localRef keeps references relative to the storage roots unless the file
// exists relative to the working directory.
func localRef(target string) (string, error) {
	if filepath.IsAbs(target) {
		return target, nil
	}
	if _, err := os.Stat(target); err == nil {
		abs, err := filepath.Abs(target)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		return abs, nil
	}
	return target, nil
}

func describeTrack(track *types.Track) string {
	if track == nil {
		return "unknown"
	}
	if track.Artist == "" {
		return track.Title
	}
	return track.Artist + " - " + track.Title
}
