package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"spectra/services"
	"spectra/types"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		offset int
		query  string
	)
	cmd := &cobra.Command{
		Use:   "tracks",
		Short: "List cataloged tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			catalog, err := services.OpenCatalog(cfg.Paths.DBPath, logger)
			if err != nil {
				return err
			}
			defer catalog.Close()

			var tracks []*types.Track
			if query != "" {
				tracks, err = catalog.Search(cmd.Context(), query, limit)
			} else {
				tracks, err = catalog.List(cmd.Context(), limit, offset)
			}
			if err != nil {
				return err
			}
			stats, err := catalog.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tracks) == 0 {
				fmt.Fprintln(out, "No tracks found")
				return nil
			}
			fmt.Fprintln(out, renderTracks(tracks))
			fmt.Fprintf(out, "%d tracks: %d analyzed, %d pending, %d failed, %d with cover\n",
				stats.Total, stats.Analyzed, stats.Pending, stats.Failed, stats.Covered)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringVarP(&query, "search", "s", "", "Only show tracks matching title, artist or album")
	return cmd
}

func renderTracks(tracks []*types.Track) string {
	headers := []string{"ID", "Title", "Artist", "BPM", "Key", "Analysis", "Source"}
	rows := make([][]string, 0, len(tracks))
	for _, track := range tracks {
		bpm := "-"
		if track.AnalysisStatus == types.AnalysisAnalyzed {
			bpm = strconv.FormatFloat(track.BPM, 'f', 1, 64)
		}
		rows = append(rows, []string{
			strconv.FormatInt(track.ID, 10),
			track.Title,
			track.Artist,
			bpm,
			orDash(track.KeySignature),
			services.TitleCase(string(track.AnalysisStatus)),
			string(track.Source()),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
