package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"envsignal-platform/internal/config"
	"envsignal-platform/internal/geo"
	"envsignal-platform/pkg/logging"
)

// newBoundaryCmd fetches the country boundary and prints its extent, which is
// handy for checking a WFS endpoint before a run.
func newBoundaryCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "boundary",
		Short: "Fetch the country boundary and print its extent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if url == "" {
				url = cfg.Geo.BoundaryURL
			}

			logger := logging.NewStructuredLogger("envsignal-ingester", version, logging.ParseLevel(cfg.Logging.Level))
			logger.SetOutput(os.Stderr)

			b, err := geo.NewWFSClient(url, cfg.Geo.FetchTimeout, logger).FetchBoundary(cmd.Context())
			if err != nil {
				return err
			}

			shape := b.Shape()
			bound := shape.Bound()
			rings := 0
			for _, poly := range shape {
				rings += len(poly)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "polygons: %d\nrings:    %d\nsouth:    %.6f\nwest:     %.6f\nnorth:    %.6f\neast:     %.6f\n",
				len(shape), rings, bound.Min.Lat(), bound.Min.Lon(), bound.Max.Lat(), bound.Max.Lon())
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "WFS GetFeature URL (default: GEO_BOUNDARY_URL)")
	return cmd
}
