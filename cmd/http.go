package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2world-go/internal/export"
)

var httpCmd = &cobra.Command{
	Use:   "http <input.osm.pbf> <push-url>",
	Short: "Generate a world and upload every tile",
	Long: `Generate a world and POST every tile as JSON to the push URL.

Each request carries the tile position in the X-Tile-Position header ("x,y").
Tiles are spread over the upload workers by their x coordinate. Network and
5xx errors are retried; the command fails if any tile could not be uploaded.`,
	Args: cobra.ExactArgs(2),
	Run:  runHTTP,
}

func init() {
	rootCmd.AddCommand(httpCmd)

	httpCmd.Flags().StringVar(&cfg.AuthHeader, "auth", "", "Value of the Authorization header")
	httpCmd.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "Timeout per upload request")
	httpCmd.Flags().IntVar(&cfg.HTTPRetries, "retries", cfg.HTTPRetries, "Retries per tile on network and server errors")
}

func runHTTP(cmd *cobra.Command, args []string) {
	loadConfig(args[0])
	cfg.PushURL = args[1]

	exp := export.NewHTTPExporter(cfg.PushURL, export.HTTPOptions{
		Auth:       cfg.AuthHeader,
		Workers:    cfg.Workers.Upload,
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPRetries,
	})

	ctx, stop := signalContext()
	defer stop()
	generate(ctx, exp)
}
