package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2world-go/internal/export"
)

var pgCmd = &cobra.Command{
	Use:   "pg <input.osm.pbf>",
	Short: "Generate a world and load it into PostgreSQL",
	Long: `Generate a world and load it into PostgreSQL.

Tiles are copied into <schema>.world_tiles (one JSONB document per tile) and
the run is recorded in <schema>.world_runs under a fresh UUID.`,
	Args: cobra.ExactArgs(1),
	Run:  runPG,
}

func init() {
	rootCmd.AddCommand(pgCmd)
}

func runPG(cmd *cobra.Command, args []string) {
	loadConfig(args[0])

	ctx, stop := signalContext()
	defer stop()

	exp, err := export.NewPostgresExporter(ctx, cfg.ConnectionString(), cfg.DBSchema, cfg.Workers.Upload, worldMeta())
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer exp.Close()

	generate(ctx, exp)
}
