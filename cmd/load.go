package cmd

import (
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2world-go/internal/config"
	"github.com/wegman-software/osm2world-go/internal/export"
	"github.com/wegman-software/osm2world-go/internal/logger"
)

var loadCmd = &cobra.Command{
	Use:   "load <world.parquet>",
	Short: "Load a Parquet world into PostgreSQL",
	Long: `Load a world written by "file --format parquet" into PostgreSQL.

The tiles end up in the same tables the pg command writes. --bbox sets the
extent recorded for the run.`,
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	log.Info("Starting PostgreSQL load",
		zap.String("input", args[0]),
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("user", cfg.DBUser),
		zap.String("schema", cfg.DBSchema),
	)

	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}

	start := time.Now()
	ctx, stop := signalContext()
	defer stop()

	exp, err := export.NewPostgresExporter(ctx, cfg.ConnectionString(), cfg.DBSchema, 0, worldMeta())
	if err != nil {
		exitWithError("failed to connect", err)
	}
	defer exp.Close()

	if err := exp.LoadParquet(ctx, args[0]); err != nil {
		exitWithError("load failed", err)
	}

	log.Info("Load complete", zap.Duration("duration", time.Since(start).Round(time.Second)))
}
