package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/export"
	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/pipeline"
)

// generate reads cfg.InputFile into a world and runs the exporters on it
func generate(ctx context.Context, exporters ...export.Exporter) {
	log := logger.Get()
	totalStart := time.Now()

	logFields := []zap.Field{
		zap.String("input", cfg.InputFile),
		zap.String("rules", cfg.RulesFile),
		zap.Int("poi_rules", len(cfg.Rules.POI)),
		zap.Int("street_rules", len(cfg.Rules.Streets)),
		zap.Int("area_rules", len(cfg.Rules.Areas)),
	}
	if cfg.BBox != nil && cfg.BBox.IsSet {
		logFields = append(logFields, zap.Stringer("bbox", cfg.BBox))
	}
	log.Info("Starting world generation", logFields...)

	reader := feed.NewPBFReader(cfg.InputFile, feed.Options{
		BBox:          cfg.BBox,
		NodeIndexPath: cfg.NodeIndexFile,
	})

	coordinator, err := pipeline.NewCoordinator(cfg, reader, exporters...)
	if err != nil {
		reader.Close()
		exitWithError("failed to create pipeline", err)
	}

	_, err = coordinator.Run(ctx)
	if cerr := reader.Close(); cerr != nil {
		log.Warn("Failed to close node index", zap.Error(cerr))
	}
	if err != nil {
		exitWithError("world generation failed", err)
	}

	log.Info("Done", zap.Duration("total_time", time.Since(totalStart).Round(time.Second)))
	logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func worldMeta() export.Meta {
	return export.NewMeta(cfg.BBox.Bound())
}
