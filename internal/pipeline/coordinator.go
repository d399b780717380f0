// Package pipeline runs a source through the ingest workers into a world
// and hands the result to the exporters.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2world-go/internal/config"
	"github.com/wegman-software/osm2world-go/internal/export"
	"github.com/wegman-software/osm2world-go/internal/ingest"
	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/metrics"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// progressInterval is how often live progress is logged
const progressInterval = 5 * time.Second

// Coordinator orchestrates one world generation run
type Coordinator struct {
	cfg       *config.Config
	source    Source
	exporters []export.Exporter

	world   *world.World
	gen     *ingest.Generator
	handler *ingest.Handler
}

// NewCoordinator validates cfg and prepares an empty world
func NewCoordinator(cfg *config.Config, source Source, exporters ...export.Exporter) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	w := world.New(world.NewGrid(cfg.Size.X, cfg.Size.Y))
	gen := ingest.NewGenerator(w, cfg.Rules, logger.Get())
	handler := ingest.NewHandler(gen, ingest.Options{
		NodeWorkers:   cfg.Workers.Node,
		WayWorkers:    cfg.Workers.Way,
		AreaWorkers:   cfg.Workers.Area,
		QueueCapacity: cfg.QueueCapacity,
		BatchSize:     cfg.BatchSize,
	})

	return &Coordinator{
		cfg:       cfg,
		source:    source,
		exporters: exporters,
		world:     w,
		gen:       gen,
		handler:   handler,
	}, nil
}

// World returns the world being built. It is only safe to read once Run
// returned.
func (c *Coordinator) World() *world.World {
	return c.world
}

// Run reads the source, waits for every worker to finish and exports the
// world. The world is complete even when an exporter fails.
func (c *Coordinator) Run(ctx context.Context) (*Stats, error) {
	log := logger.Get()
	stats := &Stats{}

	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(c.cfg.MetricsInterval, log)
		collector.AddProbe(c.metricsFields)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	nodes, ways, areas := c.handler.Workers()
	log.Info("Starting ingest",
		zap.Int("node_workers", nodes),
		zap.Int("way_workers", ways),
		zap.Int("area_workers", areas),
		zap.Int("queue_capacity", c.cfg.QueueCapacity),
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Int("size_x", c.cfg.Size.X),
		zap.Int("size_y", c.cfg.Size.Y))

	start := time.Now()
	c.handler.Start()

	progressCtx, cancelProgress := context.WithCancel(ctx)
	go c.reportProgress(progressCtx)

	runErr := c.source.Run(ctx, c.handler)

	// Workers always drain, also after a read error
	c.handler.Stop()
	c.handler.Join()
	cancelProgress()

	if runErr != nil {
		return nil, fmt.Errorf("reading input failed: %w", runErr)
	}
	stats.IngestDuration = time.Since(start)
	c.collectStats(stats)
	c.logStats(stats)

	exportStart := time.Now()
	if err := c.export(ctx); err != nil {
		return stats, err
	}
	stats.ExportDuration = time.Since(exportStart)

	log.Info("World generation complete",
		zap.Int("tiles", stats.World.Tiles),
		zap.Duration("ingest", stats.IngestDuration.Round(time.Millisecond)),
		zap.Duration("export", stats.ExportDuration.Round(time.Millisecond)))
	return stats, nil
}

// export runs all exporters concurrently; they only read the world
func (c *Coordinator) export(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.exporters {
		g.Go(func() error {
			if err := e.Export(gctx, c.world); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) collectStats(stats *Stats) {
	if s, ok := c.source.(statsSource); ok {
		stats.Read = s.Stats()
	}
	stats.Ingest = c.gen.Stats()
	stats.World = c.world.Counts()
	stats.Batches = c.handler.BatchStats()
}

func (c *Coordinator) logStats(stats *Stats) {
	log := logger.Get()
	for _, k := range []struct {
		name string
		s    ingest.KindStats
	}{
		{"nodes", stats.Ingest.Nodes},
		{"ways", stats.Ingest.Ways},
		{"areas", stats.Ingest.Areas},
	} {
		log.Info("Ingest statistics",
			zap.String("kind", k.name),
			zap.Int64("received", k.s.Received),
			zap.Int64("matched", k.s.Matched),
			zap.Int64("dropped", k.s.Dropped),
			zap.Int64("rejected", k.s.Rejected),
			zap.Int64("inserted", k.s.Inserted),
			zap.Int64("skipped_waypoints", k.s.Skipped))
	}
	log.Info("World built",
		zap.Int("tiles", stats.World.Tiles),
		zap.Int("poi", stats.World.POI),
		zap.Int("streets", stats.World.Streets),
		zap.Int("areas", stats.World.Areas),
		zap.Int64("batches_allocated", stats.Batches.Allocated),
		zap.Int64("batches_reused", stats.Batches.Reused),
		zap.Duration("duration", stats.IngestDuration.Round(time.Millisecond)))
}

func (c *Coordinator) metricsFields() []zap.Field {
	nodes, ways, areas := c.handler.QueueDepths()
	return []zap.Field{
		zap.Int("tiles", c.world.Len()),
		zap.Int("queued_node_batches", nodes),
		zap.Int("queued_way_batches", ways),
		zap.Int("queued_area_batches", areas),
	}
}

func (c *Coordinator) reportProgress(ctx context.Context) {
	log := logger.Get()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	src, ok := c.source.(progressSource)
	var tracker Tracker

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.gen.Stats()
			fields := []zap.Field{
				zap.Int64("nodes", s.Nodes.Received),
				zap.Int64("ways", s.Ways.Received),
				zap.Int64("areas", s.Areas.Received),
			}
			if ok {
				pass, scanned, total := src.Progress()
				received := s.Nodes.Received + s.Ways.Received + s.Areas.Received
				fields = append(fields, tracker.Update(pass, scanned, total, received).Fields()...)
			}
			log.Info("Progress", fields...)
		}
	}
}
