package pipeline

import (
	"context"
	"time"

	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/ingest"
	"github.com/wegman-software/osm2world-go/internal/stash"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// Source feeds records to a handler. feed.PBFReader is the production
// source.
type Source interface {
	Run(ctx context.Context, h feed.Handler) error
}

// progressSource is implemented by sources that can report how far they are
type progressSource interface {
	Progress() (pass feed.Pass, scanned, total int64)
}

// statsSource is implemented by sources that count what they read
type statsSource interface {
	Stats() feed.Stats
}

// Stats holds the statistics of one run
type Stats struct {
	Read    feed.Stats
	Ingest  ingest.Stats
	World   world.Counts
	Batches stash.PoolStats

	IngestDuration time.Duration // Reading and classification
	ExportDuration time.Duration
}
