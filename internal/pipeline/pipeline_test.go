package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/wegman-software/osm2world-go/internal/config"
	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/style"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// sliceSource feeds a fixed set of records
type sliceSource struct {
	nodes []*feed.Node
	ways  []*feed.Way
	areas []*feed.Area
	err   error
}

func (s *sliceSource) Run(ctx context.Context, h feed.Handler) error {
	for _, n := range s.nodes {
		h.Node(n)
	}
	for _, w := range s.ways {
		h.Way(w)
	}
	for _, a := range s.areas {
		h.Area(a)
	}
	return s.err
}

func (s *sliceSource) Stats() feed.Stats {
	return feed.Stats{Nodes: int64(len(s.nodes)), Ways: int64(len(s.ways)), Areas: int64(len(s.areas))}
}

// countingExporter records what it saw
type countingExporter struct {
	counts world.Counts
	err    error
}

func (e *countingExporter) Export(ctx context.Context, w *world.World) error {
	e.counts = w.Counts()
	return e.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workers = config.Workers{Node: 2, Way: 2, Area: 2, Upload: 1}
	cfg.Size = config.Size{X: 100, Y: 100}
	cfg.BatchSize = 8
	cfg.QueueCapacity = 2
	cfg.MetricsInterval = 0
	cfg.Rules = &style.Config{
		POI:     []style.Rule{{Type: 1, Required: map[string][]string{"amenity": {"pharmacy"}}}},
		Streets: []style.Rule{{Type: 2, Required: map[string][]string{"highway": {}}}},
		Areas:   []style.Rule{{Type: 3, Required: map[string][]string{"landuse": {}}}},
	}
	return cfg
}

func testSource() *sliceSource {
	src := &sliceSource{}
	for i := 0; i < 100; i++ {
		src.nodes = append(src.nodes, &feed.Node{
			ID: int64(i), Tags: style.Tags{"amenity": "pharmacy"}, Location: orb.Point{10.0, 50.0}, Visible: true,
		})
	}
	src.nodes = append(src.nodes, &feed.Node{ID: 500, Tags: style.Tags{"shop": "bakery"}, Location: orb.Point{10.0, 50.0}, Visible: true})
	src.ways = []*feed.Way{{
		ID:   1,
		Tags: style.Tags{"highway": "primary"},
		Nodes: []feed.NodeRef{
			{ID: 1, Location: orb.Point{10.005, 50.005}, Valid: true},
			{ID: 2, Location: orb.Point{10.015, 50.005}, Valid: true},
		},
	}}
	src.areas = []*feed.Area{
		{ID: 2, Tags: style.Tags{"landuse": "grass"}, Visible: true,
			Outer: []orb.Ring{{{10.001, 50.001}, {10.002, 50.001}, {10.002, 50.002}, {10.001, 50.001}}}},
		{ID: 3, Tags: style.Tags{"landuse": "grass"}, Visible: true},
	}
	return src
}

func TestCoordinatorRun(t *testing.T) {
	exp := &countingExporter{}
	c, err := NewCoordinator(testConfig(), testSource(), exp)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := world.Counts{Tiles: 2, POI: 100, Streets: 2, Areas: 1}
	if diff := cmp.Diff(want, stats.World); diff != "" {
		t.Errorf("world counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, exp.counts); diff != "" {
		t.Errorf("exported counts mismatch (-want +got):\n%s", diff)
	}
	if stats.Read.Nodes != 101 {
		t.Errorf("Read.Nodes = %d, want 101", stats.Read.Nodes)
	}
	if stats.Ingest.Nodes.Dropped != 1 || stats.Ingest.Areas.Rejected != 1 {
		t.Errorf("Ingest = %+v", stats.Ingest)
	}

	tile, ok := c.World().Tile(world.Key{X: 1000, Y: 5000})
	if !ok || len(tile.POI) != 100 {
		t.Errorf("tile (1000, 5000) = %+v", tile)
	}
}

func TestCoordinatorSourceError(t *testing.T) {
	src := testSource()
	src.err = errors.New("truncated file")
	exp := &countingExporter{}

	c, err := NewCoordinator(testConfig(), src, exp)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, src.err) {
		t.Fatalf("Run() error = %v, want %v", err, src.err)
	}
	if exp.counts != (world.Counts{}) {
		t.Errorf("exporter ran after a read error: %+v", exp.counts)
	}
	// Workers still drained everything handed to them
	if got := c.World().Counts().POI; got != 100 {
		t.Errorf("POI = %d, want 100", got)
	}
}

func TestCoordinatorExportError(t *testing.T) {
	exp := &countingExporter{err: errors.New("disk full")}
	c, err := NewCoordinator(testConfig(), testSource(), exp)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	stats, err := c.Run(context.Background())
	if !errors.Is(err, exp.err) {
		t.Fatalf("Run() error = %v, want %v", err, exp.err)
	}
	if stats == nil || stats.World.POI != 100 {
		t.Errorf("stats = %+v, want ingest stats despite export failure", stats)
	}
}

func TestNewCoordinatorInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BBox = &config.BBox{MinLon: 10, MinLat: 10, MaxLon: 10, MaxLat: 20, IsSet: true}
	_, err := NewCoordinator(cfg, testSource())
	if !errors.Is(err, config.ErrInvalidBBox) {
		t.Errorf("NewCoordinator() error = %v, want %v", err, config.ErrInvalidBBox)
	}
}

func TestTracker(t *testing.T) {
	var tr Tracker
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.updateAt(start, feed.PassNodes, 0, 1000, 100)
	got := tr.updateAt(start.Add(10*time.Second), feed.PassNodes, 250, 1000, 600)

	want := Progress{
		Pass:    feed.PassNodes,
		Scanned: 250,
		Total:   1000,
		Records: 500,
		Percent: 25,
		Elapsed: 10 * time.Second,
		ETA:     30 * time.Second,
		Rate:    50,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Progress mismatch (-want +got):\n%s", diff)
	}

	// A new pass restarts the clock and the record baseline
	got = tr.updateAt(start.Add(20*time.Second), feed.PassWays, 2000, 1000, 700)
	if got.Records != 0 || got.Elapsed != 0 || got.Rate != 0 {
		t.Errorf("new pass = %+v, want zero records, elapsed and rate", got)
	}
	if got.Percent != 100 || got.ETA != 0 {
		t.Errorf("Percent = %v, ETA = %v, want 100 and 0", got.Percent, got.ETA)
	}
}

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatETA(0), "calculating..."},
		{FormatETA(42 * time.Second), "42s"},
		{FormatETA(3*time.Minute + 5*time.Second), "3m 5s"},
		{FormatETA(2*time.Hour + time.Minute), "2h 1m 0s"},
		{FormatThroughput(12), "12/s"},
		{FormatThroughput(1500), "1.5K/s"},
		{FormatThroughput(2_500_000), "2.5M/s"},
		{FormatBytes(512), "512 B"},
		{FormatBytes(2048), "2.0 KB"},
		{FormatBytes(3 << 20), "3.0 MB"},
		{FormatBytes(5 << 30), "5.0 GB"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
