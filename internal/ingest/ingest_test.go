package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/style"
	"github.com/wegman-software/osm2world-go/internal/world"
)

func testRules() *style.Config {
	return &style.Config{
		POI: []style.Rule{
			{Type: 1, Spawns: []int32{7}, Required: map[string][]string{"amenity": {"pharmacy"}}},
		},
		Streets: []style.Rule{
			{Type: 2, Required: map[string][]string{"highway": {}}},
		},
		Areas: []style.Rule{
			{Type: 3, Required: map[string][]string{"landuse": {}}},
		},
	}
}

func newTestGenerator(t *testing.T) (*Generator, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	w := world.New(world.NewGrid(100, 100))
	return NewGenerator(w, testRules(), zap.New(core)), logs
}

func square(minX, minY, maxX, maxY float64) orb.Ring {
	return orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}
}

func refs(ids []int64, pts ...orb.Point) []feed.NodeRef {
	out := make([]feed.NodeRef, len(pts))
	for i, p := range pts {
		out[i] = feed.NodeRef{ID: ids[i], Location: p, Valid: true}
	}
	return out
}

func TestPharmacyScenario(t *testing.T) {
	gen, _ := newTestGenerator(t)

	err := gen.HandleNode(&feed.Node{
		ID:       42,
		Tags:     style.Tags{"amenity": "pharmacy", "name": "X"},
		Location: orb.Point{10.0, 50.0},
		Visible:  true,
	})
	if err != nil {
		t.Fatalf("HandleNode() error = %v", err)
	}

	tile, ok := gen.World().Tile(world.Key{X: 1000, Y: 5000})
	if !ok {
		t.Fatalf("tile (1000, 5000) missing, have %d tiles", gen.World().Len())
	}
	want := []world.POI{{ID: 42, Type: 1, Position: orb.Point{10.0, 50.0}, Spawns: []int32{7}}}
	if diff := cmp.Diff(want, tile.POI); diff != "" {
		t.Errorf("POI mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleNodeDrops(t *testing.T) {
	gen, _ := newTestGenerator(t)

	nodes := []*feed.Node{
		{ID: 1, Tags: style.Tags{"amenity": "cafe"}, Location: orb.Point{1, 1}, Visible: true},
		{ID: 2, Tags: style.Tags{"amenity": "pharmacy"}, Location: orb.Point{1, 1}, Visible: false},
		{ID: 3, Location: orb.Point{1, 1}, Visible: true},
	}
	for _, n := range nodes {
		if err := gen.HandleNode(n); err != nil {
			t.Errorf("HandleNode(%d) error = %v", n.ID, err)
		}
	}

	if got := gen.World().Len(); got != 0 {
		t.Errorf("World().Len() = %d, want 0", got)
	}
	want := KindStats{Received: 3, Dropped: 3}
	if diff := cmp.Diff(want, gen.Stats().Nodes); diff != "" {
		t.Errorf("node stats mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleWay(t *testing.T) {
	gen, logs := newTestGenerator(t)

	way := &feed.Way{
		ID:    10,
		Tags:  style.Tags{"highway": "residential"},
		Nodes: refs([]int64{1, 2, 3}, orb.Point{10.002, 50.002}, orb.Point{10.005, 50.005}, orb.Point{10.015, 50.005}),
	}
	if err := gen.HandleWay(way); err != nil {
		t.Fatalf("HandleWay() error = %v", err)
	}

	first, ok := gen.World().Tile(world.Key{X: 1000, Y: 5000})
	if !ok || len(first.Streets) != 1 {
		t.Fatalf("tile (1000, 5000) = %+v, want one street", first)
	}
	second, ok := gen.World().Tile(world.Key{X: 1001, Y: 5000})
	if !ok || len(second.Streets) != 1 {
		t.Fatalf("tile (1001, 5000) = %+v, want one street", second)
	}

	a, b := first.Streets[0].Waypoints, second.Streets[0].Waypoints
	if a[len(a)-1] != b[0] {
		t.Errorf("segments do not meet: %v != %v", a[len(a)-1], b[0])
	}
	if first.Streets[0].Type != 2 || first.Streets[0].ID != 10 {
		t.Errorf("street = %+v, want type 2 id 10", first.Streets[0])
	}
	if got := gen.Stats().Ways.Inserted; got != 2 {
		t.Errorf("Ways.Inserted = %d, want 2", got)
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected log entries: %v", logs.All())
	}
}

func TestHandleWaySkipsMissingNodes(t *testing.T) {
	gen, _ := newTestGenerator(t)

	nodes := refs([]int64{1, 2, 3}, orb.Point{10.002, 50.002}, orb.Point{0, 0}, orb.Point{10.004, 50.004})
	nodes[1].Valid = false
	if err := gen.HandleWay(&feed.Way{ID: 11, Tags: style.Tags{"highway": "path"}, Nodes: nodes}); err != nil {
		t.Fatalf("HandleWay() error = %v", err)
	}

	tile, ok := gen.World().Tile(world.Key{X: 1000, Y: 5000})
	if !ok {
		t.Fatal("tile (1000, 5000) missing")
	}
	want := orb.LineString{{10.002, 50.002}, {10.004, 50.004}}
	if diff := cmp.Diff(want, tile.Streets[0].Waypoints); diff != "" {
		t.Errorf("waypoints mismatch (-want +got):\n%s", diff)
	}
	if got := gen.Stats().Ways.Skipped; got != 1 {
		t.Errorf("Ways.Skipped = %d, want 1", got)
	}
}

func TestHandleWayRejectsClosed(t *testing.T) {
	tests := []struct {
		name  string
		ids   []int64
		start orb.Point
		end   orb.Point
	}{
		{"same id", []int64{1, 2, 3, 1}, orb.Point{10.001, 50.001}, orb.Point{10.001, 50.001}},
		{"same location", []int64{1, 2, 3, 4}, orb.Point{10.001, 50.001}, orb.Point{10.001, 50.001}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, logs := newTestGenerator(t)
			way := &feed.Way{
				ID:    12,
				Tags:  style.Tags{"highway": "service"},
				Nodes: refs(tt.ids, tt.start, orb.Point{10.002, 50.001}, orb.Point{10.002, 50.002}, tt.end),
			}

			err := gen.HandleWay(way)
			if !errors.Is(err, ErrClosedStreet) {
				t.Fatalf("HandleWay() error = %v, want %v", err, ErrClosedStreet)
			}
			if got := gen.World().Counts().Streets; got != 0 {
				t.Errorf("Streets = %d, want 0", got)
			}
			if got := logs.FilterMessage("Rejected object").Len(); got != 1 {
				t.Errorf("rejection logs = %d, want 1", got)
			}
		})
	}
}

func TestHandleAreaRejections(t *testing.T) {
	ring := square(10.001, 50.001, 10.002, 50.002)
	tests := []struct {
		name string
		area *feed.Area
		err  error
	}{
		{"no outer ring", &feed.Area{ID: 2}, ErrNoOuterRing},
		{"two outer rings", &feed.Area{ID: 4, Outer: []orb.Ring{ring, ring}}, ErrMultipolygon},
		{"inner ring", &feed.Area{ID: 5, Outer: []orb.Ring{ring}, Inner: []orb.Ring{ring}}, ErrMultipolygon},
		{"degenerate", &feed.Area{ID: 6, Outer: []orb.Ring{{{1, 1}, {1, 1}, {2, 2}, {1, 1}}}}, ErrDegenerateArea},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, logs := newTestGenerator(t)
			tt.area.Tags = style.Tags{"landuse": "forest"}
			tt.area.Visible = true

			err := gen.HandleArea(tt.area)
			if !errors.Is(err, tt.err) {
				t.Fatalf("HandleArea() error = %v, want %v", err, tt.err)
			}
			if got := gen.World().Counts().Areas; got != 0 {
				t.Errorf("Areas = %d, want 0", got)
			}
			entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
			if len(entries) != 1 {
				t.Fatalf("warnings = %d, want 1", len(entries))
			}
			if got := entries[0].ContextMap()["id"]; got != tt.area.ID {
				t.Errorf("logged id = %v, want %d", got, tt.area.ID)
			}
		})
	}
}

func TestHandleArea(t *testing.T) {
	gen, _ := newTestGenerator(t)

	// Straddles the x = 10.01 grid line, with a duplicated vertex
	border := orb.Ring{{10.005, 50.001}, {10.015, 50.001}, {10.015, 50.001}, {10.015, 50.004}, {10.005, 50.004}, {10.005, 50.001}}
	area := &feed.Area{ID: 8, Tags: style.Tags{"landuse": "meadow"}, Outer: []orb.Ring{border}, Visible: true}
	if err := gen.HandleArea(area); err != nil {
		t.Fatalf("HandleArea() error = %v", err)
	}

	want := orb.Ring{{10.005, 50.001}, {10.015, 50.001}, {10.015, 50.004}, {10.005, 50.004}, {10.005, 50.001}}
	for _, k := range []world.Key{{X: 1000, Y: 5000}, {X: 1001, Y: 5000}} {
		tile, ok := gen.World().Tile(k)
		if !ok || len(tile.Areas) != 1 {
			t.Fatalf("tile %v = %+v, want one area", k, tile)
		}
		if diff := cmp.Diff(want, tile.Areas[0].Border); diff != "" {
			t.Errorf("tile %v border mismatch (-want +got):\n%s", k, diff)
		}
	}
	if got := gen.World().Len(); got != 2 {
		t.Errorf("World().Len() = %d, want 2", got)
	}
}

func TestHandleAreaInvisible(t *testing.T) {
	gen, logs := newTestGenerator(t)
	area := &feed.Area{ID: 2, Tags: style.Tags{"landuse": "forest"}}
	if err := gen.HandleArea(area); err != nil {
		t.Fatalf("HandleArea() error = %v", err)
	}
	if gen.Stats().Areas.Dropped != 1 || logs.Len() != 0 {
		t.Errorf("invisible area: stats %+v, %d logs", gen.Stats().Areas, logs.Len())
	}
}

func TestHandlerDrainCompleteness(t *testing.T) {
	const matching = 5000

	for _, workers := range []int{1, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			w := world.New(world.NewGrid(100, 100))
			gen := NewGenerator(w, testRules(), zap.NewNop())
			h := NewHandler(gen, Options{
				NodeWorkers:   workers,
				WayWorkers:    workers,
				AreaWorkers:   workers,
				QueueCapacity: 4,
				BatchSize:     16,
			})
			h.Start()

			for i := 0; i < matching; i++ {
				lon := float64(i%360) - 179.5
				lat := float64(i%170) - 84.5
				h.Node(&feed.Node{ID: int64(i), Tags: style.Tags{"amenity": "pharmacy"}, Location: orb.Point{lon, lat}, Visible: true})
				if i%10 == 0 {
					h.Node(&feed.Node{ID: int64(-i - 1), Tags: style.Tags{"amenity": "bench"}, Location: orb.Point{lon, lat}, Visible: true})
				}
				if i%100 == 0 {
					h.Way(&feed.Way{ID: int64(i), Tags: style.Tags{"highway": "track"},
						Nodes: refs([]int64{1, 2}, orb.Point{lon, lat}, orb.Point{lon + 0.001, lat})})
					h.Area(&feed.Area{ID: int64(i) * 2, Tags: style.Tags{"landuse": "farmland"}, Visible: true,
						Outer: []orb.Ring{square(lon, lat, lon+0.001, lat+0.001)}})
				}
			}
			h.Stop()
			h.Join()

			c := w.Counts()
			if c.POI != matching {
				t.Errorf("POI = %d, want %d", c.POI, matching)
			}
			if c.Streets != matching/100 {
				t.Errorf("Streets = %d, want %d", c.Streets, matching/100)
			}
			if c.Areas != matching/100 {
				t.Errorf("Areas = %d, want %d", c.Areas, matching/100)
			}
			if got := gen.Stats().Nodes.Dropped; got != matching/10 {
				t.Errorf("Nodes.Dropped = %d, want %d", got, matching/10)
			}
			if nodes, ways, areas := h.QueueDepths(); nodes+ways+areas != 0 {
				t.Errorf("QueueDepths() = %d, %d, %d after Join", nodes, ways, areas)
			}
		})
	}
}

func TestHandlerRecyclesBatches(t *testing.T) {
	w := world.New(world.NewGrid(10, 10))
	gen := NewGenerator(w, testRules(), nil)
	h := NewHandler(gen, Options{NodeWorkers: 1, WayWorkers: 1, AreaWorkers: 1, QueueCapacity: 1, BatchSize: 2})
	h.Start()
	for i := 0; i < 100; i++ {
		h.Node(&feed.Node{ID: int64(i), Tags: style.Tags{"amenity": "pharmacy"}, Location: orb.Point{1, 1}, Visible: true})
	}
	h.Stop()
	h.Join()

	s := h.BatchStats()
	if s.Allocated+s.Reused != 50 {
		t.Errorf("batches handed out = %d, want 50", s.Allocated+s.Reused)
	}
	if s.Allocated >= 50 {
		t.Errorf("Allocated = %d, expected some reuse", s.Allocated)
	}
}
