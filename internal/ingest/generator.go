// Package ingest classifies feed records and inserts them into the world.
package ingest

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/clip"
	"github.com/wegman-software/osm2world-go/internal/feed"
	"github.com/wegman-software/osm2world-go/internal/style"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// Per-item rejections. They are logged and never abort a run.
var (
	ErrClosedStreet   = errors.New("closed way cannot be a street")
	ErrNoOuterRing    = errors.New("area has no outer ring")
	ErrMultipolygon   = errors.New("multipolygon areas are not supported")
	ErrDegenerateArea = errors.New("area border has fewer than three distinct points")
	ErrNoLocation     = errors.New("no valid location")
)

// Kind is the geometry kind of a record.
type Kind int

const (
	KindNode Kind = iota
	KindWay
	KindArea
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindArea:
		return "area"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindStats counts what happened to the records of one kind.
type KindStats struct {
	Received int64 // Records handed to the generator
	Matched  int64 // Records that matched a rule
	Dropped  int64 // Records without a matching rule, or invisible
	Rejected int64 // Matched records with unusable geometry
	Inserted int64 // Entries written into tiles
	Skipped  int64 // Waypoints without a valid location
}

// Stats holds counters for all kinds.
type Stats struct {
	Nodes KindStats
	Ways  KindStats
	Areas KindStats
}

type kindCounters struct {
	received, matched, dropped, rejected, inserted, skipped atomic.Int64
}

func (c *kindCounters) snapshot() KindStats {
	return KindStats{
		Received: c.received.Load(),
		Matched:  c.matched.Load(),
		Dropped:  c.dropped.Load(),
		Rejected: c.rejected.Load(),
		Inserted: c.inserted.Load(),
		Skipped:  c.skipped.Load(),
	}
}

// Generator classifies records and inserts them into a world. All methods
// are safe for concurrent use.
type Generator struct {
	world *world.World
	log   *zap.Logger

	poi, streets, areas *style.Matcher

	counters [3]kindCounters
}

// NewGenerator creates a generator writing into w.
func NewGenerator(w *world.World, rules *style.Config, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	poi, streets, areas := rules.Matchers()
	return &Generator{
		world:   w,
		log:     log,
		poi:     poi,
		streets: streets,
		areas:   areas,
	}
}

// World returns the world being generated.
func (g *Generator) World() *world.World { return g.world }

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Nodes: g.counters[KindNode].snapshot(),
		Ways:  g.counters[KindWay].snapshot(),
		Areas: g.counters[KindArea].snapshot(),
	}
}

// HandleNode classifies a node and stores it as a POI.
func (g *Generator) HandleNode(n *feed.Node) error {
	c := &g.counters[KindNode]
	c.received.Add(1)
	if !n.Visible {
		c.dropped.Add(1)
		return nil
	}

	m, ok := g.poi.Match(n.Tags)
	if !ok {
		c.dropped.Add(1)
		return nil
	}
	c.matched.Add(1)

	if !validPoint(n.Location) {
		return g.reject(KindNode, n.ID, ErrNoLocation)
	}

	g.world.InsertPOI(g.world.TilePoint(n.Location), world.POI{
		ID:       n.ID,
		Type:     m.Type,
		Position: n.Location,
		Spawns:   m.Spawns,
	})
	c.inserted.Add(1)
	return nil
}

// HandleWay classifies a way and stores one street segment per tile it
// crosses.
func (g *Generator) HandleWay(w *feed.Way) error {
	c := &g.counters[KindWay]
	c.received.Add(1)

	m, ok := g.streets.Match(w.Tags)
	if !ok {
		c.dropped.Add(1)
		return nil
	}
	c.matched.Add(1)

	if w.EndsHaveSameID() || w.EndsHaveSameLocation() {
		return g.reject(KindWay, w.ID, ErrClosedStreet)
	}

	var inserted int64
	clipper := clip.New(g.world.Grid, func(s clip.Segment) {
		g.world.InsertStreet(s.Tile, world.Street{
			ID:        w.ID,
			Type:      m.Type,
			Waypoints: s.Points,
		})
		inserted++
	})
	for _, ref := range w.Nodes {
		if !ref.Valid || !validPoint(ref.Location) {
			c.skipped.Add(1)
			continue
		}
		clipper.Add(ref.Location)
	}
	clipper.Flush()

	if inserted == 0 {
		return g.reject(KindWay, w.ID, ErrNoLocation)
	}
	c.inserted.Add(inserted)
	return nil
}

// HandleArea classifies an area and stores its outer ring in every tile one
// of its vertices falls into.
func (g *Generator) HandleArea(a *feed.Area) error {
	c := &g.counters[KindArea]
	c.received.Add(1)
	if !a.Visible {
		c.dropped.Add(1)
		return nil
	}

	m, ok := g.areas.Match(a.Tags)
	if !ok {
		c.dropped.Add(1)
		return nil
	}
	c.matched.Add(1)

	switch {
	case len(a.Outer) == 0:
		return g.reject(KindArea, a.ID, ErrNoOuterRing)
	case len(a.Outer) > 1 || len(a.Inner) > 0:
		return g.reject(KindArea, a.ID, ErrMultipolygon)
	}

	border := dedupe(a.Outer[0])
	if distinct(border) < 3 {
		return g.reject(KindArea, a.ID, ErrDegenerateArea)
	}

	seen := make(map[world.Key]struct{})
	for _, p := range border {
		k := g.world.TilePoint(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		g.world.InsertArea(k, world.Area{
			ID:     a.ID,
			Type:   m.Type,
			Border: border,
			Spawns: m.Spawns,
		})
	}
	c.inserted.Add(int64(len(seen)))
	return nil
}

func (g *Generator) reject(k Kind, id int64, err error) error {
	g.counters[k].rejected.Add(1)
	fields := []zap.Field{zap.Stringer("kind", k), zap.Int64("id", id), zap.Error(err)}
	if errors.Is(err, ErrClosedStreet) {
		// Roundabouts and loops are common; keep them out of the normal log.
		g.log.Debug("Rejected object", fields...)
	} else {
		g.log.Warn("Rejected object", fields...)
	}
	return err
}

// dedupe drops consecutive repeated points and invalid coordinates.
func dedupe(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if !validPoint(p) {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

// distinct counts the vertices of a ring, not counting the closing point.
func distinct(r orb.Ring) int {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	return n
}

func validPoint(p orb.Point) bool {
	return p[0] == p[0] && p[1] == p[1] &&
		p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90
}
