// Package clip splits lines into pieces that each lie within one tile.
package clip

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osm2world-go/internal/world"
)

// Segment is the part of a line inside a single tile.
type Segment struct {
	Tile   world.Key
	Points orb.LineString
}

// Clipper walks a line point by point and emits one Segment per traversed
// tile. Consecutive segments share their boundary point exactly.
//
// The first point is placed with floor semantics. Containment is tested
// against the closed tile box. When the line leaves through a corner, or
// runs along a grid line so that two tiles contain its continuation, the
// tile with the smaller (x, y) key is used.
type Clipper struct {
	grid world.Grid
	emit func(Segment)

	started bool
	cur     world.Key
	box     orb.Bound
	pts     orb.LineString
}

// New creates a clipper emitting segments to emit.
func New(g world.Grid, emit func(Segment)) *Clipper {
	return &Clipper{grid: g, emit: emit}
}

// Add appends the next waypoint. NaN and infinite coordinates are ignored.
func (c *Clipper) Add(p orb.Point) {
	if !valid(p) {
		return
	}
	if !c.started {
		c.start(c.grid.TilePoint(p), p)
		c.started = true
		return
	}
	last := c.pts[len(c.pts)-1]
	if p == last {
		return
	}

	if !c.box.Contains(p) {
		c.cross(last, p)
	}
	c.push(p)
}

// Flush emits the pending segment if it has at least two points and resets
// the clipper for the next line.
func (c *Clipper) Flush() {
	if c.started {
		c.emitPending()
	}
	c.started = false
	c.pts = nil
}

// cross walks from prev (inside the current box) towards p, closing one
// segment per tile boundary until p is inside the current box.
func (c *Clipper) cross(prev, p orb.Point) {
	target := c.grid.TilePoint(p)
	maxSteps := abs(target.X-c.cur.X) + abs(target.Y-c.cur.Y) + 4

	for step := 0; !c.box.Contains(p); step++ {
		if step > maxSteps {
			// Rounding kept us from reaching p; restart in its own tile.
			c.emitPending()
			c.cur = target
			c.box = c.grid.Bound(target)
			c.pts = nil
			return
		}
		exit, next := c.exit(prev, p)
		c.closeAt(exit, next)
		prev = exit
	}
}

// closeAt ends the current segment at pt and starts a new one there in tile k.
func (c *Clipper) closeAt(pt orb.Point, k world.Key) {
	c.push(pt)
	c.emitPending()
	c.start(k, pt)
}

func (c *Clipper) emitPending() {
	if len(c.pts) >= 2 {
		c.emit(Segment{Tile: c.cur, Points: c.pts})
	}
}

func (c *Clipper) start(k world.Key, p orb.Point) {
	c.cur = k
	c.box = c.grid.Bound(k)
	c.pts = orb.LineString{p}
}

func (c *Clipper) push(p orb.Point) {
	if n := len(c.pts); n > 0 && c.pts[n-1] == p {
		return
	}
	c.pts = append(c.pts, p)
}

// exit returns where the line from a to b leaves the current box and the
// tile it continues in.
func (c *Clipper) exit(a, b orb.Point) (orb.Point, world.Key) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	box := c.box

	tx, edgeX, stepX := math.Inf(1), 0.0, 0
	switch {
	case dx > 0:
		tx, edgeX, stepX = (box.Max[0]-a[0])/dx, box.Max[0], 1
	case dx < 0:
		tx, edgeX, stepX = (box.Min[0]-a[0])/dx, box.Min[0], -1
	}
	ty, edgeY, stepY := math.Inf(1), 0.0, 0
	switch {
	case dy > 0:
		ty, edgeY, stepY = (box.Max[1]-a[1])/dy, box.Max[1], 1
	case dy < 0:
		ty, edgeY, stepY = (box.Min[1]-a[1])/dy, box.Min[1], -1
	}

	next := c.cur
	var pt orb.Point
	switch {
	case tx == ty:
		pt = orb.Point{edgeX, edgeY}
		next.X += stepX
		next.Y += stepY
	case tx < ty:
		pt = orb.Point{edgeX, clamp(a[1]+tx*dy, box.Min[1], box.Max[1])}
		next.X += stepX
		if dy == 0 && pt[1] == box.Min[1] {
			next.Y--
		}
	default:
		pt = orb.Point{clamp(a[0]+ty*dx, box.Min[0], box.Max[0]), edgeY}
		next.Y += stepY
		if dx == 0 && pt[0] == box.Min[0] {
			next.X--
		}
	}
	return pt, next
}

// Line clips a whole line string.
func Line(g world.Grid, ls orb.LineString) []Segment {
	var out []Segment
	c := New(g, func(s Segment) { out = append(out, s) })
	for _, p := range ls {
		c.Add(p)
	}
	c.Flush()
	return out
}

func valid(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
