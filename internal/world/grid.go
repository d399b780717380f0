package world

import (
	"cmp"
	"math"

	"github.com/paulmach/orb"
)

// snapTolerance is the relative distance to an integer under which a scaled
// coordinate counts as lying on the tile edge. Decimal degrees such as
// 12.3456 are not exact in binary and scale to 123455.99999999999.
const snapTolerance = 1e-12

// Key addresses a tile by its integer grid coordinates.
type Key struct {
	X, Y int
}

// Compare orders keys by X, then Y.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.X, o.X); c != 0 {
		return c
	}
	return cmp.Compare(k.Y, o.Y)
}

// Grid maps geographic coordinates onto tiles. XScale and YScale are the
// number of tiles per degree of longitude and latitude.
type Grid struct {
	XScale float64
	YScale float64
}

// NewGrid creates a grid with the given density factors.
func NewGrid(x, y int) Grid {
	return Grid{XScale: float64(x), YScale: float64(y)}
}

// TileOf returns the tile containing the point (floor semantics).
func (g Grid) TileOf(lon, lat float64) Key {
	return TileCoords(lon, lat, g.XScale, g.YScale)
}

// TilePoint is TileOf for an orb.Point.
func (g Grid) TilePoint(p orb.Point) Key {
	return g.TileOf(p.Lon(), p.Lat())
}

// Bound returns the bounding box of tile k.
func (g Grid) Bound(k Key) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(k.X) / g.XScale, float64(k.Y) / g.YScale},
		Max: orb.Point{float64(k.X+1) / g.XScale, float64(k.Y+1) / g.YScale},
	}
}

// TileCoords computes floor(lon*xScale), floor(lat*yScale).
func TileCoords(lon, lat, xScale, yScale float64) Key {
	return Key{X: index(lon, xScale), Y: index(lat, yScale)}
}

func index(v, scale float64) int {
	x := v * scale
	if r := math.Round(x); math.Abs(x-r) <= snapTolerance*math.Max(1, math.Abs(x)) {
		return int(r)
	}
	return int(math.Floor(x))
}
