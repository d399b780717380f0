package world

import (
	"iter"
	"slices"
	"sync"

	"github.com/paulmach/orb"
)

// POI is a classified point of interest.
type POI struct {
	ID       int64
	Type     int32
	Position orb.Point
	Spawns   []int32
}

// Street is the part of a classified line that lies within one tile.
// Pieces of the same way share ID and meet at identical endpoints.
type Street struct {
	ID        int64
	Type      int32
	Waypoints orb.LineString
}

// Area is a classified polygon with a single outer ring.
type Area struct {
	ID     int64
	Type   int32
	Border orb.Ring
	Spawns []int32
}

// Tile holds everything classified into one grid cell.
type Tile struct {
	Key     Key
	Bound   orb.Bound
	POI     []POI
	Streets []Street
	Areas   []Area
}

// Counts summarizes the contents of a world or tile.
type Counts struct {
	Tiles   int
	POI     int
	Streets int
	Areas   int
}

const shardCount = 64

type shard struct {
	mu    sync.Mutex
	tiles map[Key]*Tile
}

// World is a sparse grid of tiles that is safe for concurrent inserts.
// Reading tiles is only safe once all writers are done.
type World struct {
	Grid
	shards [shardCount]shard
}

// New creates an empty world on grid g.
func New(g Grid) *World {
	w := &World{Grid: g}
	for i := range w.shards {
		w.shards[i].tiles = make(map[Key]*Tile)
	}
	return w
}

func (w *World) shardFor(k Key) *shard {
	h := uint64(int64(k.X))*0x9E3779B97F4A7C15 ^ uint64(int64(k.Y))*0xC2B2AE3D27D4EB4F
	return &w.shards[(h>>32)%shardCount]
}

// ensureLocked returns the tile for k, creating it. s.mu must be held.
func (w *World) ensureLocked(s *shard, k Key) *Tile {
	t, ok := s.tiles[k]
	if !ok {
		t = &Tile{Key: k, Bound: w.Bound(k)}
		s.tiles[k] = t
	}
	return t
}

// EnsureTile returns the tile at k, creating it if needed. Concurrent callers
// asking for the same key get the same tile.
func (w *World) EnsureTile(k Key) *Tile {
	s := w.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	return w.ensureLocked(s, k)
}

// InsertPOI appends p to tile k.
func (w *World) InsertPOI(k Key, p POI) {
	s := w.shardFor(k)
	s.mu.Lock()
	t := w.ensureLocked(s, k)
	t.POI = append(t.POI, p)
	s.mu.Unlock()
}

// InsertStreet appends a street segment to tile k.
func (w *World) InsertStreet(k Key, st Street) {
	s := w.shardFor(k)
	s.mu.Lock()
	t := w.ensureLocked(s, k)
	t.Streets = append(t.Streets, st)
	s.mu.Unlock()
}

// InsertArea appends a to tile k.
func (w *World) InsertArea(k Key, a Area) {
	s := w.shardFor(k)
	s.mu.Lock()
	t := w.ensureLocked(s, k)
	t.Areas = append(t.Areas, a)
	s.mu.Unlock()
}

// Tile returns the tile at k, if it exists.
func (w *World) Tile(k Key) (*Tile, bool) {
	s := w.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiles[k]
	return t, ok
}

// Len returns the number of tiles.
func (w *World) Len() int {
	n := 0
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		n += len(s.tiles)
		s.mu.Unlock()
	}
	return n
}

// Tiles returns all tiles sorted by key.
func (w *World) Tiles() []*Tile {
	var tiles []*Tile
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		for _, t := range s.tiles {
			tiles = append(tiles, t)
		}
		s.mu.Unlock()
	}
	slices.SortFunc(tiles, func(a, b *Tile) int { return a.Key.Compare(b.Key) })
	return tiles
}

// All iterates over tiles in key order.
func (w *World) All() iter.Seq2[Key, *Tile] {
	return func(yield func(Key, *Tile) bool) {
		for _, t := range w.Tiles() {
			if !yield(t.Key, t) {
				return
			}
		}
	}
}

// Counts totals the entries of all tiles.
func (w *World) Counts() Counts {
	var c Counts
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		for _, t := range s.tiles {
			c.Tiles++
			c.POI += len(t.POI)
			c.Streets += len(t.Streets)
			c.Areas += len(t.Areas)
		}
		s.mu.Unlock()
	}
	return c
}

// Extent returns the bounding box covering all tiles.
func (w *World) Extent() orb.Bound {
	var b orb.Bound
	first := true
	for _, t := range w.Tiles() {
		if first {
			b = t.Bound
			first = false
			continue
		}
		b = b.Union(t.Bound)
	}
	return b
}
