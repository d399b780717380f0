// Package feed turns OSM data into resolved node, way and area records.
package feed

import (
	"github.com/paulmach/orb"

	"github.com/wegman-software/osm2world-go/internal/style"
)

// Node is a tagged OSM node.
type Node struct {
	ID       int64
	Tags     style.Tags
	Location orb.Point
	Visible  bool
}

// NodeRef is a way member with its resolved location. Valid is false when
// the referenced node could not be found.
type NodeRef struct {
	ID       int64
	Location orb.Point
	Valid    bool
}

// Way is an OSM way with resolved node locations.
type Way struct {
	ID    int64
	Tags  style.Tags
	Nodes []NodeRef
}

// EndsHaveSameID reports whether the first and last node are the same node.
func (w *Way) EndsHaveSameID() bool {
	n := len(w.Nodes)
	return n > 1 && w.Nodes[0].ID == w.Nodes[n-1].ID
}

// EndsHaveSameLocation reports whether the first and last node share a
// resolved location.
func (w *Way) EndsHaveSameLocation() bool {
	n := len(w.Nodes)
	if n < 2 {
		return false
	}
	first, last := w.Nodes[0], w.Nodes[n-1]
	return first.Valid && last.Valid && first.Location == last.Location
}

// Closed reports whether the way forms a loop.
func (w *Way) Closed() bool {
	return w.EndsHaveSameID() || w.EndsHaveSameLocation()
}

// Area is a polygon built from a closed way or a multipolygon relation.
// IDs follow the osmium convention: way ID * 2 for ways, relation ID * 2 + 1
// for relations.
type Area struct {
	ID      int64
	Tags    style.Tags
	Outer   []orb.Ring
	Inner   []orb.Ring
	Visible bool
}

// FromWay reports whether the area was built from a single closed way.
func (a *Area) FromWay() bool {
	return a.ID%2 == 0
}

// OrigID returns the ID of the way or relation the area was built from.
func (a *Area) OrigID() int64 {
	return a.ID / 2
}

// AreaIDFromWay returns the area ID for a closed way.
func AreaIDFromWay(id int64) int64 { return id * 2 }

// AreaIDFromRelation returns the area ID for a multipolygon relation.
func AreaIDFromRelation(id int64) int64 { return id*2 + 1 }

// Handler receives records from a reader. Calls come from a single goroutine.
type Handler interface {
	Node(n *Node)
	Way(w *Way)
	Area(a *Area)
}
