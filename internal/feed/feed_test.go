package feed

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osm2world-go/internal/config"
)

type recorder struct {
	nodes []*Node
	ways  []*Way
	areas []*Area
}

func (r *recorder) Node(n *Node) { r.nodes = append(r.nodes, n) }
func (r *recorder) Way(w *Way)   { r.ways = append(r.ways, w) }
func (r *recorder) Area(a *Area) { r.areas = append(r.areas, a) }

func newTestReader(t *testing.T, bbox *config.BBox) *PBFReader {
	t.Helper()
	r := NewPBFReader("unused.osm.pbf", Options{
		BBox:          bbox,
		NodeIndexPath: filepath.Join(t.TempDir(), "nodes.bin"),
		MaxNodeID:     1000,
	})
	if err := r.openIndex(); err != nil {
		t.Fatalf("openIndex() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWayEnds(t *testing.T) {
	tests := []struct {
		name         string
		nodes        []NodeRef
		sameID       bool
		sameLocation bool
	}{
		{"open", []NodeRef{{1, orb.Point{0, 0}, true}, {2, orb.Point{1, 1}, true}}, false, false},
		{"closed by id", []NodeRef{{1, orb.Point{0, 0}, true}, {2, orb.Point{1, 1}, true}, {1, orb.Point{0, 0}, true}}, true, true},
		{"closed by location", []NodeRef{{1, orb.Point{0, 0}, true}, {2, orb.Point{1, 1}, true}, {3, orb.Point{0, 0}, true}}, false, true},
		{"invalid ends", []NodeRef{{1, orb.Point{}, false}, {2, orb.Point{1, 1}, true}, {3, orb.Point{}, false}}, false, false},
		{"single node", []NodeRef{{1, orb.Point{0, 0}, true}}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Way{Nodes: tt.nodes}
			if got := w.EndsHaveSameID(); got != tt.sameID {
				t.Errorf("EndsHaveSameID() = %v, want %v", got, tt.sameID)
			}
			if got := w.EndsHaveSameLocation(); got != tt.sameLocation {
				t.Errorf("EndsHaveSameLocation() = %v, want %v", got, tt.sameLocation)
			}
			if got := w.Closed(); got != (tt.sameID || tt.sameLocation) {
				t.Errorf("Closed() = %v", got)
			}
		})
	}
}

func TestAreaIDs(t *testing.T) {
	a := &Area{ID: AreaIDFromWay(21)}
	if !a.FromWay() || a.OrigID() != 21 {
		t.Errorf("way area: FromWay() = %v, OrigID() = %d", a.FromWay(), a.OrigID())
	}
	r := &Area{ID: AreaIDFromRelation(21)}
	if r.FromWay() || r.OrigID() != 21 {
		t.Errorf("relation area: FromWay() = %v, OrigID() = %d", r.FromWay(), r.OrigID())
	}
}

func TestAssembleRings(t *testing.T) {
	tests := []struct {
		name string
		ways []orb.LineString
		want []orb.Ring
	}{
		{
			name: "single closed way",
			ways: []orb.LineString{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
			want: []orb.Ring{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		},
		{
			name: "single open way",
			ways: []orb.LineString{{{0, 0}, {1, 0}, {1, 1}}},
			want: nil,
		},
		{
			name: "two halves",
			ways: []orb.LineString{
				{{0, 0}, {1, 0}, {1, 1}},
				{{1, 1}, {0, 1}, {0, 0}},
			},
			want: []orb.Ring{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		},
		{
			name: "reversed member",
			ways: []orb.LineString{
				{{0, 0}, {1, 0}, {1, 1}},
				{{0, 0}, {0, 1}, {1, 1}},
			},
			want: []orb.Ring{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		},
		{
			name: "two separate rings",
			ways: []orb.LineString{
				{{0, 0}, {1, 0}, {1, 1}, {0, 0}},
				{{5, 5}, {6, 5}},
				{{6, 5}, {6, 6}, {5, 5}},
			},
			want: []orb.Ring{
				{{0, 0}, {1, 0}, {1, 1}, {0, 0}},
				{{5, 5}, {6, 5}, {6, 6}, {5, 5}},
			},
		},
		{
			name: "gap",
			ways: []orb.LineString{
				{{0, 0}, {1, 0}},
				{{1, 1}, {0, 0}},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assembleRings(tt.ways)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("assembleRings() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsArea(t *testing.T) {
	tests := []struct {
		tags map[string]string
		want bool
	}{
		{map[string]string{"building": "yes"}, true},
		{map[string]string{"highway": "pedestrian", "area": "yes"}, true},
		{map[string]string{"building": "yes", "area": "no"}, false},
		{map[string]string{"highway": "residential"}, false},
		{map[string]string{"leisure": "park", "name": "P"}, true},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isArea(tt.tags); got != tt.want {
			t.Errorf("isArea(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestHandleNode(t *testing.T) {
	r := newTestReader(t, &config.BBox{MinLon: 0, MinLat: 0, MaxLon: 20, MaxLat: 60, IsSet: true})
	h := &recorder{}

	r.handleNode(&osm.Node{ID: 1, Lat: 50, Lon: 10, Visible: true, Tags: osm.Tags{{Key: "amenity", Value: "pharmacy"}}}, h)
	r.handleNode(&osm.Node{ID: 2, Lat: 50.1, Lon: 10.1, Visible: true}, h)
	r.handleNode(&osm.Node{ID: 3, Lat: 70, Lon: 10, Visible: true, Tags: osm.Tags{{Key: "shop", Value: "bakery"}}}, h)

	if len(h.nodes) != 1 {
		t.Fatalf("emitted %d nodes, want 1", len(h.nodes))
	}
	want := &Node{ID: 1, Tags: map[string]string{"amenity": "pharmacy"}, Location: orb.Point{10, 50}, Visible: true}
	if diff := cmp.Diff(want, h.nodes[0]); diff != "" {
		t.Errorf("node mismatch (-want +got):\n%s", diff)
	}

	// Untagged and out-of-bbox nodes are still indexed
	for _, id := range []int64{2, 3} {
		if _, _, ok := r.index.Get(id); !ok {
			t.Errorf("node %d not indexed", id)
		}
	}
	if s := r.Stats(); s.Nodes != 1 {
		t.Errorf("Stats().Nodes = %d, want 1", s.Nodes)
	}
}

func TestHandleWay(t *testing.T) {
	r := newTestReader(t, nil)
	h := &recorder{}

	coords := map[osm.NodeID][2]float64{
		1: {10, 50}, 2: {10.001, 50}, 3: {10.001, 50.001}, 4: {10, 50.001},
	}
	for id, c := range coords {
		r.handleNode(&osm.Node{ID: id, Lon: c[0], Lat: c[1], Visible: true}, h)
	}

	street := &osm.Way{ID: 10, Visible: true, Tags: osm.Tags{{Key: "highway", Value: "residential"}},
		Nodes: osm.WayNodes{{ID: 1}, {ID: 99}, {ID: 2}}}
	building := &osm.Way{ID: 11, Visible: true, Tags: osm.Tags{{Key: "building", Value: "yes"}},
		Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 1}}}
	untagged := &osm.Way{ID: 12, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}}}

	for _, w := range []*osm.Way{street, building, untagged} {
		r.handleWay(w, h)
	}

	if len(h.ways) != 2 {
		t.Fatalf("emitted %d ways, want 2", len(h.ways))
	}
	got := h.ways[0]
	if got.ID != 10 || len(got.Nodes) != 3 {
		t.Fatalf("street = %+v", got)
	}
	if got.Nodes[1].Valid || got.Nodes[1].ID != 99 {
		t.Errorf("missing node should be invalid: %+v", got.Nodes[1])
	}
	if !got.Nodes[0].Valid || got.Nodes[0].Location != (orb.Point{10, 50}) {
		t.Errorf("first node = %+v", got.Nodes[0])
	}

	if len(h.areas) != 1 {
		t.Fatalf("emitted %d areas, want 1", len(h.areas))
	}
	area := h.areas[0]
	if area.ID != 22 || len(area.Outer) != 1 || len(area.Outer[0]) != 5 || len(area.Inner) != 0 {
		t.Errorf("area = %+v", area)
	}

	s := r.Stats()
	if s.Ways != 2 || s.Areas != 1 || s.MissingNodes != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestRelations(t *testing.T) {
	r := newTestReader(t, nil)
	h := &recorder{}

	r.collectRelation(&osm.Relation{ID: 5, Visible: true,
		Tags: osm.Tags{{Key: "type", Value: "multipolygon"}, {Key: "landuse", Value: "forest"}},
		Members: osm.Members{
			{Type: osm.TypeWay, Ref: 100, Role: "outer"},
			{Type: osm.TypeWay, Ref: 101, Role: "outer"},
			{Type: osm.TypeWay, Ref: 102, Role: "inner"},
			{Type: osm.TypeNode, Ref: 1, Role: "label"},
		}})
	r.collectRelation(&osm.Relation{ID: 6,
		Tags:    osm.Tags{{Key: "type", Value: "route"}},
		Members: osm.Members{{Type: osm.TypeWay, Ref: 103}}})
	r.collectRelation(&osm.Relation{ID: 7,
		Tags:    osm.Tags{{Key: "type", Value: "multipolygon"}},
		Members: osm.Members{{Type: osm.TypeWay, Ref: 500, Role: "outer"}}})

	if len(r.relations) != 2 {
		t.Fatalf("collected %d relations, want 2", len(r.relations))
	}
	if _, ok := r.neededWays[103]; ok {
		t.Error("route member should not be needed")
	}

	coords := map[osm.NodeID][2]float64{
		1: {1, 1}, 2: {1.1, 1}, 3: {1.1, 1.1}, 4: {1, 1.1},
		5: {1.02, 1.02}, 6: {1.05, 1.02}, 7: {1.05, 1.05},
	}
	for id, c := range coords {
		r.handleNode(&osm.Node{ID: id, Lon: c[0], Lat: c[1], Visible: true}, h)
	}
	r.handleWay(&osm.Way{ID: 100, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}}}, h)
	r.handleWay(&osm.Way{ID: 101, Nodes: osm.WayNodes{{ID: 3}, {ID: 4}, {ID: 1}}}, h)
	r.handleWay(&osm.Way{ID: 102, Nodes: osm.WayNodes{{ID: 5}, {ID: 6}, {ID: 7}, {ID: 5}}}, h)

	if len(h.ways) != 0 {
		t.Errorf("untagged member ways should not be emitted, got %d", len(h.ways))
	}

	r.emitRelations(h)
	if len(h.areas) != 1 {
		t.Fatalf("emitted %d areas, want 1", len(h.areas))
	}
	a := h.areas[0]
	if a.ID != 11 || a.FromWay() {
		t.Errorf("area ID = %d", a.ID)
	}
	if len(a.Outer) != 1 || len(a.Outer[0]) != 5 {
		t.Errorf("outer rings = %v", a.Outer)
	}
	if len(a.Inner) != 1 || len(a.Inner[0]) != 4 {
		t.Errorf("inner rings = %v", a.Inner)
	}
	if a.Tags["landuse"] != "forest" {
		t.Errorf("tags = %v", a.Tags)
	}
	if s := r.Stats(); s.Relations != 1 {
		t.Errorf("Stats().Relations = %d, want 1", s.Relations)
	}
}

func TestPassString(t *testing.T) {
	for p, want := range map[Pass]string{PassIdle: "idle", PassRelations: "relations", PassNodes: "nodes", PassWays: "ways", PassDone: "done"} {
		if got := p.String(); got != want {
			t.Errorf("Pass(%d).String() = %q, want %q", p, got, want)
		}
	}
}
