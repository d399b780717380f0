package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/config"
	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/nodeindex"
	"github.com/wegman-software/osm2world-go/internal/style"
)

// Options configure a PBFReader
type Options struct {
	BBox          *config.BBox
	Procs         int    // Decoder goroutines (0 = NumCPU)
	NodeIndexPath string // Empty = temporary file removed on Close
	MaxNodeID     int64  // Size of the node index (0 = planet)
}

// Stats counts records read from the input
type Stats struct {
	Nodes        int64
	Ways         int64
	Areas        int64
	Relations    int64
	MissingNodes int64
}

// Pass identifies the scan currently in progress
type Pass int32

const (
	PassIdle Pass = iota
	PassRelations
	PassNodes
	PassWays
	PassDone
)

func (p Pass) String() string {
	switch p {
	case PassRelations:
		return "relations"
	case PassNodes:
		return "nodes"
	case PassWays:
		return "ways"
	case PassDone:
		return "done"
	}
	return "idle"
}

// relation is a multipolygon relation waiting for its member ways
type relation struct {
	id      int64
	tags    style.Tags
	visible bool
	outer   []int64
	inner   []int64
}

// PBFReader reads an .osm.pbf file in three passes: multipolygon relations,
// then nodes (indexed and emitted), then ways. Areas from relations are
// assembled after the way pass.
type PBFReader struct {
	path string
	opts Options

	index       *nodeindex.MmapIndex
	indexPath   string
	removeIndex bool

	relations  []relation
	neededWays map[int64]struct{}
	wayCache   map[int64]orb.LineString

	size    atomic.Int64
	scanned atomic.Int64
	pass    atomic.Int32

	nodes, ways, areas, rels, missing atomic.Int64
}

// NewPBFReader creates a reader for the file at path
func NewPBFReader(path string, opts Options) *PBFReader {
	if opts.Procs <= 0 {
		opts.Procs = runtime.NumCPU()
	}
	return &PBFReader{
		path:       path,
		opts:       opts,
		neededWays: make(map[int64]struct{}),
		wayCache:   make(map[int64]orb.LineString),
	}
}

// Stats returns a snapshot of the read counters
func (r *PBFReader) Stats() Stats {
	return Stats{
		Nodes:        r.nodes.Load(),
		Ways:         r.ways.Load(),
		Areas:        r.areas.Load(),
		Relations:    r.rels.Load(),
		MissingNodes: r.missing.Load(),
	}
}

// Progress reports the current pass and how far it got through the file
func (r *PBFReader) Progress() (pass Pass, scanned, total int64) {
	return Pass(r.pass.Load()), r.scanned.Load(), r.size.Load()
}

// Close releases the node index
func (r *PBFReader) Close() error {
	if r.index == nil {
		return nil
	}
	err := r.index.Close()
	r.index = nil
	if r.removeIndex {
		os.Remove(r.indexPath)
	}
	return err
}

// Run reads the whole file and feeds every record to h
func (r *PBFReader) Run(ctx context.Context, h Handler) error {
	log := logger.Get()

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	r.size.Store(info.Size())

	if err := r.openIndex(); err != nil {
		return err
	}

	passes := []struct {
		pass Pass
		run  func(context.Context, io.Reader, Handler) error
	}{
		{PassRelations, r.scanRelations},
		{PassNodes, r.scanNodes},
		{PassWays, r.scanWays},
	}
	for _, p := range passes {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		r.pass.Store(int32(p.pass))
		r.scanned.Store(0)

		start := time.Now()
		log.Info("Reading pass", zap.Stringer("pass", p.pass))
		if err := p.run(ctx, f, h); err != nil {
			return fmt.Errorf("%s pass: %w", p.pass, err)
		}
		log.Info("Pass complete",
			zap.Stringer("pass", p.pass),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	}

	r.emitRelations(h)
	r.pass.Store(int32(PassDone))

	s := r.Stats()
	log.Info("Input read",
		zap.Int64("nodes", s.Nodes),
		zap.Int64("ways", s.Ways),
		zap.Int64("areas", s.Areas),
		zap.Int64("relations", s.Relations),
		zap.Int64("missing_nodes", s.MissingNodes))
	return nil
}

func (r *PBFReader) openIndex() error {
	path := r.opts.NodeIndexPath
	if path == "" {
		tmp, err := os.CreateTemp("", "osm2world-nodes-*.bin")
		if err != nil {
			return fmt.Errorf("failed to create node index: %w", err)
		}
		path = tmp.Name()
		tmp.Close()
		r.removeIndex = true
	}

	idx, err := nodeindex.NewMmapIndex(path, r.opts.MaxNodeID)
	if err != nil {
		return err
	}
	r.index = idx
	r.indexPath = path
	return nil
}

// scan runs one osmpbf scanner over f, calling fn for every object until
// fn returns false
func (r *PBFReader) scan(ctx context.Context, f io.Reader, setup func(*osmpbf.Scanner), fn func(osm.Object) bool) error {
	scanner := osmpbf.New(ctx, f, r.opts.Procs)
	defer scanner.Close()
	setup(scanner)

	var n int
	for scanner.Scan() {
		if n++; n%8192 == 0 {
			r.scanned.Store(scanner.FullyScannedBytes())
		}
		if !fn(scanner.Object()) {
			break
		}
	}
	r.scanned.Store(scanner.FullyScannedBytes())

	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return ctx.Err()
}

// scanRelations collects multipolygon relations and the ways they need
func (r *PBFReader) scanRelations(ctx context.Context, f io.Reader, _ Handler) error {
	return r.scan(ctx, f, func(s *osmpbf.Scanner) {
		s.SkipNodes = true
		s.SkipWays = true
	}, func(obj osm.Object) bool {
		if rel, ok := obj.(*osm.Relation); ok {
			r.collectRelation(rel)
		}
		return true
	})
}

// scanNodes indexes node locations and emits tagged nodes inside the bbox
func (r *PBFReader) scanNodes(ctx context.Context, f io.Reader, h Handler) error {
	return r.scan(ctx, f, func(s *osmpbf.Scanner) {
		s.SkipRelations = true
	}, func(obj osm.Object) bool {
		switch n := obj.(type) {
		case *osm.Node:
			r.handleNode(n, h)
		case *osm.Way:
			// Nodes come first in a sorted file
			return false
		}
		return true
	})
}

// scanWays resolves way locations and emits ways and closed-way areas
func (r *PBFReader) scanWays(ctx context.Context, f io.Reader, h Handler) error {
	return r.scan(ctx, f, func(s *osmpbf.Scanner) {
		s.SkipNodes = true
		s.SkipRelations = true
	}, func(obj osm.Object) bool {
		if w, ok := obj.(*osm.Way); ok {
			r.handleWay(w, h)
		}
		return true
	})
}

func (r *PBFReader) collectRelation(rel *osm.Relation) {
	tags := tagsToMap(rel.Tags)
	if !isMultipolygon(tags) {
		return
	}

	mp := relation{id: int64(rel.ID), tags: tags, visible: rel.Visible}
	for _, m := range rel.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		switch m.Role {
		case "outer", "":
			mp.outer = append(mp.outer, m.Ref)
		case "inner":
			mp.inner = append(mp.inner, m.Ref)
		default:
			continue
		}
		r.neededWays[m.Ref] = struct{}{}
	}
	if len(mp.outer)+len(mp.inner) > 0 {
		r.relations = append(r.relations, mp)
	}
}

func (r *PBFReader) handleNode(n *osm.Node, h Handler) {
	r.index.Put(int64(n.ID), n.Lat, n.Lon)
	if len(n.Tags) == 0 || !r.opts.BBox.Contains(n.Lat, n.Lon) {
		return
	}
	r.nodes.Add(1)
	h.Node(&Node{
		ID:       int64(n.ID),
		Tags:     tagsToMap(n.Tags),
		Location: orb.Point{n.Lon, n.Lat},
		Visible:  n.Visible,
	})
}

func (r *PBFReader) handleWay(w *osm.Way, h Handler) {
	bbox := r.opts.BBox
	refs := make([]NodeRef, len(w.Nodes))
	inBBox := false
	for i, wn := range w.Nodes {
		refs[i].ID = int64(wn.ID)
		lat, lon, ok := r.index.Get(int64(wn.ID))
		if !ok {
			r.missing.Add(1)
			continue
		}
		refs[i].Location = orb.Point{lon, lat}
		refs[i].Valid = true
		if !inBBox && bbox.Contains(lat, lon) {
			inBBox = true
		}
	}

	if _, needed := r.neededWays[int64(w.ID)]; needed {
		r.wayCache[int64(w.ID)] = validLine(refs)
	}

	if !inBBox || len(w.Tags) == 0 {
		return
	}

	way := &Way{ID: int64(w.ID), Tags: tagsToMap(w.Tags), Nodes: refs}
	r.ways.Add(1)
	h.Way(way)

	if way.EndsHaveSameID() && isArea(way.Tags) {
		area := &Area{
			ID:      AreaIDFromWay(way.ID),
			Tags:    way.Tags,
			Visible: w.Visible,
		}
		if ring := validLine(refs); closedRing(ring) {
			area.Outer = []orb.Ring{orb.Ring(ring)}
		}
		r.areas.Add(1)
		h.Area(area)
	}
}

// emitRelations assembles cached member ways into rings
func (r *PBFReader) emitRelations(h Handler) {
	bbox := r.opts.BBox
	for _, rel := range r.relations {
		outer, inBBoxOuter := r.memberLines(rel.outer, bbox)
		inner, inBBoxInner := r.memberLines(rel.inner, bbox)
		if len(outer)+len(inner) == 0 || !(inBBoxOuter || inBBoxInner) {
			continue
		}

		r.rels.Add(1)
		r.areas.Add(1)
		h.Area(&Area{
			ID:      AreaIDFromRelation(rel.id),
			Tags:    rel.tags,
			Outer:   assembleRings(outer),
			Inner:   assembleRings(inner),
			Visible: rel.visible,
		})
	}
	r.relations = nil
	r.wayCache = nil
}

func (r *PBFReader) memberLines(ids []int64, bbox *config.BBox) ([]orb.LineString, bool) {
	var lines []orb.LineString
	inBBox := false
	for _, id := range ids {
		ls, ok := r.wayCache[id]
		if !ok || len(ls) == 0 {
			continue
		}
		lines = append(lines, ls)
		if !inBBox {
			for _, p := range ls {
				if bbox.Contains(p.Lat(), p.Lon()) {
					inBBox = true
					break
				}
			}
		}
	}
	return lines, inBBox
}

// validLine returns the resolved locations of refs
func validLine(refs []NodeRef) orb.LineString {
	ls := make(orb.LineString, 0, len(refs))
	for _, ref := range refs {
		if ref.Valid {
			ls = append(ls, ref.Location)
		}
	}
	return ls
}

// tagsToMap converts OSM tags to a map
func tagsToMap(tags osm.Tags) style.Tags {
	m := make(style.Tags, len(tags))
	for _, tag := range tags {
		m[tag.Key] = tag.Value
	}
	return m
}
