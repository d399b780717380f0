// Package export writes a finished world to files, HTTP endpoints,
// PostgreSQL or Parquet.
package export

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/wegman-software/osm2world-go/internal/world"
)

// FileVersion is the version of the exported document layout.
const FileVersion = 1

// Exporter writes a world somewhere. The world must not be modified while
// Export runs.
type Exporter interface {
	Export(ctx context.Context, w *world.World) error
}

// Meta identifies one generated world.
type Meta struct {
	UUID      uuid.UUID
	BBox      orb.Bound
	Timestamp time.Time
}

// NewMeta creates metadata with a fresh UUID for a world covering bbox.
func NewMeta(bbox orb.Bound) Meta {
	return Meta{UUID: uuid.New(), BBox: bbox, Timestamp: time.Now().UTC()}
}

// Document is the JSON layout of a whole world. Tiles are keyed by x, then y.
type Document struct {
	UUID      string                         `json:"uuid"`
	BBox      [4]float64                     `json:"bbox"`
	Timestamp int64                          `json:"timestamp"`
	Version   int                            `json:"version"`
	Tiles     map[string]map[string]*TileDoc `json:"tiles"`
}

// TileDoc is the JSON layout of one tile.
type TileDoc struct {
	BBox    [4]float64  `json:"bbox"`
	POI     []POIDoc    `json:"poi"`
	Streets []StreetDoc `json:"streets"`
	Areas   []AreaDoc   `json:"areas"`
}

type POIDoc struct {
	Type   int32      `json:"type"`
	OID    int64      `json:"oid"`
	Point  [2]float64 `json:"point"`
	Spawns []int32    `json:"spawns"`
}

type StreetDoc struct {
	Type   int32        `json:"type"`
	OID    int64        `json:"oid"`
	Points [][2]float64 `json:"points"`
}

type AreaDoc struct {
	Type   int32        `json:"type"`
	OID    int64        `json:"oid"`
	Spawns []int32      `json:"spawns"`
	Points [][2]float64 `json:"points"`
}

// NewDocument converts w into its JSON layout.
func NewDocument(w *world.World, meta Meta) *Document {
	doc := &Document{
		UUID:      meta.UUID.String(),
		BBox:      bboxArray(meta.BBox),
		Timestamp: meta.Timestamp.Unix(),
		Version:   FileVersion,
		Tiles:     make(map[string]map[string]*TileDoc),
	}
	for k, t := range w.All() {
		x := strconv.Itoa(k.X)
		col, ok := doc.Tiles[x]
		if !ok {
			col = make(map[string]*TileDoc)
			doc.Tiles[x] = col
		}
		col[strconv.Itoa(k.Y)] = NewTileDoc(t)
	}
	return doc
}

// NewTileDoc converts one tile. Empty collections encode as [] rather
// than null.
func NewTileDoc(t *world.Tile) *TileDoc {
	doc := &TileDoc{
		BBox:    bboxArray(t.Bound),
		POI:     make([]POIDoc, 0, len(t.POI)),
		Streets: make([]StreetDoc, 0, len(t.Streets)),
		Areas:   make([]AreaDoc, 0, len(t.Areas)),
	}
	for _, p := range t.POI {
		doc.POI = append(doc.POI, POIDoc{
			Type:   p.Type,
			OID:    p.ID,
			Point:  [2]float64(p.Position),
			Spawns: spawns(p.Spawns),
		})
	}
	for _, s := range t.Streets {
		doc.Streets = append(doc.Streets, StreetDoc{
			Type:   s.Type,
			OID:    s.ID,
			Points: points(s.Waypoints),
		})
	}
	for _, a := range t.Areas {
		doc.Areas = append(doc.Areas, AreaDoc{
			Type:   a.Type,
			OID:    a.ID,
			Spawns: spawns(a.Spawns),
			Points: points(a.Border),
		})
	}
	return doc
}

// EncodeTile returns the JSON encoding of one tile.
func EncodeTile(t *world.Tile) ([]byte, error) {
	return json.Marshal(NewTileDoc(t))
}

func bboxArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}

func spawns(s []int32) []int32 {
	if s == nil {
		return []int32{}
	}
	return s
}

func points[S ~[]orb.Point](ps S) [][2]float64 {
	out := make([][2]float64, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}
