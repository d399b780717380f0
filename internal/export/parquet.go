package export

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// TileRow is the tabular form of a tile shared by the Parquet and
// PostgreSQL sinks. Data holds the tile JSON.
type TileRow struct {
	X       int64
	Y       int64
	POI     int32
	Streets int32
	Areas   int32
	Data    string
}

// NewTileRow converts one tile.
func NewTileRow(t *world.Tile) (TileRow, error) {
	data, err := EncodeTile(t)
	if err != nil {
		return TileRow{}, fmt.Errorf("tile %d,%d: %w", t.Key.X, t.Key.Y, err)
	}
	return TileRow{
		X:       int64(t.Key.X),
		Y:       int64(t.Key.Y),
		POI:     int32(len(t.POI)),
		Streets: int32(len(t.Streets)),
		Areas:   int32(len(t.Areas)),
		Data:    string(data),
	}, nil
}

var tileSchema = arrow.NewSchema([]arrow.Field{
	{Name: "tile_x", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "tile_y", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "poi_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "street_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "area_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "data", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// ParquetExporter writes one row per tile to a Parquet file.
type ParquetExporter struct {
	Path      string
	BatchSize int // Rows per record batch (0 = 1024)
}

// Export writes all tiles to e.Path.
func (e *ParquetExporter) Export(ctx context.Context, w *world.World) error {
	log := logger.Get()
	start := time.Now()

	tw, err := newTileWriter(e.Path, e.BatchSize)
	if err != nil {
		return err
	}
	for _, t := range w.Tiles() {
		if err := ctx.Err(); err != nil {
			tw.Close()
			return err
		}
		row, err := NewTileRow(t)
		if err != nil {
			tw.Close()
			return err
		}
		if err := tw.Write(row); err != nil {
			tw.Close()
			return fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}

	log.Info("Parquet world written",
		zap.String("path", e.Path),
		zap.Int("tiles", w.Len()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

// tileWriter buffers rows into Arrow records
type tileWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newTileWriter(path string, batchSize int) (*tileWriter, error) {
	if batchSize <= 0 {
		batchSize = 1024
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(tileSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &tileWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, tileSchema),
		batchSize: batchSize,
	}, nil
}

func (w *tileWriter) Write(r TileRow) error {
	w.builder.Field(0).(*array.Int64Builder).Append(r.X)
	w.builder.Field(1).(*array.Int64Builder).Append(r.Y)
	w.builder.Field(2).(*array.Int32Builder).Append(r.POI)
	w.builder.Field(3).(*array.Int32Builder).Append(r.Streets)
	w.builder.Field(4).(*array.Int32Builder).Append(r.Areas)
	w.builder.Field(5).(*array.StringBuilder).Append(r.Data)

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *tileWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

func (w *tileWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		w.file.Close()
		return err
	}
	err := w.writer.Close()
	// The writer may already have closed the file
	w.file.Close()
	return err
}

// ReadParquet reads the tile rows of a file written by ParquetExporter.
func ReadParquet(ctx context.Context, path string) ([]TileRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	if tbl.NumCols() != int64(len(tileSchema.Fields())) {
		return nil, fmt.Errorf("unexpected parquet schema: %d columns", tbl.NumCols())
	}

	rows := make([]TileRow, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 4096)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		xs := rec.Column(0).(*array.Int64)
		ys := rec.Column(1).(*array.Int64)
		pois := rec.Column(2).(*array.Int32)
		streets := rec.Column(3).(*array.Int32)
		areas := rec.Column(4).(*array.Int32)
		data := rec.Column(5).(*array.String)

		for i := 0; i < int(rec.NumRows()); i++ {
			rows = append(rows, TileRow{
				X:       xs.Value(i),
				Y:       ys.Value(i),
				POI:     pois.Value(i),
				Streets: streets.Value(i),
				Areas:   areas.Value(i),
				Data:    data.Value(i),
			})
		}
	}
	return rows, nil
}
