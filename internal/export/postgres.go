package export

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// PostgresExporter loads tiles into <schema>.world_tiles, one row per tile,
// and records the run in <schema>.world_runs.
type PostgresExporter struct {
	pool   *pgxpool.Pool
	schema string
	meta   Meta
}

// NewPostgresExporter connects to the database described by connString.
func NewPostgresExporter(ctx context.Context, connString, schema string, maxConns int, meta Meta) (*PostgresExporter, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if schema == "" {
		schema = "public"
	}

	return &PostgresExporter{pool: pool, schema: schema, meta: meta}, nil
}

// Close closes the connection pool.
func (e *PostgresExporter) Close() {
	e.pool.Close()
}

// Export converts every tile to a row and loads them.
func (e *PostgresExporter) Export(ctx context.Context, w *world.World) error {
	tiles := w.Tiles()
	rows := make([]TileRow, 0, len(tiles))
	for _, t := range tiles {
		row, err := NewTileRow(t)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return e.Load(ctx, rows)
}

// LoadParquet loads a file written by ParquetExporter.
func (e *PostgresExporter) LoadParquet(ctx context.Context, path string) error {
	rows, err := ReadParquet(ctx, path)
	if err != nil {
		return err
	}
	return e.Load(ctx, rows)
}

// Load writes rows in one transaction. Tiles already stored for the same
// world UUID are replaced.
func (e *PostgresExporter) Load(ctx context.Context, rows []TileRow) error {
	log := logger.Get()
	start := time.Now()

	if e.schema != "public" {
		if _, err := e.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{e.schema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	for _, stmt := range createTablesSQL(e.schema) {
		if _, err := e.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	runs := pgx.Identifier{e.schema, "world_runs"}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (uuid, min_lon, min_lat, max_lon, max_lat, created_at, version)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uuid) DO NOTHING`, runs),
		e.meta.UUID.String(),
		e.meta.BBox.Min[0], e.meta.BBox.Min[1], e.meta.BBox.Max[0], e.meta.BBox.Max[1],
		e.meta.Timestamp, FileVersion,
	); err != nil {
		return fmt.Errorf("failed to record world: %w", err)
	}

	tempTable := "world_tiles_tmp"
	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE world_tiles_tmp (
			tile_x BIGINT,
			tile_y BIGINT,
			poi_count INTEGER,
			street_count INTEGER,
			area_count INTEGER,
			data TEXT
		) ON COMMIT DROP`); err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	copied, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{tempTable},
		[]string{"tile_x", "tile_y", "poi_count", "street_count", "area_count", "data"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return copyValues(rows[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("COPY failed: %w", err)
	}

	tiles := pgx.Identifier{e.schema, "world_tiles"}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (world, tile_x, tile_y, poi_count, street_count, area_count, data)
		SELECT $1::uuid, tile_x, tile_y, poi_count, street_count, area_count, data::jsonb
		FROM %s
		ON CONFLICT (world, tile_x, tile_y) DO UPDATE SET
			poi_count = EXCLUDED.poi_count,
			street_count = EXCLUDED.street_count,
			area_count = EXCLUDED.area_count,
			data = EXCLUDED.data`, tiles, tempTable),
		e.meta.UUID.String(),
	); err != nil {
		return fmt.Errorf("failed to insert from temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	log.Info("Tiles loaded",
		zap.String("table", tiles),
		zap.Stringer("world", e.meta.UUID),
		zap.Int64("rows", copied),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

func createTablesSQL(schema string) []string {
	runs := pgx.Identifier{schema, "world_runs"}.Sanitize()
	tiles := pgx.Identifier{schema, "world_tiles"}.Sanitize()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			uuid UUID PRIMARY KEY,
			min_lon DOUBLE PRECISION NOT NULL,
			min_lat DOUBLE PRECISION NOT NULL,
			max_lon DOUBLE PRECISION NOT NULL,
			max_lat DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL
		)`, runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			world UUID NOT NULL REFERENCES %s (uuid) ON DELETE CASCADE,
			tile_x BIGINT NOT NULL,
			tile_y BIGINT NOT NULL,
			poi_count INTEGER NOT NULL,
			street_count INTEGER NOT NULL,
			area_count INTEGER NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (world, tile_x, tile_y)
		)`, tiles, runs),
	}
}

func copyValues(r TileRow) []any {
	return []any{r.X, r.Y, r.POI, r.Streets, r.Areas, r.Data}
}
