package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// FileExporter writes the whole world as one JSON document.
type FileExporter struct {
	Path string
	Meta Meta
}

// Export writes the document to e.Path, replacing any existing file.
func (e *FileExporter) Export(ctx context.Context, w *world.World) error {
	log := logger.Get()
	start := time.Now()

	tmp := e.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	if err := json.NewEncoder(bw).Encode(NewDocument(w, e.Meta)); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode world: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, e.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename output file: %w", err)
	}

	log.Info("World written",
		zap.String("path", e.Path),
		zap.Int("tiles", w.Len()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}

// DirExporter writes one <x>_<y>.json file per tile into Dir.
type DirExporter struct {
	Dir     string
	Workers int // Concurrent file writers (0 = NumCPU)
}

// TileFileName returns the file name used for the tile at k.
func TileFileName(k world.Key) string {
	return fmt.Sprintf("%d_%d.json", k.X, k.Y)
}

// Export writes every tile into its own file.
func (e *DirExporter) Export(ctx context.Context, w *world.World) error {
	log := logger.Get()
	start := time.Now()

	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range w.Tiles() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			data, err := EncodeTile(t)
			if err != nil {
				return fmt.Errorf("tile %d,%d: %w", t.Key.X, t.Key.Y, err)
			}
			path := filepath.Join(e.Dir, TileFileName(t.Key))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("failed to write tile file: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info("Tiles written",
		zap.String("dir", e.Dir),
		zap.Int("tiles", w.Len()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}
