package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osm2world-go/internal/logger"
	"github.com/wegman-software/osm2world-go/internal/world"
)

// TilePositionHeader carries "x,y" of the uploaded tile.
const TilePositionHeader = "X-Tile-Position"

// HTTPStats counts tile uploads.
type HTTPStats struct {
	Requests int64
	Errors   int64
}

// HTTPExporter POSTs every tile as JSON to URL. Each worker uploads the
// tiles whose x coordinate maps to it modulo the worker count.
type HTTPExporter struct {
	url        string
	auth       string
	workers    int
	client     *http.Client
	maxRetries int
	retryDelay time.Duration

	requests atomic.Int64
	errors   atomic.Int64
}

// HTTPOptions configure an HTTPExporter.
type HTTPOptions struct {
	Auth       string        // Authorization header value, omitted when empty
	Workers    int           // Upload workers (0 = NumCPU)
	Timeout    time.Duration // Per request (0 = 30s)
	MaxRetries int           // Retries on network and 5xx errors
	RetryDelay time.Duration // 0 = 2s
}

// NewHTTPExporter creates an exporter pushing to url.
func NewHTTPExporter(url string, opts HTTPOptions) *HTTPExporter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &HTTPExporter{
		url:        url,
		auth:       opts.Auth,
		workers:    opts.Workers,
		client:     &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
}

// Stats returns the upload counters.
func (e *HTTPExporter) Stats() HTTPStats {
	return HTTPStats{Requests: e.requests.Load(), Errors: e.errors.Load()}
}

// Export uploads all tiles. Failed tiles are logged and counted; Export
// returns an error if any tile could not be uploaded.
func (e *HTTPExporter) Export(ctx context.Context, w *world.World) error {
	log := logger.Get()
	start := time.Now()
	tiles := w.Tiles()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		log.Debug("Starting upload worker", zap.Int("worker", i), zap.Int("workers", e.workers))
		g.Go(func() error {
			return e.uploadPartition(gctx, tiles, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s := e.Stats()
	log.Info("Upload complete",
		zap.Int64("requests", s.Requests),
		zap.Int64("errors", s.Errors),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	if s.Errors > 0 {
		return fmt.Errorf("%d of %d tile uploads failed", s.Errors, s.Requests)
	}
	return nil
}

func (e *HTTPExporter) uploadPartition(ctx context.Context, tiles []*world.Tile, worker int) error {
	log := logger.Get()
	for _, t := range tiles {
		if partition(t.Key.X, e.workers) != worker {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := EncodeTile(t)
		if err != nil {
			return fmt.Errorf("tile %d,%d: %w", t.Key.X, t.Key.Y, err)
		}

		status, err := e.postWithRetry(ctx, t.Key, body)
		e.requests.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.errors.Add(1)
			log.Warn("Tile upload failed",
				zap.Int("x", t.Key.X), zap.Int("y", t.Key.Y), zap.Error(err))
			continue
		}
		if status != http.StatusOK {
			e.errors.Add(1)
			log.Warn("Unexpected status while uploading tile",
				zap.Int("x", t.Key.X), zap.Int("y", t.Key.Y), zap.Int("status", status))
		}
	}
	return nil
}

// postWithRetry uploads one tile, retrying on network and server errors
func (e *HTTPExporter) postWithRetry(ctx context.Context, k world.Key, body []byte) (int, error) {
	var lastErr error
	position := strconv.Itoa(k.X) + "," + strconv.Itoa(k.Y)

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(e.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "osm2world-go/1.0")
		req.Header.Set(TilePositionHeader, position)
		if e.auth != "" {
			req.Header.Set("Authorization", e.auth)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp.StatusCode, nil
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// partition maps a tile column to a worker, also for negative columns
func partition(x, workers int) int {
	return ((x % workers) + workers) % workers
}
