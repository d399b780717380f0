package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osm2world-go/internal/queue"
	"github.com/wegman-software/osm2world-go/internal/stash"
	"github.com/wegman-software/osm2world-go/internal/style"
)

// ErrInvalidBBox is returned for empty, inverted or out-of-range extents.
var ErrInvalidBBox = errors.New("invalid bounding box")

// DefaultSizeFactor is the default tile density per degree.
const DefaultSizeFactor = 10000

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// WorldBBox covers all valid coordinates.
func WorldBBox() *BBox {
	return &BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90, IsSet: true}
}

// Bound returns the box as an orb.Bound. An unset box covers the world.
func (b *BBox) Bound() orb.Bound {
	if b == nil || !b.IsSet {
		b = WorldBBox()
	}
	return orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if b == nil || !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Validate checks that the box has a non-zero extent inside the world.
func (b *BBox) Validate() error {
	if b == nil || !b.IsSet {
		return nil
	}
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: %s is empty", ErrInvalidBBox, b)
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("%w: %s is outside the world", ErrInvalidBBox, b)
	}
	return nil
}

// String formats the box as "minlon,minlat,maxlon,maxlat".
func (b *BBox) String() string {
	if b == nil || !b.IsSet {
		return "world"
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat".
// Slashes are accepted as separators too.
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' })
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: must have 4 values: minlon,minlat,maxlon,maxlat", ErrInvalidBBox)
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidBBox, p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	return bbox, nil
}

// Workers sets the goroutine count of each pool
type Workers struct {
	Node   int `yaml:"node"`
	Way    int `yaml:"way"`
	Area   int `yaml:"area"`
	Upload int `yaml:"upload"`
}

// Size holds the tile density factors: tiles per degree of longitude (X)
// and latitude (Y)
type Size struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Config holds the global configuration for a world generation run
type Config struct {
	// Input settings
	InputFile string
	RulesFile string // Path to the rule file (YAML or JSON)
	BBox      *BBox  // Geographic bounding box filter

	// Rule file content
	Workers Workers
	Size    Size
	Rules   *style.Config

	// Processing settings
	QueueCapacity int    // 0 = unbounded
	BatchSize     int    // Items per stash handed to a worker
	NodeIndexFile string // Path to the node location index (empty = temp file)

	// Output settings
	OutputFile   string
	OutputFormat string // json or parquet
	SplitOutput  bool   // One file per tile
	PushURL      string
	AuthHeader   string
	HTTPTimeout  time.Duration
	HTTPRetries  int

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	n := runtime.NumCPU()
	return &Config{
		BBox: WorldBBox(),
		Workers: Workers{
			Node:   n,
			Way:    2 * n,
			Area:   4 * n,
			Upload: n,
		},
		Size:            Size{X: DefaultSizeFactor, Y: DefaultSizeFactor},
		Rules:           style.DefaultConfig(),
		QueueCapacity:   queue.DefaultCapacity,
		BatchSize:       stash.DefaultBatchSize,
		OutputFormat:    "json",
		HTTPTimeout:     30 * time.Second,
		HTTPRetries:     3,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		MetricsInterval: 30 * time.Second,
	}
}

// fileHeader is the non-rule part of a rule file
type fileHeader struct {
	Workers *struct {
		Node   *int `yaml:"node"`
		Way    *int `yaml:"way"`
		Area   *int `yaml:"area"`
		Upload *int `yaml:"upload"`
	} `yaml:"workers"`
	Size *struct {
		X *int `yaml:"x"`
		Y *int `yaml:"y"`
	} `yaml:"size"`
}

// LoadFile reads worker counts, tile size and rules from path. Values the
// file does not set keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := c.load(data); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	c.RulesFile = path
	return nil
}

func (c *Config) load(data []byte) error {
	var hdr fileHeader
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if w := hdr.Workers; w != nil {
		setInt(&c.Workers.Node, w.Node)
		setInt(&c.Workers.Way, w.Way)
		setInt(&c.Workers.Area, w.Area)
		setInt(&c.Workers.Upload, w.Upload)
	}
	if s := hdr.Size; s != nil {
		setInt(&c.Size.X, s.X)
		setInt(&c.Size.Y, s.Y)
	}

	rules, err := style.Parse(data)
	if err != nil {
		return err
	}
	c.Rules = rules
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Workers.Node < 1 || c.Workers.Way < 1 || c.Workers.Area < 1 || c.Workers.Upload < 1 {
		return fmt.Errorf("worker counts must be at least 1 (node=%d way=%d area=%d upload=%d)",
			c.Workers.Node, c.Workers.Way, c.Workers.Area, c.Workers.Upload)
	}
	if c.Size.X < 1 || c.Size.Y < 1 {
		return fmt.Errorf("size factors must be at least 1 (x=%d y=%d)", c.Size.X, c.Size.Y)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must not be negative")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if err := c.BBox.Validate(); err != nil {
		return err
	}
	if c.Rules == nil || !c.Rules.HasRules() {
		return fmt.Errorf("no classification rules configured")
	}
	return nil
}
