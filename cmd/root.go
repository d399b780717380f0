package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2world-go/internal/config"
	"github.com/wegman-software/osm2world-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration

	configFile string
	bboxStr    string
	overrides  config.Workers
	sizeX      int
	sizeY      int
)

var rootCmd = &cobra.Command{
	Use:   "osm2world-go",
	Short: "Turn OSM extracts into a tiled game world",
	Long: `osm2world-go reads an OSM PBF extract, classifies nodes, ways and areas
with an ordered rule list and sorts the results into a grid of tiles.

Features:
  - Independent worker pools for POI, street and area classification
  - Streets split at tile borders with shared boundary points
  - Memory-mapped node index for way and relation geometry
  - Export to JSON files, HTTP endpoints, PostgreSQL or Parquet`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		if logFile != "" {
			logger.InitWithFile(verbose, logFile)
		} else {
			logger.Init(verbose)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	flags.StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&metricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (0 disables)")

	// Generation flags
	flags.StringVarP(&configFile, "config", "c", "", "Rule file with workers, size and poi/streets/areas rules (YAML or JSON)")
	flags.StringVarP(&bboxStr, "bbox", "b", "", "Bounding box filter: minlon,minlat,maxlon,maxlat")
	flags.IntVar(&overrides.Node, "node-workers", 0, "POI workers (overrides the rule file)")
	flags.IntVar(&overrides.Way, "way-workers", 0, "Street workers (overrides the rule file)")
	flags.IntVar(&overrides.Area, "area-workers", 0, "Area workers (overrides the rule file)")
	flags.IntVar(&overrides.Upload, "upload-workers", 0, "Export workers (overrides the rule file)")
	flags.IntVar(&sizeX, "size-x", 0, "Tiles per degree of longitude (overrides the rule file)")
	flags.IntVar(&sizeY, "size-y", 0, "Tiles per degree of latitude (overrides the rule file)")
	flags.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "Batches buffered per worker pool (0 = unbounded)")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Records per batch handed to a worker")
	flags.StringVar(&cfg.NodeIndexFile, "node-index", "", "Path for the node location index (default: temporary file)")

	// Database flags
	flags.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	flags.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	flags.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	flags.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	flags.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	flags.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// loadConfig applies the rule file and command line overrides to cfg
func loadConfig(input string) {
	cfg.InputFile = input

	if configFile == "" {
		exitWithError("no rule file given", nil)
	}
	if err := cfg.LoadFile(configFile); err != nil {
		exitWithError("failed to load rule file", err)
	}

	if bboxStr != "" {
		bbox, err := config.ParseBBox(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.BBox = bbox
	}

	override(&cfg.Workers.Node, overrides.Node)
	override(&cfg.Workers.Way, overrides.Way)
	override(&cfg.Workers.Area, overrides.Area)
	override(&cfg.Workers.Upload, overrides.Upload)
	override(&cfg.Size.X, sizeX)
	override(&cfg.Size.Y, sizeY)

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
}

func override(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
