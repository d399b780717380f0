package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2world-go/internal/export"
)

var fileCmd = &cobra.Command{
	Use:   "file <input.osm.pbf> <output>",
	Short: "Generate a world and write it to disk",
	Long: `Generate a world and write it to disk.

By default the whole world is written as one JSON document. With --split the
output is a directory holding one <x>_<y>.json file per tile. With
--format parquet the output is a Parquet file with one row per tile.`,
	Args: cobra.ExactArgs(2),
	Run:  runFile,
}

func init() {
	rootCmd.AddCommand(fileCmd)

	fileCmd.Flags().StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: json or parquet")
	fileCmd.Flags().BoolVar(&cfg.SplitOutput, "split", false, "Write one JSON file per tile into the output directory")
}

func runFile(cmd *cobra.Command, args []string) {
	loadConfig(args[0])
	cfg.OutputFile = args[1]

	var exp export.Exporter
	switch {
	case cfg.OutputFormat == "parquet":
		if cfg.SplitOutput {
			exitWithError("--split only supports the json format", nil)
		}
		exp = &export.ParquetExporter{Path: cfg.OutputFile, BatchSize: cfg.BatchSize}
	case cfg.OutputFormat != "json":
		exitWithError("invalid output format", fmt.Errorf("unknown format %q", cfg.OutputFormat))
	case cfg.SplitOutput:
		exp = &export.DirExporter{Dir: cfg.OutputFile, Workers: cfg.Workers.Upload}
	default:
		exp = &export.FileExporter{Path: cfg.OutputFile, Meta: worldMeta()}
	}

	ctx, stop := signalContext()
	defer stop()
	generate(ctx, exp)
}
