package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/CGK-Laboratory/pycroglia/internal/batch"
	"github.com/CGK-Laboratory/pycroglia/internal/export"
	"github.com/CGK-Laboratory/pycroglia/internal/report"
	"github.com/CGK-Laboratory/pycroglia/pkg/config"
	"github.com/CGK-Laboratory/pycroglia/pkg/pipeline"
	"github.com/CGK-Laboratory/pycroglia/pkg/segment"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Input image stack (.tif/.tiff/.lsm), a directory of slices, or a comma separated list of stacks")
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when omitted)")
	outputCSV := flag.String("csv", "pycroglia_results.csv", "Output CSV filename for per-cell morphology")
	outputHTML := flag.String("report", "", "Optional HTML report filename")
	channels := flag.Int("channels", 0, "Override: number of interleaved channels in the stack")
	channel := flag.Int("channel", 0, "Override: 1-based channel of interest")
	threshold := flag.String("threshold", "", "Override: threshold method (fixed, otsu, otsu-slice)")
	thresholdValue := flag.Float64("threshold-value", 0, "Override: absolute level for the fixed threshold method")
	adjust := flag.Float64("adjust", 0, "Override: Otsu threshold adjust factor")
	minSize := flag.Int("min-size", -1, "Override: minimum object size in voxels")
	split := flag.Bool("split", false, "Override: split large merged cells by nuclei count")
	cutOff := flag.Int("cutoff", 0, "Override: cut-off size in voxels for cell splitting")
	skeleton := flag.Bool("skeleton", false, "Override: compute skeleton metrics per cell")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of parallel workers for batch runs (default: all cores)")
	flag.Parse()

	// Validate inputs
	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	pcfg := cfg.Pipeline()
	applyOverrides(&pcfg, *channels, *channel, *threshold, *thresholdValue, *adjust, *minSize, *split, *cutOff, *skeleton)

	// Cancel cleanly on Ctrl-C so partial batches still report what finished.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("================================")
	fmt.Println("PYCROGLIA MICROGLIA SEGMENTATION AND MORPHOLOGY PIPELINE")
	fmt.Println("================================")

	paths := splitPaths(*inputPath)
	startTime := time.Now()

	var results []*pipeline.Result
	if len(paths) == 1 {
		res, err := pipeline.Run(ctx, sourceFor(paths[0]), pcfg)
		if err != nil {
			log.Fatalf("Pipeline failed: %v", err)
		}
		results = []*pipeline.Result{res}
	} else {
		fmt.Printf("Processing %d stacks with %d workers...\n", len(paths), *workers)
		batchResults, err := batch.Process(ctx, paths, pcfg, *workers)
		if err != nil {
			log.Fatalf("Batch processing failed: %v", err)
		}
		results = batchResults
	}
	elapsed := time.Since(startTime)

	for _, res := range results {
		printSummary(res)
	}
	fmt.Printf("\nCompleted %d run(s) in %.2f seconds\n", len(results), elapsed.Seconds())

	if err := writeCSV(*outputCSV, results); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}
	fmt.Printf("Morphology table saved to: %s\n", *outputCSV)

	if *outputHTML != "" {
		if err := writeReports(*outputHTML, results); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		fmt.Printf("HTML report saved to: %s\n", *outputHTML)
	}
}

// applyOverrides copies non-zero flag values over the loaded configuration
// so the command line wins over the YAML file.
func applyOverrides(cfg *pipeline.Config, channels, channel int, threshold string, thresholdValue, adjust float64, minSize int, split bool, cutOff int, skeleton bool) {
	if channels > 0 {
		cfg.Channels = channels
	}
	if channel > 0 {
		cfg.Channel = channel - 1
	}
	if threshold != "" {
		cfg.ThresholdMethod = segment.ThresholdMethod(threshold)
	}
	if thresholdValue > 0 {
		cfg.ThresholdValue = thresholdValue
	}
	if adjust > 0 {
		cfg.ThresholdAdjust = adjust
	}
	if minSize >= 0 {
		cfg.MinSize = minSize
	}
	if split {
		cfg.SplitLargeCells = true
	}
	if cutOff > 0 {
		cfg.CutOffSize = cutOff
	}
	if skeleton {
		cfg.ComputeSkeletonMetrics = true
	}
}

func splitPaths(arg string) []string {
	parts := strings.Split(arg, ",")
	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// sourceFor treats directories as slice sequences and everything else as
// a multi-page stack file.
func sourceFor(path string) pipeline.Source {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return pipeline.DirSource{Path: path}
	}
	return pipeline.FileSource{Path: path}
}

func printSummary(res *pipeline.Result) {
	fmt.Printf("\nRun %s (%s)\n", res.RunID, res.Source)
	fmt.Printf("=======================================\n")
	fmt.Printf("Objects segmented: %d\n", res.ObjectsBeforeFilter)
	fmt.Printf("Cells after filtering: %d\n", res.ObjectsAfterFilter)
	if res.Rejected.Total() > 0 {
		fmt.Printf("Rejected objects: %d\n", res.Rejected.Total())
	}
	for _, w := range res.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if res.Territory != nil {
		fmt.Printf("Territorial coverage: %.2f%% of imaged volume\n", res.Territory.CoveredPercent)
	}
	fmt.Println("Stage timings:")
	for _, t := range res.Timings {
		fmt.Printf("- %-12s %.3fs\n", t.Stage, t.Duration.Seconds())
	}
}

func writeCSV(path string, results []*pipeline.Result) error {
	if len(results) == 1 {
		return export.WriteCSVFile(path, results[0])
	}
	// One CSV per stack for batch runs, suffixed by input order.
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i, res := range results {
		out := fmt.Sprintf("%s_%02d%s", base, i+1, ext)
		if err := export.WriteCSVFile(out, res); err != nil {
			return err
		}
	}
	return nil
}

func writeReports(path string, results []*pipeline.Result) error {
	if len(results) == 1 {
		return report.WriteFile(path, results[0])
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i, res := range results {
		out := fmt.Sprintf("%s_%02d%s", base, i+1, ext)
		if err := report.WriteFile(out, res); err != nil {
			return err
		}
	}
	return nil
}
