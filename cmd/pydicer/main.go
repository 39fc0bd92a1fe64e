package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ShuchaoPangUNSW/pydicer/internal/config"
	"github.com/ShuchaoPangUNSW/pydicer/internal/convert"
	"github.com/ShuchaoPangUNSW/pydicer/internal/dataset"
	"github.com/ShuchaoPangUNSW/pydicer/internal/extract"
	"github.com/ShuchaoPangUNSW/pydicer/internal/index"
	"github.com/ShuchaoPangUNSW/pydicer/internal/preprocess"
	"github.com/ShuchaoPangUNSW/pydicer/internal/source"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	var inputs []string
	flag.Func("input", "Source directory to ingest (repeatable)", func(s string) error {
		inputs = append(inputs, s)
		return nil
	})
	workDir := flag.String("workdir", ".", "Working directory for the index and artifacts")
	keepNewest := flag.Bool("keep-newest", false, "On conflicting duplicates, keep the newest object as primary")
	configFile := flag.String("config", "", "Load configuration from YAML file")
	saveConfig := flag.String("save-config", "", "Save effective configuration to YAML file")
	datasetName := flag.String("dataset", "", "Prepare a named dataset of clean series after ingestion")
	quiet := flag.Bool("quiet", false, "Suppress progress output")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pydicer %s\n", version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadFromYAML(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the config file.
	if len(inputs) > 0 {
		cfg.Inputs = inputs
	}
	if *workDir != "." || cfg.WorkDir == "" {
		cfg.WorkDir = *workDir
	}
	if *keepNewest {
		cfg.KeepNewest = true
	}
	if *quiet {
		cfg.Quiet = true
	}

	if len(cfg.Inputs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one -input directory is required\n")
		printUsage()
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workdir: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Quiet {
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Println("pydicer")
	fmt.Println("=======")
	fmt.Println()

	var sources []source.Source
	for _, in := range cfg.Inputs {
		src, err := source.NewDirSource(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input %s: %v\n", in, err)
			os.Exit(1)
		}
		if !cfg.Quiet {
			fmt.Printf("Input %s: %d objects\n", in, src.Len())
		}
		sources = append(sources, src)
	}

	store, err := index.Open(cfg.WorkDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	co := preprocess.NewCoordinator(store, extract.NewDICOMExtractor(), sources, preprocess.CoordinatorOptions{
		Policy: preprocess.Policy{KeepNewest: cfg.KeepNewest},
		Logger: log,
		Quiet:  cfg.Quiet,
	})
	stats, err := co.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "Interrupted; index is consistent, re-run to resume\n")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error during ingestion: %v\n", err)
		os.Exit(1)
	}

	convertedDir := filepath.Join(cfg.WorkDir, "converted")
	manifest, err := convert.BuildManifest(ctx, store, &convert.StageDispatcher{Root: convertedDir}, "raw", log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building conversion manifest: %v\n", err)
		os.Exit(1)
	}
	manifestPath := filepath.Join(cfg.WorkDir, "manifest.yaml")
	if err := convert.SaveManifest(manifest, manifestPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing manifest: %v\n", err)
		os.Exit(1)
	}

	if *datasetName != "" {
		p := &dataset.Preparer{WorkDir: cfg.WorkDir, Log: log}
		res, err := p.Prepare(ctx, store, manifest, *datasetName, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error preparing dataset: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Dataset %q: %d series across %d patients (%d skipped)\n",
			*datasetName, res.Series, res.Patients, res.Skipped)
	}

	if *saveConfig != "" {
		if err := config.SaveToYAML(cfg, *saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save config: %v\n", err)
		} else {
			fmt.Printf("Configuration saved to %s\n", *saveConfig)
		}
	}

	counts, err := store.Counts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading index: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ Ingestion complete!")
	fmt.Printf("  Objects processed: %d (%d indexed, %d duplicates, %d parse failures, %d quarantined)\n",
		stats.Objects, stats.Indexed, stats.DuplicatesSkip, stats.ParseFailures, stats.Quarantined)
	fmt.Printf("  Index: %d patients, %d studies, %d series, %d instances\n",
		counts.Patients, counts.Studies, counts.Series, counts.Instances)
	fmt.Printf("  References: %d edges (%d dangling), %d error records\n",
		counts.Edges, counts.Dangling, counts.Errors)
	fmt.Printf("  Manifest: %s\n", manifestPath)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  pydicer -input <DIR> [-input <DIR> ...] [options]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}
