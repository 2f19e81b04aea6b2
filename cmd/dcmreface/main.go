package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"dcmreface/internal/logger"
	"dcmreface/pkg/config"
	"dcmreface/pkg/conversion"
	"dcmreface/pkg/deface"
	"dcmreface/pkg/dicommeta"
	"dcmreface/pkg/geometry"
	"dcmreface/pkg/launcher"
	"dcmreface/pkg/metrics"
	"dcmreface/pkg/pipeline"
	"dcmreface/pkg/reconstruction"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line arguments
	inputDir := flag.String("input_folder", "", "Top-level folder with one subfolder per patient (required)")
	outputDir := flag.String("output_folder", "", "Folder receiving {patient}/original and {patient}/defaced (required)")
	scriptPath := flag.String("reface_script_path", "", "Path of the run_mri_reface_docker.sh launcher (required)")
	saveQC := flag.Bool("save_qc_renders", false, "Ask the defacing tool to save its QC renders")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	metricsFile := flag.String("metrics_textfile", "", "Write batch metrics to this Prometheus textfile")
	savePreviews := flag.Bool("save_previews", false, "Write mid-slice JPEG previews of converted volumes")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	initConfig := flag.String("init_config", "", "Write a default configuration file to this path and exit")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			return 1
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return 0
	}

	// Validate inputs
	if *inputDir == "" || *outputDir == "" || *scriptPath == "" {
		flag.Usage()
		return 1
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if *metricsFile != "" {
		cfg.Output.MetricsTextfile = *metricsFile
	}
	if *savePreviews {
		cfg.Output.Previews = true
	}

	log := logger.New(cfg.Output.Verbose, cfg.Output.LogFormat).With("run_id", uuid.NewString())

	l, err := launcher.Prepare(*scriptPath, launcher.Options{
		Patch:        cfg.Launcher.Patch,
		PlatformFlag: cfg.Launcher.PlatformFlag,
		TargetLine:   cfg.Launcher.TargetLine,
		Logger:       log,
	})
	if err != nil {
		log.Error("cannot use defacing launcher", "error", err)
		return 1
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn("failed to remove patched launcher", "path", l.Path, "error", err)
		}
	}()

	geom := geometry.Options{
		RelTolerance: cfg.Geometry.RelTolerance,
		AbsTolerance: cfg.Geometry.AbsTolerance,
		MinRunLength: cfg.Geometry.MinRunLength,
	}

	var builder conversion.VolumeBuilder
	switch cfg.Conversion.Builder {
	case config.BuilderDcm2niix:
		builder = reconstruction.NewDcm2niix(cfg.Conversion.Dcm2niixPath, nil, log)
	default:
		builder = reconstruction.NewReconstructor(&reconstruction.Params{
			Validation: geometry.Options{
				RelTolerance: cfg.Conversion.RelTolerance,
				AbsTolerance: cfg.Conversion.AbsTolerance,
				MinRunLength: 2,
			},
			Logger: log,
		})
	}

	converter, err := conversion.New(builder, dicommeta.NewFileReader(),
		conversion.WithLogger(log),
		conversion.WithGeometry(geom),
	)
	if err != nil {
		log.Error("failed to create converter", "error", err)
		return 1
	}

	defacer, err := deface.New(l.Path,
		deface.WithLogger(log),
		deface.WithQCRenders(*saveQC),
	)
	if err != nil {
		log.Error("failed to create defacer", "error", err)
		return 1
	}

	m := metrics.New()
	driver, err := pipeline.New(*inputDir, *outputDir, converter, defacer,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithPreviews(cfg.Output.Previews),
	)
	if err != nil {
		log.Error("failed to create pipeline", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := driver.Run(ctx)
	log.Info("processing time", "seconds", time.Since(start).Seconds(), "patients", summary.Patients)

	if cfg.Output.MetricsTextfile != "" {
		if werr := m.WriteTextfile(cfg.Output.MetricsTextfile); werr != nil {
			log.Warn("failed to write metrics", "path", cfg.Output.MetricsTextfile, "error", werr)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("batch interrupted")
			return 130
		}
		log.Error("batch failed", "error", err)
		return 1
	}
	return 0
}
