package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cloud.google.com/go/storage"

	"github.com/airbusgeo/blktiler"
	"github.com/airbusgeo/blktiler/cleanup"
	"github.com/airbusgeo/blktiler/engine/gdalengine"
	"github.com/airbusgeo/blktiler/internal/config"
	"github.com/airbusgeo/blktiler/internal/logger"
	"github.com/airbusgeo/blktiler/internal/metrics"
	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/store"
	"github.com/airbusgeo/blktiler/transition"
)

type creationOptions []string

func (i *creationOptions) String() string {
	return "gdal creation option passed as KEY=VALUE"
}

func (i *creationOptions) Set(value string) error {
	*i = append(*i, value)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var createOpts creationOptions
	jobFile := flag.String("job", "", "job description (JSON)")
	output := flag.String("output", "", "output store uri: directory, gs://, s3:// or mem:// (default $BLKTILER_OUTPUT, then the job's)")
	workers := flag.Int("workers", 0, "number of layers processed concurrently (default $BLKTILER_WORKERS, then GOMAXPROCS)")
	tileWorkers := flag.Int("tile-workers", 4, "number of tiles of a layer assembled concurrently")
	tmpdir := flag.String("tmpdir", os.TempDir(), "parent directory of intermediate files")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	metricsFile := flag.String("metrics-file", "", "write prometheus metrics to this file at the end of the run")
	flag.Var(&createOpts, "co", "gtiff creation option of intermediate files (may be repeated)")
	flag.Parse()

	if *jobFile == "" {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -job job.json [options]\nOptions:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		return fmt.Errorf("missing -job")
	}

	log := logger.Setup()
	env, err := config.LoadEnv(*envFile)
	if err != nil {
		return err
	}
	job, err := config.LoadJob(*jobFile)
	if err != nil {
		return err
	}

	uri := firstOf(*output, env.Output, job.Output)
	if uri == "" {
		return fmt.Errorf("no output store: set -output, BLKTILER_OUTPUT or the job's output")
	}
	out, err := store.Open(ctx, uri)
	if err != nil {
		return err
	}

	eng := gdalengine.New(createOpts...)
	if env.GCS {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("storage.newclient: %w", err)
		}
		defer client.Close()
		if err := gdalengine.RegisterGCS(ctx, client); err != nil {
			return err
		}
	}

	scope, err := cleanup.NewScope(*tmpdir)
	if err != nil {
		return err
	}
	defer func() {
		if err := scope.Close(); err != nil {
			log.Warn("cleanup failed", "dir", scope.Root(), "error", err)
		}
	}()
	ws := &layer.Workspace{Engine: eng, Scope: scope}
	rules := transition.NewManager()

	bbox, err := boundingBox(ctx, ws, job, rules)
	if err != nil {
		return err
	}
	frame := bbox.Frame()
	log.Info("bounding box established", "projection", frame.Projection, "pixel_size", frame.PixelSize,
		"west", frame.Extent.West, "south", frame.Extent.South, "east", frame.Extent.East, "north", frame.Extent.North)

	m := metrics.New()
	opts := []blktiler.TilerOption{
		blktiler.WithTileExtent(job.TileExtent),
		blktiler.WithBlockExtent(job.BlockExtent),
		blktiler.WithTileWorkers(*tileWorkers),
		blktiler.WithLogger(log),
		blktiler.WithRecorder(m),
	}
	if n := firstPositive(*workers, env.Workers); n > 0 {
		opts = append(opts, blktiler.WithWorkers(n))
	}

	var errs []error
	if len(job.Layers) > 0 {
		layers := make([]layer.Layer, 0, len(job.Layers))
		for _, l := range job.Layers {
			built, err := l.Build(rules)
			if err != nil {
				return err
			}
			layers = append(layers, built)
		}
		opts2d := opts
		if job.UseBoundingBoxResolution {
			opts2d = append(append([]blktiler.TilerOption(nil), opts...), blktiler.WithBoundingBoxResolution())
		}
		errs = append(errs, blktiler.NewTiler2D(bbox, out, opts2d...).Tile(ctx, layers))
	}
	if len(job.Stacks) > 0 {
		stacks := make([]layer.Stack, 0, len(job.Stacks))
		for _, s := range job.Stacks {
			built, err := s.Build(rules)
			if err != nil {
				return err
			}
			stacks = append(stacks, built)
		}
		errs = append(errs, blktiler.NewTiler3D(bbox, out, opts...).Tile(ctx, stacks))
	}

	m.TransitionRules.Set(float64(rules.Len()))
	if rules.Len() > 0 {
		if err := writeRules(ctx, out, job.TransitionRules, rules); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("transition rules written", "key", job.TransitionRules, "rules", rules.Len())
		}
	}
	if *metricsFile != "" {
		if err := m.WriteToTextfile(*metricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func boundingBox(ctx context.Context, ws *layer.Workspace, job *config.Job, rules *transition.Manager) (*blktiler.BoundingBox, error) {
	ref, err := job.BoundingBox.Layer.Build(rules)
	if err != nil {
		return nil, fmt.Errorf("reference layer: %w", err)
	}
	var opts []blktiler.BoundingBoxOption
	switch {
	case job.BoundingBox.EPSG != 0:
		opts = append(opts, blktiler.WithEPSG(job.BoundingBox.EPSG))
	case job.BoundingBox.Projection != "":
		opts = append(opts, blktiler.WithProjection(job.BoundingBox.Projection))
	}
	if job.BoundingBox.PixelSize != 0 {
		opts = append(opts, blktiler.WithPixelSize(job.BoundingBox.PixelSize))
	}
	return blktiler.NewBoundingBox(ctx, ws, ref, opts...)
}

func writeRules(ctx context.Context, out store.Store, key string, rules *transition.Manager) error {
	var buf bytes.Buffer
	if err := rules.WriteRules(&buf); err != nil {
		return fmt.Errorf("write transition rules: %w", err)
	}
	if err := out.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("store transition rules: %w", err)
	}
	return nil
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
