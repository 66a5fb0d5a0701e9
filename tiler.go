package blktiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/grid"
	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/sidecar"
	"github.com/airbusgeo/blktiler/store"
)

type tilerConfig struct {
	tileExtent  float64
	blockExtent float64
	useBBoxRes  bool
	workers     int
	tileWorkers int
	logger      *slog.Logger
	recorder    Recorder
}

type TilerOption func(*tilerConfig)

// WithTileExtent sets the tile size in frame units (default 1).
func WithTileExtent(extent float64) TilerOption {
	return func(c *tilerConfig) { c.tileExtent = extent }
}

// WithBlockExtent sets the block size in frame units (default 0.1).
func WithBlockExtent(extent float64) TilerOption {
	return func(c *tilerConfig) { c.blockExtent = extent }
}

// WithBoundingBoxResolution resamples 2D layers to the frame pixel size instead of their
// native resolution.
func WithBoundingBoxResolution() TilerOption {
	return func(c *tilerConfig) { c.useBBoxRes = true }
}

// WithWorkers sets how many layers are processed concurrently (default GOMAXPROCS).
func WithWorkers(n int) TilerOption {
	return func(c *tilerConfig) { c.workers = n }
}

// WithTileWorkers sets how many tiles of one layer are assembled concurrently (default 4).
func WithTileWorkers(n int) TilerOption {
	return func(c *tilerConfig) { c.tileWorkers = n }
}

func WithLogger(l *slog.Logger) TilerOption {
	return func(c *tilerConfig) { c.logger = l }
}

func WithRecorder(r Recorder) TilerOption {
	return func(c *tilerConfig) { c.recorder = r }
}

func newTilerConfig(opts []TilerOption) tilerConfig {
	cfg := tilerConfig{
		tileExtent:  grid.DefaultTileExtent,
		blockExtent: grid.DefaultBlockExtent,
		workers:     runtime.GOMAXPROCS(0),
		tileWorkers: 4,
		logger:      slog.Default(),
		recorder:    nopRecorder{},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.tileWorkers < 1 {
		cfg.tileWorkers = 1
	}
	return cfg
}

// job is one unit of the layer pool: a layer or a stack.
type job struct {
	name string
	run  func(ctx context.Context) error
}

// runJobs processes jobs on cfg.workers goroutines. A failing job does not stop the
// others; every failure is logged and returned as a *LayerError inside a joined error.
func runJobs(ctx context.Context, cfg tilerConfig, jobs []job) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	jobc := make(chan job)
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobc {
				start := time.Now()
				cfg.logger.InfoContext(ctx, "processing layer", "layer", j.name)
				err := j.run(ctx)
				elapsed := time.Since(start)
				if err != nil {
					kind := FailureKind(err)
					cfg.logger.ErrorContext(ctx, "layer failed", "layer", j.name, "kind", kind, "error", err)
					cfg.recorder.LayerDone(kind, elapsed)
					mu.Lock()
					errs = append(errs, &LayerError{Layer: j.name, Err: err})
					mu.Unlock()
					continue
				}
				cfg.logger.InfoContext(ctx, "layer done", "layer", j.name, "elapsed", elapsed)
				cfg.recorder.LayerDone("ok", elapsed)
			}
		}()
	}
	for _, j := range jobs {
		jobc <- j
	}
	close(jobc)
	wg.Wait()
	return errors.Join(errs...)
}

// channel is one co-registered raster contributing samples to a tile.
type channel struct {
	rd     engine.RasterReader
	origin [2]float64
}

// writeTiles assembles every tile in block order and stores it under name/. channels are
// interleaved per pixel.
func writeTiles(ctx context.Context, cfg tilerConfig, out store.Store, name string, tiles []grid.Tile, ps float64, dt engine.DataType, chans []channel) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.tileWorkers)
	for _, t := range tiles {
		t := t
		g.Go(func() error {
			data, err := assembleTile(t, ps, cfg, dt, chans)
			if err != nil {
				return fmt.Errorf("tile %s: %w", t.Name(), err)
			}
			key := path.Join(name, sidecar.BlockFileName(name, t.Name()))
			if err := out.Put(gctx, key, data); err != nil {
				return err
			}
			cfg.logger.DebugContext(gctx, "tile written", "layer", name, "tile", t.Name(), "bytes", len(data))
			cfg.recorder.TileWritten(len(data))
			return nil
		})
	}
	return g.Wait()
}

func assembleTile(t grid.Tile, ps float64, cfg tilerConfig, dt engine.DataType, chans []channel) ([]byte, error) {
	sz := dt.Size()
	bs := t.BlockSize()
	// the same blocks, addressed in each channel's own raster
	blocks := make([][]grid.Block, len(chans))
	for i, c := range chans {
		blocks[i] = grid.NewTile(t.X, t.Y, c.origin, ps, cfg.tileExtent, cfg.blockExtent).Blocks()
	}
	nb := len(blocks[0])
	buf := bytes.NewBuffer(make([]byte, 0, nb*bs*bs*sz*len(chans)))
	windows := make([][]byte, len(chans))
	for n := 0; n < nb; n++ {
		for i, c := range chans {
			b := blocks[i][n]
			w, err := c.rd.ReadWindow(b.XOffset(), b.YOffset(), bs, bs)
			if err != nil {
				return nil, fmt.Errorf("read block %d,%d: %w", b.X, b.Y, err)
			}
			windows[i] = w
		}
		if len(chans) == 1 {
			buf.Write(windows[0])
			continue
		}
		for p := 0; p < bs*bs; p++ {
			for _, w := range windows {
				buf.Write(w[p*sz : (p+1)*sz])
			}
		}
	}
	return buf.Bytes(), nil
}

func writeSidecar(ctx context.Context, out store.Store, name string, m *sidecar.Metadata) error {
	var buf bytes.Buffer
	if err := sidecar.Encode(&buf, m); err != nil {
		return err
	}
	return out.Put(ctx, path.Join(name, sidecar.FileName(name)), buf.Bytes())
}

func tilesOf(l *layer.RasterLayer, cfg tilerConfig) ([]grid.Tile, [2]float64, error) {
	info, ok := l.Info()
	if !ok {
		return nil, [2]float64{}, fmt.Errorf("layer %s is not normalized", l.Name())
	}
	ext := info.Extent()
	x, y := info.Origin()
	origin := [2]float64{x, y}
	tiles, err := grid.Tiles([4]float64{ext.West, ext.South, ext.East, ext.North}, origin, info.PixelSize(), cfg.tileExtent, cfg.blockExtent)
	if err != nil {
		return nil, origin, fmt.Errorf("tiles of %s: %w", l.Name(), err)
	}
	return tiles, origin, nil
}
