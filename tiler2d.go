package blktiler

import (
	"context"
	"fmt"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/sidecar"
	"github.com/airbusgeo/blktiler/store"
)

// Tiler2D tiles single layers: one sample per pixel.
type Tiler2D struct {
	bbox *BoundingBox
	out  store.Store
	cfg  tilerConfig
}

func NewTiler2D(bbox *BoundingBox, out store.Store, opts ...TilerOption) *Tiler2D {
	return &Tiler2D{bbox: bbox, out: out, cfg: newTilerConfig(opts)}
}

// Tile normalizes and tiles every layer into <name>/ of the output store. Layers are
// independent: the returned error joins a *LayerError per failed layer.
func (t *Tiler2D) Tile(ctx context.Context, layers []layer.Layer) error {
	seen := map[string]bool{}
	jobs := make([]job, 0, len(layers))
	for _, l := range layers {
		if seen[l.Name()] {
			return fmt.Errorf("duplicate layer name %q", l.Name())
		}
		seen[l.Name()] = true
		l := l
		jobs = append(jobs, job{
			name: l.Name(),
			run:  func(ctx context.Context) error { return t.tileLayer(ctx, l) },
		})
	}
	return runJobs(ctx, t.cfg, jobs)
}

func (t *Tiler2D) tileLayer(ctx context.Context, l layer.Layer) error {
	var requested float64
	if t.cfg.useBBoxRes {
		requested = t.bbox.Frame().PixelSize
	}
	snap, err := t.bbox.Normalize(ctx, l, t.cfg.blockExtent, requested, engine.Unknown)
	if err != nil {
		return err
	}
	tiles, origin, err := tilesOf(snap, t.cfg)
	if err != nil {
		return err
	}
	ps := snap.PixelSize()
	md := &sidecar.Metadata{
		LayerType:    sidecar.GridLayer,
		LayerData:    snap.DataType(),
		NoData:       snap.NoData(),
		TileLatSize:  t.cfg.tileExtent,
		TileLonSize:  t.cfg.tileExtent,
		BlockLatSize: t.cfg.blockExtent,
		BlockLonSize: t.cfg.blockExtent,
		CellLatSize:  ps,
		CellLonSize:  ps,
		Attributes:   sidecar.Attributes(snap.Attributes(), snap.AttributeTable()),
	}
	if err := writeSidecar(ctx, t.out, l.Name(), md); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	rd, err := t.bbox.ws.Engine.OpenRaster(ctx, snap.Path())
	if err != nil {
		return fmt.Errorf("open %s: %w", snap.Path(), err)
	}
	defer rd.Close()
	return writeTiles(ctx, t.cfg, t.out, l.Name(), tiles, ps, snap.DataType(), []channel{{rd: rd, origin: origin}})
}
