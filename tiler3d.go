package blktiler

import (
	"context"
	"fmt"
	"math"

	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/sidecar"
	"github.com/airbusgeo/blktiler/store"
)

// Tiler3D tiles layer stacks: every pixel of a block holds one sample per stack member,
// in member order.
type Tiler3D struct {
	bbox *BoundingBox
	out  store.Store
	cfg  tilerConfig
}

func NewTiler3D(bbox *BoundingBox, out store.Store, opts ...TilerOption) *Tiler3D {
	return &Tiler3D{bbox: bbox, out: out, cfg: newTilerConfig(opts)}
}

// Tile normalizes and tiles every stack into <name>/ of the output store. The returned
// error joins a *LayerError per failed stack.
func (t *Tiler3D) Tile(ctx context.Context, stacks []layer.Stack) error {
	seen := map[string]bool{}
	jobs := make([]job, 0, len(stacks))
	for _, st := range stacks {
		if seen[st.Name] {
			return fmt.Errorf("duplicate stack name %q", st.Name)
		}
		seen[st.Name] = true
		st := st
		jobs = append(jobs, job{
			name: st.Name,
			run:  func(ctx context.Context) error { return t.tileStack(ctx, st) },
		})
	}
	return runJobs(ctx, t.cfg, jobs)
}

func (t *Tiler3D) tileStack(ctx context.Context, st layer.Stack) error {
	if len(st.Layers) == 0 {
		return fmt.Errorf("stack %s has no layers", st.Name)
	}
	snaps := make([]*layer.RasterLayer, len(st.Layers))
	for i, l := range st.Layers {
		snap, err := t.bbox.Normalize(ctx, l, t.cfg.blockExtent, st.RequestedPixelSize, st.DataType)
		if err != nil {
			return err
		}
		snaps[i] = snap
	}
	first := snaps[0]
	ps, dt := first.PixelSize(), first.DataType()
	for _, s := range snaps[1:] {
		if s.DataType() != dt {
			return fmt.Errorf("stack %s: %s is %s, %s is %s", st.Name, s.Name(), s.DataType(), first.Name(), dt)
		}
		if math.Abs(s.PixelSize()-ps) > 1e-9*ps {
			return fmt.Errorf("stack %s: %s has pixel size %g, %s has %g", st.Name, s.Name(), s.PixelSize(), first.Name(), ps)
		}
	}
	tiles, _, err := tilesOf(first, t.cfg)
	if err != nil {
		return err
	}

	nLayers := st.Years
	if nLayers == 0 {
		nLayers = len(snaps)
	}
	md := &sidecar.Metadata{
		LayerType:     sidecar.StackLayer,
		LayerData:     dt,
		NLayers:       nLayers,
		NStepsPerYear: st.StepsPerYear,
		NoData:        first.NoData(),
		TileLatSize:   t.cfg.tileExtent,
		TileLonSize:   t.cfg.tileExtent,
		BlockLatSize:  t.cfg.blockExtent,
		BlockLonSize:  t.cfg.blockExtent,
		CellLatSize:   ps,
		CellLonSize:   ps,
		Attributes:    sidecar.Attributes(first.Attributes(), first.AttributeTable()),
	}
	if err := writeSidecar(ctx, t.out, st.Name, md); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	eng := t.bbox.ws.Engine
	chans := make([]channel, 0, len(snaps))
	defer func() {
		for _, c := range chans {
			c.rd.Close()
		}
	}()
	for _, s := range snaps {
		rd, err := eng.OpenRaster(ctx, s.Path())
		if err != nil {
			return fmt.Errorf("open %s: %w", s.Path(), err)
		}
		x, y := rd.Info().Origin()
		chans = append(chans, channel{rd: rd, origin: [2]float64{x, y}})
	}
	return writeTiles(ctx, t.cfg, t.out, st.Name, tiles, ps, dt, chans)
}
