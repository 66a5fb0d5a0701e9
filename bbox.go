package blktiler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/grid"
	"github.com/airbusgeo/blktiler/layer"
)

// Frame is the reference frame every layer is normalized into.
type Frame struct {
	Projection string
	PixelSize  float64
	// Extent is padded to integer coordinates.
	Extent engine.Extent
}

const DefaultPixelSize = 0.00025

type bboxConfig struct {
	projection  string
	pixelSize   float64
	blockExtent float64
}

type BoundingBoxOption func(*bboxConfig)

// WithEPSG sets the target projection from an EPSG code (default 4326).
func WithEPSG(code int) BoundingBoxOption {
	return func(c *bboxConfig) { c.projection = fmt.Sprintf("EPSG:%d", code) }
}

// WithProjection sets the target projection as any definition the engine accepts.
func WithProjection(projection string) BoundingBoxOption {
	return func(c *bboxConfig) { c.projection = projection }
}

// WithPixelSize sets the frame pixel size (default 0.00025).
func WithPixelSize(ps float64) BoundingBoxOption {
	return func(c *bboxConfig) { c.pixelSize = ps }
}

// WithReferenceBlockExtent sets the block extent the reference layer is normalized with
// (default 0.1).
func WithReferenceBlockExtent(extent float64) BoundingBoxOption {
	return func(c *bboxConfig) { c.blockExtent = extent }
}

// BoundingBox holds the reference frame and normalizes layers into it. It is safe for
// concurrent use.
type BoundingBox struct {
	ws    *layer.Workspace
	frame Frame
}

// NewBoundingBox establishes the frame from the reference layer reprojected into the
// target projection. It fails with engine.ErrProjection when the result has no usable
// extent.
func NewBoundingBox(ctx context.Context, ws *layer.Workspace, reference layer.Layer, opts ...BoundingBoxOption) (*BoundingBox, error) {
	cfg := bboxConfig{
		projection:  "EPSG:4326",
		pixelSize:   DefaultPixelSize,
		blockExtent: grid.DefaultBlockExtent,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.projection == "" {
		return nil, fmt.Errorf("bounding box: empty projection: %w", engine.ErrProjection)
	}
	if cfg.pixelSize <= 0 {
		return nil, fmt.Errorf("bounding box: invalid pixel size %g", cfg.pixelSize)
	}
	ref, err := reference.NormalizeTo(ctx, ws, layer.Target{
		Projection:   cfg.projection,
		MinPixelSize: cfg.pixelSize,
		BlockExtent:  cfg.blockExtent,
	})
	if err != nil {
		return nil, fmt.Errorf("bounding box from %s: %w", reference.Name(), err)
	}
	ext := ref.Extent()
	if !ext.Valid() {
		return nil, fmt.Errorf("bounding box from %s: degenerate extent %+v: %w", reference.Name(), ext, engine.ErrProjection)
	}
	return &BoundingBox{
		ws: ws,
		frame: Frame{
			Projection: cfg.projection,
			PixelSize:  cfg.pixelSize,
			Extent:     ext.Padded(),
		},
	}, nil
}

func (b *BoundingBox) Frame() Frame {
	return b.frame
}

// Normalize brings l into the frame: it normalizes l within the frame's extent at the
// reconciled pixel size, snaps it onto the pixel grid, then pads its bounds outward to
// integer coordinates. requestedPixelSize 0 keeps the layer's own resolution and
// engine.Unknown infers the data type.
func (b *BoundingBox) Normalize(ctx context.Context, l layer.Layer, blockExtent, requestedPixelSize float64, dt engine.DataType) (*layer.RasterLayer, error) {
	bounds := b.frame.Extent
	snap, err := l.NormalizeTo(ctx, b.ws, layer.Target{
		Projection:         b.frame.Projection,
		MinPixelSize:       b.frame.PixelSize,
		BlockExtent:        blockExtent,
		RequestedPixelSize: requestedPixelSize,
		DataType:           dt,
		Bounds:             &bounds,
	})
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", l.Name(), err)
	}

	dir, err := b.ws.Scope.TempDir("frame_" + l.Name())
	if err != nil {
		return nil, err
	}
	eng := b.ws.Engine
	ps := snap.PixelSize()

	aligned := filepath.Join(dir, l.Name()+"_tmp.tif")
	if err := eng.Warp(ctx, snap.Path(), aligned, engine.WarpOptions{
		Projection:          b.frame.Projection,
		PixelSize:           ps,
		Bounds:              &bounds,
		TargetAlignedPixels: true,
	}); err != nil {
		return nil, fmt.Errorf("align %s: %w", l.Name(), err)
	}
	info, err := eng.Info(ctx, aligned)
	if err != nil {
		return nil, fmt.Errorf("info %s: %w", aligned, err)
	}
	padded := info.Extent().Padded()
	out := filepath.Join(dir, l.Name()+".tif")
	if err := eng.Warp(ctx, aligned, out, engine.WarpOptions{
		PixelSize: ps,
		Bounds:    &padded,
	}); err != nil {
		return nil, fmt.Errorf("pad %s: %w", l.Name(), err)
	}
	return snap.Snapshot(ctx, eng, out)
}
