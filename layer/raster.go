package layer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/grid"
)

// RasterLayer wraps a raster dataset. Normalized snapshots additionally carry the
// georeferencing read back from the engine.
type RasterLayer struct {
	name     string
	path     string
	attrs    []string
	table    AttributeTable
	nodata   float64
	dataType engine.DataType
	info     *engine.RasterInfo
}

type RasterOption func(*RasterLayer)

// WithName overrides the default name (the file name without extension).
func WithName(name string) RasterOption {
	return func(r *RasterLayer) { r.name = name }
}

// WithAttributeTable attaches a pixel code dictionary and its column names.
func WithAttributeTable(attributes []string, table AttributeTable) RasterOption {
	return func(r *RasterLayer) {
		r.attrs = append([]string(nil), attributes...)
		r.table = table.clone()
	}
}

// WithNoData sets the output nodata value (default -1, replaced by the type maximum for
// unsigned output types).
func WithNoData(v float64) RasterOption {
	return func(r *RasterLayer) { r.nodata = v }
}

// WithDataType pins the output data type.
func WithDataType(dt engine.DataType) RasterOption {
	return func(r *RasterLayer) { r.dataType = dt }
}

func NewRasterLayer(path string, opts ...RasterOption) *RasterLayer {
	r := &RasterLayer{
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:   path,
		nodata: DefaultNoData,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RasterLayer) Name() string                   { return r.name }
func (r *RasterLayer) Path() string                   { return r.path }
func (r *RasterLayer) Attributes() []string           { return append([]string(nil), r.attrs...) }
func (r *RasterLayer) AttributeTable() AttributeTable { return r.table.clone() }
func (r *RasterLayer) NoData() float64                { return r.nodata }

// DataType is the pinned or, on snapshots, the materialized data type.
func (r *RasterLayer) DataType() engine.DataType {
	if r.info != nil {
		return r.info.DataType
	}
	return r.dataType
}

// PixelSize is the materialized pixel size; 0 before normalization.
func (r *RasterLayer) PixelSize() float64 {
	if r.info == nil {
		return 0
	}
	return r.info.PixelSize()
}

// Info returns the georeferencing of a snapshot; ok is false before normalization.
func (r *RasterLayer) Info() (engine.RasterInfo, bool) {
	if r.info == nil {
		return engine.RasterInfo{}, false
	}
	return *r.info, true
}

// Extent is the materialized extent of a snapshot.
func (r *RasterLayer) Extent() engine.Extent {
	if r.info == nil {
		return engine.Extent{}
	}
	return r.info.Extent()
}

// Snapshot returns a copy of r materialized at path, with georeferencing read from the
// engine. r itself is left untouched.
func (r *RasterLayer) Snapshot(ctx context.Context, eng engine.Engine, path string) (*RasterLayer, error) {
	info, err := eng.Info(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("info %s: %w", path, err)
	}
	s := *r
	s.path = path
	s.attrs = append([]string(nil), r.attrs...)
	s.table = r.table.clone()
	s.dataType = info.DataType
	s.info = &info
	if info.HasNoData {
		s.nodata = info.NoData
	}
	return &s, nil
}

// NormalizeTo reprojects the raster into t.Projection within t.Bounds, settles its data
// type and nodata value, then resamples it to the reconciled pixel size.
func (r *RasterLayer) NormalizeTo(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error) {
	dir, err := ws.tempDir(r.name)
	if err != nil {
		return nil, err
	}
	eng := ws.Engine
	src, err := eng.Info(ctx, r.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}

	warped := filepath.Join(dir, "warp_"+r.name+".tif")
	if err := eng.Warp(ctx, r.path, warped, engine.WarpOptions{
		Projection: t.Projection,
		PixelSize:  t.RequestedPixelSize,
		Bounds:     t.Bounds,
	}); err != nil {
		return nil, fmt.Errorf("reproject %s: %w", r.name, err)
	}

	var min, max float64
	var ok bool
	floating := src.DataType.IsFloat()
	if t.DataType == engine.Unknown && r.dataType == engine.Unknown && !floating {
		if min, max, ok, err = eng.MinMax(ctx, warped); err != nil {
			return nil, fmt.Errorf("compute range of %s: %w", r.name, err)
		}
	}
	dt := outputType(t.DataType, r.dataType, floating, min, max, ok)
	nodata := noDataFor(r.nodata, dt)

	native := t.RequestedPixelSize
	if native == 0 {
		winfo, err := eng.Info(ctx, warped)
		if err != nil {
			return nil, fmt.Errorf("info %s: %w", warped, err)
		}
		native = winfo.PixelSize()
	}
	size := grid.ReconcilePixelSize(t.MinPixelSize, native, t.BlockExtent)

	out := filepath.Join(dir, r.name+".tif")
	opts := engine.WarpOptions{
		PixelSize: size,
		DataType:  dt,
		DstNoData: &nodata,
	}
	if src.HasNoData {
		opts.SrcNoData = &src.NoData
	}
	if err := eng.Warp(ctx, warped, out, opts); err != nil {
		return nil, fmt.Errorf("resample %s: %w", r.name, err)
	}

	base := *r
	base.nodata = nodata
	return base.Snapshot(ctx, eng, out)
}
