package layer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/grid"
)

// FeatureLayer is a layer backed by vector features: *VectorLayer or *GeodatabaseLayer.
type FeatureLayer interface {
	Layer
	features() *featureSource
}

// featureSource is the part shared by vector and geodatabase layers.
type featureSource struct {
	name     string
	path     string
	layer    string
	attrs    []Attribute
	raw      bool
	nodata   float64
	dataType engine.DataType
}

// VectorOption configures a VectorLayer or GeodatabaseLayer.
type VectorOption func(*featureSource)

// Raw burns the single attribute's source values directly instead of deduplicated codes.
func Raw() VectorOption {
	return func(f *featureSource) { f.raw = true }
}

// VectorNoData sets the code burned for features with an invalid tuple, and the output
// nodata value (default -1).
func VectorNoData(v float64) VectorOption {
	return func(f *featureSource) { f.nodata = v }
}

// VectorDataType pins the output data type.
func VectorDataType(dt engine.DataType) VectorOption {
	return func(f *featureSource) { f.dataType = dt }
}

// VectorLayer rasterizes a vector dataset (shapefile, GeoPackage...) over one or more
// attributes.
type VectorLayer struct {
	src featureSource
}

func NewVectorLayer(name, path string, attrs []Attribute, opts ...VectorOption) (*VectorLayer, error) {
	src, err := newFeatureSource(name, path, "", attrs, opts)
	if err != nil {
		return nil, err
	}
	return &VectorLayer{src: src}, nil
}

func (v *VectorLayer) Name() string                   { return v.src.name }
func (v *VectorLayer) Path() string                   { return v.src.path }
func (v *VectorLayer) Attributes() []string           { return v.src.outputNames() }
func (v *VectorLayer) AttributeTable() AttributeTable { return nil }
func (v *VectorLayer) features() *featureSource       { return &v.src }

func (v *VectorLayer) NormalizeTo(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error) {
	return v.src.normalize(ctx, ws, t)
}

// GeodatabaseLayer rasterizes one named layer of a multi-layer source such as a file
// geodatabase.
type GeodatabaseLayer struct {
	src featureSource
}

func NewGeodatabaseLayer(name, path, layerName string, attrs []Attribute, opts ...VectorOption) (*GeodatabaseLayer, error) {
	if layerName == "" {
		return nil, fmt.Errorf("geodatabase layer %s: source layer name required", name)
	}
	src, err := newFeatureSource(name, path, layerName, attrs, opts)
	if err != nil {
		return nil, err
	}
	return &GeodatabaseLayer{src: src}, nil
}

func (g *GeodatabaseLayer) Name() string                   { return g.src.name }
func (g *GeodatabaseLayer) Path() string                   { return g.src.path }
func (g *GeodatabaseLayer) SourceLayer() string            { return g.src.layer }
func (g *GeodatabaseLayer) Attributes() []string           { return g.src.outputNames() }
func (g *GeodatabaseLayer) AttributeTable() AttributeTable { return nil }
func (g *GeodatabaseLayer) features() *featureSource       { return &g.src }

func (g *GeodatabaseLayer) NormalizeTo(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error) {
	return g.src.normalize(ctx, ws, t)
}

func newFeatureSource(name, path, layerName string, attrs []Attribute, opts []VectorOption) (featureSource, error) {
	f := featureSource{
		name:   name,
		path:   path,
		layer:  layerName,
		attrs:  append([]Attribute(nil), attrs...),
		nodata: DefaultNoData,
	}
	for _, o := range opts {
		o(&f)
	}
	if name == "" {
		return f, fmt.Errorf("layer name required")
	}
	if len(f.attrs) == 0 {
		return f, fmt.Errorf("layer %s: at least one attribute required", name)
	}
	if f.raw && len(f.attrs) != 1 {
		return f, fmt.Errorf("layer %s: raw layers burn exactly one attribute, got %d", name, len(f.attrs))
	}
	return f, nil
}

func (f *featureSource) outputNames() []string {
	names := make([]string, len(f.attrs))
	for i, a := range f.attrs {
		names[i] = a.OutputName()
	}
	return names
}

// burnValues computes the value burned for each feature and, unless raw, the dedup table.
func (f *featureSource) burnValues(features []engine.Feature) ([]float64, AttributeTable, bool, error) {
	burn := make([]float64, len(features))
	if f.raw {
		col := f.attrs[0].Name
		floating := false
		for i, feat := range features {
			v, ok := f.attrs[0].apply(Canonical(feat[col]))
			if !ok {
				burn[i] = f.nodata
				continue
			}
			n, isNum := number(v)
			if !isNum {
				return nil, nil, false, fmt.Errorf("raw attribute %s: non numeric value %v", col, v)
			}
			if n != math.Trunc(n) {
				floating = true
			}
			burn[i] = n
		}
		return burn, nil, floating, nil
	}

	dedup := NewDedupTable()
	tuple := make(Tuple, len(f.attrs))
	for i, feat := range features {
		valid := true
		for j, a := range f.attrs {
			v, ok := a.apply(Canonical(feat[a.Name]))
			if !ok {
				valid = false
				break
			}
			tuple[j] = v
		}
		if !valid {
			burn[i] = f.nodata
			continue
		}
		burn[i] = float64(dedup.Intern(tuple))
	}
	return burn, dedup.Table(), false, nil
}

// normalize reprojects the features, assigns each its pixel code, rasterizes the codes and
// casts the result to its output type.
func (f *featureSource) normalize(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error) {
	dir, err := ws.tempDir(f.name)
	if err != nil {
		return nil, err
	}
	eng := ws.Engine

	reprojected := filepath.Join(dir, f.name+".gpkg")
	if err := eng.ReprojectVector(ctx, f.path, reprojected, f.layer, t.Projection); err != nil {
		return nil, fmt.Errorf("reproject %s: %w", f.name, err)
	}
	features, err := eng.ReadFeatures(ctx, reprojected)
	if err != nil {
		return nil, fmt.Errorf("read features of %s: %w", f.name, err)
	}
	burn, table, floating, err := f.burnValues(features)
	if err != nil {
		return nil, err
	}

	size := grid.ReconcilePixelSize(t.MinPixelSize, t.RequestedPixelSize, t.BlockExtent)
	rasterized := filepath.Join(dir, f.name+".tmp.tif")
	if err := eng.Rasterize(ctx, reprojected, rasterized, burn, engine.RasterizeOptions{
		PixelSize: size,
		Bounds:    t.Bounds,
		NoData:    f.nodata,
		DataType:  engine.Float64,
	}); err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", f.name, err)
	}

	var min, max float64
	var ok bool
	if t.DataType == engine.Unknown && f.dataType == engine.Unknown && !floating {
		if min, max, ok, err = eng.MinMax(ctx, rasterized); err != nil {
			return nil, fmt.Errorf("compute range of %s: %w", f.name, err)
		}
	}
	dt := outputType(t.DataType, f.dataType, floating, min, max, ok)
	nodata := noDataFor(f.nodata, dt)

	out := filepath.Join(dir, f.name+".tif")
	if nodata == f.nodata && dt.Represents(nodata) {
		err = eng.Translate(ctx, rasterized, out, dt)
	} else {
		// remap nodata pixels the output type cannot hold
		err = eng.Warp(ctx, rasterized, out, engine.WarpOptions{
			DataType:  dt,
			SrcNoData: &f.nodata,
			DstNoData: &nodata,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("cast %s to %s: %w", f.name, dt, err)
	}

	r := &RasterLayer{
		name:   f.name,
		path:   out,
		attrs:  f.outputNames(),
		table:  table,
		nodata: nodata,
	}
	return r.Snapshot(ctx, eng, out)
}
