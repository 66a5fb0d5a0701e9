// Package engine defines the raster/vector processing contract the tiling pipeline
// consumes. Implementations live in sub-packages: gdalengine wraps GDAL, memengine is a
// pure-Go in-memory engine.
package engine

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrInputNotFound is returned when a source path does not exist.
	ErrInputNotFound = errors.New("input not found")
	// ErrProjection is returned when a source CRS cannot be determined or a transform fails.
	ErrProjection = errors.New("projection failure")
	// ErrRasterization is returned when rasterizing or resampling fails in the engine.
	ErrRasterization = errors.New("rasterization failure")
)

// Extent is a rectangle in projected units.
type Extent struct {
	West, South, East, North float64
}

// Padded widens the extent outward to integer coordinates.
func (e Extent) Padded() Extent {
	return Extent{
		West:  math.Floor(e.West),
		South: math.Floor(e.South),
		East:  math.Ceil(e.East),
		North: math.Ceil(e.North),
	}
}

// Valid reports whether the extent is finite and non-empty.
func (e Extent) Valid() bool {
	for _, v := range [4]float64{e.West, e.South, e.East, e.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return e.East > e.West && e.North > e.South
}

// Union returns the smallest extent containing both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		West:  math.Min(e.West, o.West),
		South: math.Min(e.South, o.South),
		East:  math.Max(e.East, o.East),
		North: math.Max(e.North, o.North),
	}
}

// RasterInfo describes the first band of a raster dataset and its georeferencing.
type RasterInfo struct {
	Projection    string
	GeoTransform  [6]float64
	Width, Height int
	DataType      DataType
	NoData        float64
	HasNoData     bool
}

// PixelSize returns the absolute horizontal pixel size.
func (ri RasterInfo) PixelSize() float64 {
	return math.Abs(ri.GeoTransform[1])
}

// Origin returns the upper-left corner.
func (ri RasterInfo) Origin() (float64, float64) {
	return ri.GeoTransform[0], ri.GeoTransform[3]
}

// Extent returns the corner coordinates of a north-up raster.
func (ri RasterInfo) Extent() Extent {
	gt := ri.GeoTransform
	x0, x1 := gt[0], gt[0]+float64(ri.Width)*gt[1]
	y0, y1 := gt[3], gt[3]+float64(ri.Height)*gt[5]
	return Extent{
		West:  math.Min(x0, x1),
		East:  math.Max(x0, x1),
		South: math.Min(y0, y1),
		North: math.Max(y0, y1),
	}
}

// WarpOptions drives a reprojection/resampling. Zero values mean "keep the source's".
type WarpOptions struct {
	Projection          string
	PixelSize           float64
	Bounds              *Extent
	TargetAlignedPixels bool
	DataType            DataType
	SrcNoData           *float64
	DstNoData           *float64
}

// RasterizeOptions drives the burning of vector features into a new raster.
type RasterizeOptions struct {
	PixelSize float64
	// Bounds defaults to the extent of the features.
	Bounds   *Extent
	NoData   float64
	DataType DataType
}

// Feature is the attribute record of one vector feature, keyed by column name.
// Values are nil, int64, float64, string or bool.
type Feature map[string]any

// RasterReader reads windows of the first band of an open raster.
type RasterReader interface {
	Info() RasterInfo
	// ReadWindow reads a w×h window at pixel offset (x, y) as little-endian samples of the
	// raster's data type, row-major.
	ReadWindow(x, y, w, h int) ([]byte, error)
	Close() error
}

// Engine is the external raster/vector processing collaborator.
type Engine interface {
	Info(ctx context.Context, path string) (RasterInfo, error)
	// MinMax returns the range of valid (non-nodata) samples; ok is false for an empty raster.
	MinMax(ctx context.Context, path string) (min, max float64, ok bool, err error)
	Warp(ctx context.Context, src, dst string, opts WarpOptions) error
	Translate(ctx context.Context, src, dst string, dt DataType) error
	// ReprojectVector copies layer (all layers when empty) of src into dst, reprojected.
	ReprojectVector(ctx context.Context, src, dst, layer, projection string) error
	// ReadFeatures returns the attributes of every feature of the first layer of path,
	// in the order Rasterize burns them.
	ReadFeatures(ctx context.Context, path string) ([]Feature, error)
	// Rasterize burns burn[i] for the i-th feature of the first layer of src.
	Rasterize(ctx context.Context, src, dst string, burn []float64, opts RasterizeOptions) error
	OpenRaster(ctx context.Context, path string) (RasterReader, error)
}
