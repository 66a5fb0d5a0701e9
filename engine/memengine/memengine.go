// Package memengine is an in-memory engine.Engine. Rasters are float64 grids, vector
// features are axis-aligned rectangles, resampling is nearest neighbour and the only
// supported reprojection is the identity. It backs tests and dry runs.
package memengine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/airbusgeo/blktiler/engine"
	"gonum.org/v1/gonum/floats"
)

const tolerance = 1e-9

// Raster is a single band north-up raster. Data is row-major, Width*Height samples.
type Raster struct {
	Projection   string
	GeoTransform [6]float64
	Width        int
	Height       int
	DataType     engine.DataType
	NoData       float64
	HasNoData    bool
	Data         []float64
}

// NewRaster returns a raster covering ext at pixel size ps, filled with fill.
func NewRaster(projection string, ext engine.Extent, ps float64, dt engine.DataType, fill float64) *Raster {
	w := int(math.Round((ext.East - ext.West) / ps))
	h := int(math.Round((ext.North - ext.South) / ps))
	r := &Raster{
		Projection:   projection,
		GeoTransform: [6]float64{ext.West, ps, 0, ext.North, 0, -ps},
		Width:        w,
		Height:       h,
		DataType:     dt,
		Data:         make([]float64, w*h),
	}
	for i := range r.Data {
		r.Data[i] = fill
	}
	return r
}

// Set stores v at pixel (x, y), cast to the raster's type.
func (r *Raster) Set(x, y int, v float64) {
	r.Data[y*r.Width+x] = cast(r.DataType, v)
}

// At returns the sample at pixel (x, y).
func (r *Raster) At(x, y int) float64 {
	return r.Data[y*r.Width+x]
}

func (r *Raster) info() engine.RasterInfo {
	return engine.RasterInfo{
		Projection:   r.Projection,
		GeoTransform: r.GeoTransform,
		Width:        r.Width,
		Height:       r.Height,
		DataType:     r.DataType,
		NoData:       r.NoData,
		HasNoData:    r.HasNoData,
	}
}

// sample returns the value covering the point (x, y), ok is false outside the raster.
func (r *Raster) sample(x, y float64) (float64, bool) {
	gt := r.GeoTransform
	col := int(math.Floor((x-gt[0])/gt[1] + tolerance))
	row := int(math.Floor((y-gt[3])/gt[5] + tolerance))
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return 0, false
	}
	return r.At(col, row), true
}

// Rect is a vector feature: an axis-aligned rectangle and its attributes.
type Rect struct {
	Bounds     engine.Extent
	Attributes engine.Feature
}

// Vector is a feature dataset holding named layers.
type Vector struct {
	Projection string
	Layers     map[string][]Rect
}

// Engine holds datasets by path. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	rasters map[string]*Raster
	vectors map[string]*Vector
}

func New() *Engine {
	return &Engine{
		rasters: make(map[string]*Raster),
		vectors: make(map[string]*Vector),
	}
}

// PutRaster stores r at path, replacing any dataset there.
func (e *Engine) PutRaster(path string, r *Raster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rasters[path] = r
}

// PutVector stores v at path, replacing any dataset there.
func (e *Engine) PutVector(path string, v *Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[path] = v
}

// Raster returns the raster stored at path.
func (e *Engine) Raster(path string) (*Raster, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rasters[path]
	return r, ok
}

func (e *Engine) raster(path string) (*Raster, error) {
	r, ok := e.Raster(path)
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, engine.ErrInputNotFound)
	}
	return r, nil
}

func (e *Engine) vector(path string) (*Vector, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vectors[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, engine.ErrInputNotFound)
	}
	return v, nil
}

func (e *Engine) Info(ctx context.Context, path string) (engine.RasterInfo, error) {
	r, err := e.raster(path)
	if err != nil {
		return engine.RasterInfo{}, err
	}
	return r.info(), nil
}

func (e *Engine) MinMax(ctx context.Context, path string) (float64, float64, bool, error) {
	r, err := e.raster(path)
	if err != nil {
		return 0, 0, false, err
	}
	valid := make([]float64, 0, len(r.Data))
	for _, v := range r.Data {
		if r.HasNoData && v == r.NoData {
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) == 0 {
		return 0, 0, false, nil
	}
	return floats.Min(valid), floats.Max(valid), true, nil
}

func (e *Engine) Warp(ctx context.Context, src, dst string, opts engine.WarpOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := e.raster(src)
	if err != nil {
		return err
	}
	projection := in.Projection
	if opts.Projection != "" {
		if in.Projection == "" {
			return fmt.Errorf("warp %s: source has no projection: %w", src, engine.ErrProjection)
		}
		if opts.Projection != in.Projection {
			return fmt.Errorf("warp %s from %q to %q: %w", src, in.Projection, opts.Projection, engine.ErrProjection)
		}
		projection = opts.Projection
	}
	ps := opts.PixelSize
	if ps == 0 {
		ps = in.info().PixelSize()
	}
	ext := in.info().Extent()
	if opts.Bounds != nil {
		ext = *opts.Bounds
	}
	if opts.TargetAlignedPixels {
		ext = aligned(ext, ps)
	}
	if !ext.Valid() {
		return fmt.Errorf("warp %s: empty output extent: %w", src, engine.ErrRasterization)
	}
	dt := opts.DataType
	if dt == engine.Unknown {
		dt = in.DataType
	}
	srcNoData, hasSrcNoData := in.NoData, in.HasNoData
	if opts.SrcNoData != nil {
		srcNoData, hasSrcNoData = *opts.SrcNoData, true
	}
	dstNoData, hasDstNoData := srcNoData, hasSrcNoData
	if opts.DstNoData != nil {
		dstNoData, hasDstNoData = *opts.DstNoData, true
	}
	fill := 0.0
	if hasDstNoData {
		fill = cast(dt, dstNoData)
	}

	out := NewRaster(projection, ext, ps, dt, fill)
	out.NoData, out.HasNoData = fill, hasDstNoData
	for y := 0; y < out.Height; y++ {
		cy := ext.North - (float64(y)+0.5)*ps
		for x := 0; x < out.Width; x++ {
			cx := ext.West + (float64(x)+0.5)*ps
			v, ok := in.sample(cx, cy)
			if !ok || (hasSrcNoData && v == srcNoData) {
				continue
			}
			out.Set(x, y, v)
		}
	}
	e.PutRaster(dst, out)
	return nil
}

func (e *Engine) Translate(ctx context.Context, src, dst string, dt engine.DataType) error {
	in, err := e.raster(src)
	if err != nil {
		return err
	}
	out := *in
	out.DataType = dt
	out.Data = make([]float64, len(in.Data))
	for i, v := range in.Data {
		out.Data[i] = cast(dt, v)
	}
	if out.HasNoData {
		out.NoData = cast(dt, in.NoData)
	}
	e.PutRaster(dst, &out)
	return nil
}

func (e *Engine) ReprojectVector(ctx context.Context, src, dst, layer, projection string) error {
	in, err := e.vector(src)
	if err != nil {
		return err
	}
	if projection != "" && projection != in.Projection {
		return fmt.Errorf("reproject %s from %q to %q: %w", src, in.Projection, projection, engine.ErrProjection)
	}
	out := &Vector{Projection: in.Projection, Layers: make(map[string][]Rect)}
	if layer == "" {
		for n, l := range in.Layers {
			out.Layers[n] = append([]Rect(nil), l...)
		}
	} else {
		l, ok := in.Layers[layer]
		if !ok {
			return fmt.Errorf("layer %q of %s: %w", layer, src, engine.ErrInputNotFound)
		}
		out.Layers[layer] = append([]Rect(nil), l...)
	}
	e.PutVector(dst, out)
	return nil
}

// firstLayer returns the layer sorting first by name.
func (v *Vector) firstLayer() []Rect {
	names := make([]string, 0, len(v.Layers))
	for n := range v.Layers {
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return v.Layers[names[0]]
}

func (e *Engine) ReadFeatures(ctx context.Context, path string) ([]engine.Feature, error) {
	v, err := e.vector(path)
	if err != nil {
		return nil, err
	}
	rects := v.firstLayer()
	feats := make([]engine.Feature, len(rects))
	for i, r := range rects {
		f := make(engine.Feature, len(r.Attributes))
		for k, a := range r.Attributes {
			f[k] = a
		}
		feats[i] = f
	}
	return feats, nil
}

func (e *Engine) Rasterize(ctx context.Context, src, dst string, burn []float64, opts engine.RasterizeOptions) error {
	v, err := e.vector(src)
	if err != nil {
		return err
	}
	rects := v.firstLayer()
	if len(burn) != len(rects) {
		return fmt.Errorf("rasterize %s: %d burn values for %d features: %w", src, len(burn), len(rects), engine.ErrRasterization)
	}
	if opts.PixelSize <= 0 {
		return fmt.Errorf("rasterize %s: pixel size %v: %w", src, opts.PixelSize, engine.ErrRasterization)
	}
	var ext engine.Extent
	if opts.Bounds != nil {
		ext = *opts.Bounds
	} else {
		for i, r := range rects {
			if i == 0 {
				ext = r.Bounds
				continue
			}
			ext = ext.Union(r.Bounds)
		}
		ext = aligned(ext, opts.PixelSize)
	}
	if !ext.Valid() {
		return fmt.Errorf("rasterize %s: empty extent: %w", src, engine.ErrRasterization)
	}
	dt := opts.DataType
	if dt == engine.Unknown {
		dt = engine.Float64
	}
	ps := opts.PixelSize
	out := NewRaster(v.Projection, ext, ps, dt, cast(dt, opts.NoData))
	out.NoData, out.HasNoData = cast(dt, opts.NoData), true
	for i, r := range rects {
		for y := 0; y < out.Height; y++ {
			cy := ext.North - (float64(y)+0.5)*ps
			if cy < r.Bounds.South || cy > r.Bounds.North {
				continue
			}
			for x := 0; x < out.Width; x++ {
				cx := ext.West + (float64(x)+0.5)*ps
				if cx < r.Bounds.West || cx > r.Bounds.East {
					continue
				}
				out.Set(x, y, burn[i])
			}
		}
	}
	e.PutRaster(dst, out)
	return nil
}

func (e *Engine) OpenRaster(ctx context.Context, path string) (engine.RasterReader, error) {
	r, err := e.raster(path)
	if err != nil {
		return nil, err
	}
	return reader{r}, nil
}

type reader struct {
	r *Raster
}

func (rd reader) Info() engine.RasterInfo { return rd.r.info() }
func (rd reader) Close() error            { return nil }

// ReadWindow fills pixels outside the raster with its nodata value (0 without one).
func (rd reader) ReadWindow(x, y, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid window %dx%d", w, h)
	}
	r := rd.r
	sz := r.DataType.Size()
	fill := 0.0
	if r.HasNoData {
		fill = r.NoData
	}
	buf := make([]byte, w*h*sz)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			v := fill
			if c, l := x+i, y+j; c >= 0 && l >= 0 && c < r.Width && l < r.Height {
				v = r.At(c, l)
			}
			off := (j*w + i) * sz
			r.DataType.Put(buf[off:off+sz], v)
		}
	}
	return buf, nil
}

func aligned(ext engine.Extent, ps float64) engine.Extent {
	return engine.Extent{
		West:  math.Floor(ext.West/ps+tolerance) * ps,
		South: math.Floor(ext.South/ps+tolerance) * ps,
		East:  math.Ceil(ext.East/ps-tolerance) * ps,
		North: math.Ceil(ext.North/ps-tolerance) * ps,
	}
}

// cast rounds-trips v through the binary representation of dt.
func cast(dt engine.DataType, v float64) float64 {
	if dt == engine.Unknown {
		return v
	}
	var buf [8]byte
	dt.Put(buf[:dt.Size()], v)
	return dt.Get(buf[:dt.Size()])
}
