// Package gdalengine implements engine.Engine on top of GDAL.
package gdalengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	osiogcs "github.com/airbusgeo/osio/gcs"
	"gonum.org/v1/gonum/floats"

	"github.com/airbusgeo/blktiler/engine"
)

var registerOnce sync.Once

// Engine calls GDAL through godal. Outputs are tiled, deflate compressed GeoTIFFs.
type Engine struct {
	creationOptions []string
}

func New(creationOptions ...string) *Engine {
	registerOnce.Do(godal.RegisterAll)
	if len(creationOptions) == 0 {
		creationOptions = []string{"TILED=YES", "COMPRESS=DEFLATE", "BIGTIFF=IF_SAFER"}
	}
	return &Engine{creationOptions: creationOptions}
}

// RegisterGCS makes gs://bucket/object paths readable by GDAL.
func RegisterGCS(ctx context.Context, client *storage.Client) error {
	registerOnce.Do(godal.RegisterAll)
	gcsHandler, err := osiogcs.Handle(ctx, osiogcs.GCSClient(client))
	if err != nil {
		return fmt.Errorf("osio.gcshandle: %w", err)
	}
	adapter, err := osio.NewAdapter(gcsHandler)
	if err != nil {
		return fmt.Errorf("osio.newadapter: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", adapter); err != nil {
		return fmt.Errorf("register gs:// handler: %w", err)
	}
	return nil
}

func exists(path string) error {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "/vsi") {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("open %s: %w", path, engine.ErrInputNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

func openRaster(path string) (*godal.Dataset, error) {
	if err := exists(path); err != nil {
		return nil, err
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if len(ds.Bands()) == 0 {
		ds.Close()
		return nil, fmt.Errorf("open %s: no raster band", path)
	}
	return ds, nil
}

func openVector(path string) (*godal.Dataset, error) {
	if err := exists(path); err != nil {
		return nil, err
	}
	ds, err := godal.Open(path, godal.VectorOnly())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if len(ds.Layers()) == 0 {
		ds.Close()
		return nil, fmt.Errorf("open %s: no vector layer", path)
	}
	return ds, nil
}

func info(ds *godal.Dataset) (engine.RasterInfo, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		return engine.RasterInfo{}, fmt.Errorf("geotransform: %w", err)
	}
	st := ds.Structure()
	band := ds.Bands()[0]
	ri := engine.RasterInfo{
		Projection:   ds.Projection(),
		GeoTransform: gt,
		Width:        st.SizeX,
		Height:       st.SizeY,
		DataType:     fromGDAL(band.Structure().DataType),
	}
	ri.NoData, ri.HasNoData = band.NoData()
	return ri, nil
}

func (e *Engine) Info(ctx context.Context, path string) (engine.RasterInfo, error) {
	ds, err := openRaster(path)
	if err != nil {
		return engine.RasterInfo{}, err
	}
	defer ds.Close()
	ri, err := info(ds)
	if err != nil {
		return engine.RasterInfo{}, fmt.Errorf("info %s: %w", path, err)
	}
	return ri, nil
}

// MinMax scans the whole band, strip by strip.
func (e *Engine) MinMax(ctx context.Context, path string) (float64, float64, bool, error) {
	ds, err := openRaster(path)
	if err != nil {
		return 0, 0, false, err
	}
	defer ds.Close()
	st := ds.Structure()
	band := ds.Bands()[0]
	nodata, hasNoData := band.NoData()

	const strip = 256
	buf := make([]float64, st.SizeX*strip)
	valid := make([]float64, 0, len(buf))
	min, max := math.Inf(1), math.Inf(-1)
	for y := 0; y < st.SizeY; y += strip {
		if err := ctx.Err(); err != nil {
			return 0, 0, false, err
		}
		h := strip
		if y+h > st.SizeY {
			h = st.SizeY - y
		}
		if err := band.Read(0, y, buf[:st.SizeX*h], st.SizeX, h); err != nil {
			return 0, 0, false, fmt.Errorf("read %s: %w", path, err)
		}
		valid = valid[:0]
		for _, v := range buf[:st.SizeX*h] {
			if (hasNoData && v == nodata) || math.IsNaN(v) {
				continue
			}
			valid = append(valid, v)
		}
		if len(valid) > 0 {
			min = math.Min(min, floats.Min(valid))
			max = math.Max(max, floats.Max(valid))
		}
	}
	if math.IsInf(min, 1) {
		return 0, 0, false, nil
	}
	return min, max, true, nil
}

func (e *Engine) coSwitches() []string {
	var sw []string
	for _, co := range e.creationOptions {
		sw = append(sw, "-co", co)
	}
	return sw
}

func g(v float64) string {
	return fmt.Sprintf("%.12g", v)
}

func (e *Engine) Warp(ctx context.Context, src, dst string, opts engine.WarpOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := openRaster(src)
	if err != nil {
		return err
	}
	defer ds.Close()

	switches := []string{"-of", "GTiff", "-r", "near"}
	if opts.Projection != "" {
		if ds.Projection() == "" {
			return fmt.Errorf("warp %s: source has no projection: %w", src, engine.ErrProjection)
		}
		switches = append(switches, "-t_srs", opts.Projection)
	}
	if opts.PixelSize > 0 {
		switches = append(switches, "-tr", g(opts.PixelSize), g(opts.PixelSize))
		if opts.TargetAlignedPixels {
			switches = append(switches, "-tap")
		}
	}
	if b := opts.Bounds; b != nil {
		switches = append(switches, "-te", g(b.West), g(b.South), g(b.East), g(b.North))
	}
	if opts.DataType != engine.Unknown {
		switches = append(switches, "-ot", opts.DataType.String())
	}
	if opts.SrcNoData != nil {
		switches = append(switches, "-srcnodata", g(*opts.SrcNoData))
	}
	if opts.DstNoData != nil {
		switches = append(switches, "-dstnodata", g(*opts.DstNoData))
	}
	switches = append(switches, e.coSwitches()...)

	out, err := godal.Warp(dst, []*godal.Dataset{ds}, switches)
	if err != nil {
		return fmt.Errorf("warp %s: %v: %w", src, err, engine.ErrRasterization)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

func (e *Engine) Translate(ctx context.Context, src, dst string, dt engine.DataType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := openRaster(src)
	if err != nil {
		return err
	}
	defer ds.Close()
	switches := append([]string{"-of", "GTiff", "-ot", dt.String()}, e.coSwitches()...)
	out, err := ds.Translate(dst, switches)
	if err != nil {
		return fmt.Errorf("translate %s to %s: %v: %w", src, dt, err, engine.ErrRasterization)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// ReprojectVector writes a GeoPackage holding layer (every layer when empty) of src.
func (e *Engine) ReprojectVector(ctx context.Context, src, dst, layer, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := openVector(src)
	if err != nil {
		return err
	}
	defer ds.Close()

	if layer != "" {
		l := ds.LayerByName(layer)
		if l == nil {
			return fmt.Errorf("layer %q of %s: %w", layer, src, engine.ErrInputNotFound)
		}
		if projection != "" && l.SpatialRef() == nil {
			return fmt.Errorf("layer %q of %s has no spatial reference: %w", layer, src, engine.ErrProjection)
		}
	} else if projection != "" {
		for _, l := range ds.Layers() {
			if l.SpatialRef() == nil {
				return fmt.Errorf("layer %q of %s has no spatial reference: %w", l.Name(), src, engine.ErrProjection)
			}
		}
	}

	switches := []string{"-f", "GPKG"}
	if projection != "" {
		switches = append(switches, "-t_srs", projection)
	}
	if layer != "" {
		switches = append(switches, layer)
	}
	out, err := ds.VectorTranslate(dst, switches)
	if err != nil {
		return fmt.Errorf("reproject %s: %v: %w", src, err, engine.ErrProjection)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

// fieldValue returns nil for unset and null fields.
func fieldValue(f godal.Field) any {
	if !f.IsSet() {
		return nil
	}
	switch f.Type() {
	case godal.FTInt, godal.FTInt64:
		return f.Int()
	case godal.FTReal:
		return f.Float()
	}
	return f.String()
}

func (e *Engine) ReadFeatures(ctx context.Context, path string) ([]engine.Feature, error) {
	ds, err := openVector(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	l := ds.Layers()[0]
	l.ResetReading()
	var feats []engine.Feature
	for f := l.NextFeature(); f != nil; f = l.NextFeature() {
		fields := f.Fields()
		feat := make(engine.Feature, len(fields))
		for name, fld := range fields {
			feat[name] = fieldValue(fld)
		}
		feats = append(feats, feat)
		f.Close()
	}
	return feats, nil
}

// Rasterize burns the features one by one, in layer order, so later features overwrite
// earlier ones.
func (e *Engine) Rasterize(ctx context.Context, src, dst string, burn []float64, opts engine.RasterizeOptions) error {
	if opts.PixelSize <= 0 {
		return fmt.Errorf("rasterize %s: pixel size %v: %w", src, opts.PixelSize, engine.ErrRasterization)
	}
	ds, err := openVector(src)
	if err != nil {
		return err
	}
	defer ds.Close()
	l := ds.Layers()[0]

	var geoms []*godal.Geometry
	defer func() {
		for _, gm := range geoms {
			if gm != nil {
				gm.Close()
			}
		}
	}()
	var ext engine.Extent
	l.ResetReading()
	for f := l.NextFeature(); f != nil; f = l.NextFeature() {
		gm := f.Geometry()
		f.Close()
		geoms = append(geoms, gm)
		if opts.Bounds != nil || gm == nil {
			continue
		}
		b, err := gm.Bounds()
		if err != nil {
			return fmt.Errorf("rasterize %s: feature bounds: %v: %w", src, err, engine.ErrRasterization)
		}
		fe := engine.Extent{West: b[0], South: b[1], East: b[2], North: b[3]}
		if !ext.Valid() {
			ext = fe
		} else {
			ext = ext.Union(fe)
		}
	}
	if len(burn) != len(geoms) {
		return fmt.Errorf("rasterize %s: %d burn values for %d features: %w", src, len(burn), len(geoms), engine.ErrRasterization)
	}
	ps := opts.PixelSize
	if opts.Bounds != nil {
		ext = *opts.Bounds
	} else {
		ext = engine.Extent{
			West:  math.Floor(ext.West/ps) * ps,
			South: math.Floor(ext.South/ps) * ps,
			East:  math.Ceil(ext.East/ps) * ps,
			North: math.Ceil(ext.North/ps) * ps,
		}
	}
	if !ext.Valid() {
		return fmt.Errorf("rasterize %s: empty extent: %w", src, engine.ErrRasterization)
	}
	dt := opts.DataType
	if dt == engine.Unknown {
		dt = engine.Float64
	}
	w := int(math.Round((ext.East - ext.West) / ps))
	h := int(math.Round((ext.North - ext.South) / ps))

	out, err := godal.Create(godal.GTiff, dst, 1, toGDAL(dt), w, h, godal.CreationOption(e.creationOptions...))
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if err := e.burn(out, l.SpatialRef(), ext, ps, opts.NoData, geoms, burn); err != nil {
		out.Close()
		return fmt.Errorf("rasterize %s: %v: %w", src, err, engine.ErrRasterization)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

func (e *Engine) burn(out *godal.Dataset, sr *godal.SpatialRef, ext engine.Extent, ps, nodata float64, geoms []*godal.Geometry, burn []float64) error {
	if err := out.SetGeoTransform([6]float64{ext.West, ps, 0, ext.North, 0, -ps}); err != nil {
		return err
	}
	if sr != nil {
		if err := out.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	band := out.Bands()[0]
	if err := band.SetNoData(nodata); err != nil {
		return err
	}
	if err := band.Fill(nodata, 0); err != nil {
		return err
	}
	for i, gm := range geoms {
		if gm == nil {
			continue
		}
		if err := out.RasterizeGeometry(gm, godal.Values(burn[i])); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) OpenRaster(ctx context.Context, path string) (engine.RasterReader, error) {
	ds, err := openRaster(path)
	if err != nil {
		return nil, err
	}
	ri, err := info(ds)
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("info %s: %w", path, err)
	}
	return &reader{ds: ds, info: ri}, nil
}

// reader serializes reads on its dataset handle.
type reader struct {
	mu   sync.Mutex
	ds   *godal.Dataset
	info engine.RasterInfo
}

func (r *reader) Info() engine.RasterInfo { return r.info }

// ReadWindow fills the part of the window outside the raster with nodata (0 without one).
func (r *reader) ReadWindow(x, y, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid window %dx%d", w, h)
	}
	dt := r.info.DataType
	sz := dt.Size()
	fill := 0.0
	if r.info.HasNoData {
		fill = r.info.NoData
	}
	out := make([]byte, w*h*sz)
	for i := 0; i < w*h; i++ {
		dt.Put(out[i*sz:], fill)
	}

	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, r.info.Width), min(y+h, r.info.Height)
	if x0 >= x1 || y0 >= y1 {
		return out, nil
	}
	cw, ch := x1-x0, y1-y0
	buf := make([]float64, cw*ch)
	r.mu.Lock()
	err := r.ds.Bands()[0].Read(x0, y0, buf, cw, ch)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read window %d,%d %dx%d: %w", x0, y0, cw, ch, err)
	}
	for j := 0; j < ch; j++ {
		for i := 0; i < cw; i++ {
			off := ((y0-y+j)*w + (x0 - x + i)) * sz
			dt.Put(out[off:], buf[j*cw+i])
		}
	}
	return out, nil
}

func (r *reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ds.Close()
}

func fromGDAL(dt godal.DataType) engine.DataType {
	switch dt {
	case godal.Byte:
		return engine.Byte
	case godal.Int16:
		return engine.Int16
	case godal.UInt16:
		return engine.UInt16
	case godal.Int32:
		return engine.Int32
	case godal.UInt32:
		return engine.UInt32
	case godal.Float32:
		return engine.Float32
	case godal.Float64:
		return engine.Float64
	}
	return engine.Unknown
}

func toGDAL(dt engine.DataType) godal.DataType {
	switch dt {
	case engine.Byte:
		return godal.Byte
	case engine.Int16:
		return godal.Int16
	case engine.UInt16:
		return godal.UInt16
	case engine.Int32:
		return godal.Int32
	case engine.UInt32:
		return godal.UInt32
	case engine.Float32:
		return godal.Float32
	}
	return godal.Float64
}
