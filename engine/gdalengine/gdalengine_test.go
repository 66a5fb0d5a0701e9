package gdalengine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/engine/gdalengine"
)

const standsJSON = `{
"type": "FeatureCollection",
"features": [
{"type": "Feature", "properties": {"species": "PJ", "age": 10},
 "geometry": {"type": "Polygon", "coordinates": [[[0,0.5],[0.5,0.5],[0.5,1],[0,1],[0,0.5]]]}},
{"type": "Feature", "properties": {"species": "SW", "age": 20},
 "geometry": {"type": "Polygon", "coordinates": [[[0.5,0],[1,0],[1,0.5],[0.5,0.5],[0.5,0]]]}}
]}`

const nullsJSON = `{
"type": "FeatureCollection",
"features": [
{"type": "Feature", "properties": {"species": "PJ", "age": 10},
 "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
{"type": "Feature", "properties": {"species": null, "age": null},
 "geometry": {"type": "Polygon", "coordinates": [[[1,0],[2,0],[2,1],[1,1],[1,0]]]}}
]}`

func generateData(fname string) error {
	ds, err := godal.Create(godal.GTiff, fname, 1, godal.Int16, 40, 40)
	if err != nil {
		return err
	}
	if err = ds.SetGeoTransform([6]float64{0, 0.025, 0, 1, 0, -0.025}); err != nil {
		return err
	}
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return err
	}
	if err = ds.SetSpatialRef(sr); err != nil {
		return err
	}
	sr.Close()
	band := ds.Bands()[0]
	if err = band.SetNoData(-1); err != nil {
		return err
	}
	buf := make([]int16, 40*40)
	for i := range buf {
		buf[i] = int16(i % 40)
	}
	buf[0] = -1
	if err = band.Write(0, 0, buf, 40, 40); err != nil {
		return err
	}
	return ds.Close()
}

func TestRasterOperations(t *testing.T) {
	ctx := context.Background()
	eng := gdalengine.New()
	dir := t.TempDir()
	src := filepath.Join(dir, "age.tif")
	if err := generateData(src); err != nil {
		t.Fatalf("TestRasterOperations.generateData: %v", err)
	}

	info, err := eng.Info(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 40 || info.DataType != engine.Int16 || !info.HasNoData || info.NoData != -1 {
		t.Errorf("unexpected info %+v", info)
	}

	min, max, ok, err := eng.MinMax(ctx, src)
	if err != nil || !ok {
		t.Fatalf("minmax: %v %v", ok, err)
	}
	if min != 0 || max != 39 {
		t.Errorf("range [%v,%v], expected [0,39]", min, max)
	}

	warped := filepath.Join(dir, "warped.tif")
	nd := 255.0
	err = eng.Warp(ctx, src, warped, engine.WarpOptions{
		Projection: "EPSG:4326",
		PixelSize:  0.1,
		Bounds:     &engine.Extent{West: 0, South: 0, East: 2, North: 1},
		DataType:   engine.Byte,
		DstNoData:  &nd,
	})
	if err != nil {
		t.Fatal(err)
	}
	info, err = eng.Info(ctx, warped)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 20 || info.Height != 10 || info.DataType != engine.Byte || info.NoData != 255 {
		t.Errorf("unexpected warped info %+v", info)
	}

	rd, err := eng.OpenRaster(ctx, warped)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	// half inside, half outside the source footprint
	buf, err := rd.ReadWindow(8, 0, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 4 || buf[2] != 255 || buf[3] != 255 {
		t.Errorf("unexpected window %v", buf)
	}
	buf, err = rd.ReadWindow(18, 8, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range buf {
		if v != 255 {
			t.Errorf("pixel %d = %d outside the raster, expected nodata", i, v)
		}
	}

	cast := filepath.Join(dir, "cast.tif")
	if err := eng.Translate(ctx, src, cast, engine.Float32); err != nil {
		t.Fatal(err)
	}
	if info, _ := eng.Info(ctx, cast); info.DataType != engine.Float32 {
		t.Errorf("translated type %s", info.DataType)
	}
}

func TestMissingInput(t *testing.T) {
	eng := gdalengine.New()
	_, err := eng.Info(context.Background(), filepath.Join(t.TempDir(), "nope.tif"))
	if !errors.Is(err, engine.ErrInputNotFound) {
		t.Errorf("expected ErrInputNotFound, got %v", err)
	}
}

func TestVectorOperations(t *testing.T) {
	ctx := context.Background()
	eng := gdalengine.New()
	dir := t.TempDir()
	src := filepath.Join(dir, "stands.geojson")
	if err := os.WriteFile(src, []byte(standsJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	gpkg := filepath.Join(dir, "stands.gpkg")
	if err := eng.ReprojectVector(ctx, src, gpkg, "", "EPSG:4326"); err != nil {
		t.Fatal(err)
	}
	feats, err := eng.ReadFeatures(ctx, gpkg)
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 2 || feats[0]["species"] != "PJ" || feats[1]["age"] != int64(20) {
		t.Fatalf("unexpected features %v", feats)
	}

	out := filepath.Join(dir, "stands.tif")
	err = eng.Rasterize(ctx, gpkg, out, []float64{1, 2}, engine.RasterizeOptions{
		PixelSize: 0.25,
		Bounds:    &engine.Extent{West: 0, South: 0, East: 1, North: 1},
		NoData:    -1,
		DataType:  engine.Float64,
	})
	if err != nil {
		t.Fatal(err)
	}
	rd, err := eng.OpenRaster(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	buf, err := rd.ReadWindow(0, 0, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{
		1, 1, -1, -1,
		1, 1, -1, -1,
		-1, -1, 2, 2,
		-1, -1, 2, 2,
	}
	for i, w := range want {
		if got := engine.Float64.Get(buf[i*8:]); got != w {
			t.Errorf("pixel %d = %v, expected %v", i, got, w)
		}
	}

	min, max, ok, err := eng.MinMax(ctx, out)
	if err != nil || !ok || min != 1 || max != 2 {
		t.Errorf("minmax = %v %v %v %v", min, max, ok, err)
	}

	err = eng.Rasterize(ctx, gpkg, filepath.Join(dir, "bad.tif"), []float64{1}, engine.RasterizeOptions{PixelSize: 0.25})
	if !errors.Is(err, engine.ErrRasterization) {
		t.Errorf("expected ErrRasterization, got %v", err)
	}
}

func TestReadFeaturesNullFields(t *testing.T) {
	ctx := context.Background()
	eng := gdalengine.New()
	dir := t.TempDir()
	src := filepath.Join(dir, "nulls.geojson")
	if err := os.WriteFile(src, []byte(nullsJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	gpkg := filepath.Join(dir, "nulls.gpkg")
	if err := eng.ReprojectVector(ctx, src, gpkg, "", "EPSG:4326"); err != nil {
		t.Fatal(err)
	}
	feats, err := eng.ReadFeatures(ctx, gpkg)
	if err != nil {
		t.Fatal(err)
	}
	if len(feats) != 2 {
		t.Fatalf("expected 2 features, got %d", len(feats))
	}
	if feats[0]["species"] != "PJ" || feats[0]["age"] != int64(10) {
		t.Errorf("unexpected first feature %v", feats[0])
	}
	for _, col := range []string{"species", "age"} {
		if v, ok := feats[1][col]; !ok || v != nil {
			t.Errorf("null %s read as %#v (present %v)", col, v, ok)
		}
	}
}
