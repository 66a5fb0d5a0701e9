// Command testdata writes a small sample job next to its inputs: a reference raster,
// two yearly cover rasters, a stand inventory and a fire history, all in EPSG:4326.
//
//	go run ./testdata -dir /tmp/sample
//	blktiler -job /tmp/sample/job.json -output /tmp/sample/out
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
)

const stands = `{
"type": "FeatureCollection",
"features": [
{"type": "Feature", "properties": {"species": "PJ", "age": 40},
 "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
{"type": "Feature", "properties": {"species": "SW", "age": 75},
 "geometry": {"type": "Polygon", "coordinates": [[[1,0],[2,0],[2,1],[1,1],[1,0]]]}}
]}`

const fires = `{
"type": "FeatureCollection",
"features": [
{"type": "Feature", "properties": {"species": "PJ", "YEAR": 2001},
 "geometry": {"type": "Polygon", "coordinates": [[[0.2,0.2],[0.6,0.2],[0.6,0.6],[0.2,0.6],[0.2,0.2]]]}},
{"type": "Feature", "properties": {"species": "SW", "YEAR": 2003},
 "geometry": {"type": "Polygon", "coordinates": [[[1.2,0.4],[1.8,0.4],[1.8,0.8],[1.2,0.8],[1.2,0.4]]]}}
]}`

const job = `{
	"bounding_box": {"layer": {"name": "reference", "path": "reference.tif"}, "epsg": 4326, "pixel_size": 0.01},
	"block_extent": 0.1,
	"layers": [
		{"name": "age", "type": "vector", "path": "stands.geojson", "raw": true, "attributes": [{"name": "age"}]},
		{"name": "stands", "type": "vector", "path": "stands.geojson",
		 "attributes": [{"name": "species", "substitutions": {"SW": "WS"}}]},
		{"name": "fire", "type": "disturbance",
		 "source": {"type": "vector", "path": "fires.geojson", "attributes": [{"name": "YEAR"}, {"name": "species"}]},
		 "year": {"attribute": "YEAR"}, "disturbance_type": 1,
		 "transition": {"regen_delay": 0, "age_after": 0, "classifiers": ["species"]}}
	],
	"stacks": [
		{"name": "cover", "data_type": "Byte", "years": 2, "steps_per_year": 1,
		 "layers": [{"name": "cover_2001", "path": "cover_2001.tif"}, {"name": "cover_2002", "path": "cover_2002.tif"}]}
	]
}`

func main() {
	dir := flag.String("dir", ".", "destination directory")
	flag.Parse()
	godal.RegisterAll()
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatal(err)
	}
	if err := generate(filepath.Join(*dir, "reference.tif"), godal.Byte, 0.01, func(x, y int) float64 { return 1 }); err != nil {
		log.Fatal(err)
	}
	for i, year := range []int{2001, 2002} {
		fname := filepath.Join(*dir, fmt.Sprintf("cover_%d.tif", year))
		if err := generate(fname, godal.Byte, 0.02, func(x, y int) float64 { return float64((x/10 + y/10 + i) % 4) }); err != nil {
			log.Fatal(err)
		}
	}
	for name, content := range map[string]string{
		"stands.geojson": stands,
		"fires.geojson":  fires,
		"job.json":       job,
	} {
		if err := os.WriteFile(filepath.Join(*dir, name), []byte(content), 0o644); err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("sample job written to %s", filepath.Join(*dir, "job.json"))
}

// generate writes a single band raster covering [0,2]x[0,1].
func generate(fname string, dt godal.DataType, ps float64, value func(x, y int) float64) error {
	w, h := int(2/ps+0.5), int(1/ps+0.5)
	ds, err := godal.Create(godal.GTiff, fname, 1, dt, w, h, godal.CreationOption(
		"TILED=YES", "BLOCKXSIZE=64", "BLOCKYSIZE=64",
	))
	if err != nil {
		return fmt.Errorf("create %s: %w", fname, err)
	}
	if err = ds.SetGeoTransform([6]float64{0, ps, 0, 1, 0, -ps}); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return err
	}
	defer sr.Close()
	if err = ds.SetSpatialRef(sr); err != nil {
		return fmt.Errorf("set spatial ref: %w", err)
	}
	buf := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = value(x, y)
		}
	}
	if err = ds.Bands()[0].Write(0, 0, buf, w, h); err != nil {
		return fmt.Errorf("write %s: %w", fname, err)
	}
	return ds.Close()
}
