// Command blkplan lists the tiles and block files a normalized GeoTIFF is cut into,
// reading only its georeferencing tags.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/osio"
	osiogcs "github.com/airbusgeo/osio/gcs"

	"github.com/airbusgeo/blktiler/geotiff"
	"github.com/airbusgeo/blktiler/grid"
	"github.com/airbusgeo/blktiler/internal/logger"
	"github.com/airbusgeo/blktiler/sidecar"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	tileExtent := flag.Float64("tile-extent", grid.DefaultTileExtent, "tile size in frame units")
	blockExtent := flag.Float64("block-extent", grid.DefaultBlockExtent, "block size in frame units")
	name := flag.String("name", "", "layer name (default: file name without extension)")
	blocks := flag.Bool("blocks", false, "also list the pixel window of every block")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] layer.tif [gs://bucket/layer.tif...]\nOptions:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		return fmt.Errorf("no input")
	}
	if *name != "" && len(args) > 1 {
		return fmt.Errorf("-name applies to a single input")
	}
	log := logger.Setup()

	var gcs *osio.Adapter
	for _, input := range args {
		var r *io.SectionReader
		if strings.HasPrefix(input, "gs://") {
			if gcs == nil {
				client, err := storage.NewClient(ctx)
				if err != nil {
					return fmt.Errorf("storage.newclient: %w", err)
				}
				defer client.Close()
				gcsHandler, err := osiogcs.Handle(ctx, osiogcs.GCSClient(client))
				if err != nil {
					return fmt.Errorf("osio.gcshandle: %w", err)
				}
				if gcs, err = osio.NewAdapter(gcsHandler); err != nil {
					return fmt.Errorf("osio.newadapter: %w", err)
				}
			}
			key := strings.TrimPrefix(input, "gs://")
			size, err := gcs.Size(key)
			if err != nil {
				return fmt.Errorf("stat %s: %w", input, err)
			}
			r = io.NewSectionReader(keyReaderAt{gcs, key}, 0, size)
		} else {
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open %s: %w", input, err)
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", input, err)
			}
			r = io.NewSectionReader(f, 0, st.Size())
		}

		info, err := geotiff.ReadGeoInfo(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", input, err)
		}
		layerName := *name
		if layerName == "" {
			layerName = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		}
		log.Info("planning", "input", input, "layer", layerName, "projection", info.Projection(),
			"width", info.Width, "height", info.Height, "data_type", info.DataType.String())
		if err := plan(os.Stdout, layerName, info, *tileExtent, *blockExtent, *blocks); err != nil {
			return fmt.Errorf("plan %s: %w", input, err)
		}
	}
	return nil
}

// keyReaderAt reads one object through an osio adapter.
type keyReaderAt struct {
	adapter *osio.Adapter
	key     string
}

func (k keyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return k.adapter.ReadAt(k.key, p, off)
}

// plan writes one line per tile: its name, block file, pixel offsets and size in bytes.
func plan(w io.Writer, name string, info geotiff.Info, tileExtent, blockExtent float64, blocks bool) error {
	ri := info.RasterInfo()
	ext := ri.Extent()
	x, y := ri.Origin()
	tiles, err := grid.Tiles([4]float64{ext.West, ext.South, ext.East, ext.North}, [2]float64{x, y},
		ri.PixelSize(), tileExtent, blockExtent)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "tile\tfile\txoff\tyoff\tbytes")
	for _, t := range tiles {
		n := t.Size()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", t.Name(), sidecar.BlockFileName(name, t.Name()),
			t.XOffset(), t.YOffset(), n*n*ri.DataType.Size())
		if !blocks {
			continue
		}
		for _, b := range t.Blocks() {
			fmt.Fprintf(tw, "  %d,%d\t\t%d\t%d\t%d\n", b.X, b.Y, b.XOffset(), b.YOffset(), b.Size()*b.Size()*ri.DataType.Size())
		}
	}
	return tw.Flush()
}
