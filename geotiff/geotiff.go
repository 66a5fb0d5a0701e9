// Package geotiff reads the georeferencing of a GeoTIFF without GDAL, from the tags of its
// first IFD.
package geotiff

import (
	"fmt"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

const (
	SampleFormatUInt   = 1
	SampleFormatInt    = 2
	SampleFormatIEEEFP = 3
)

const (
	geographicTypeGeoKey  = 2048
	projectedCSTypeGeoKey = 3072
)

// IFD holds the tags of an image file directory needed to georeference its raster.
type IFD struct {
	ImageWidth      uint64   `tiff:"field,tag=256"`
	ImageLength     uint64   `tiff:"field,tag=257"`
	BitsPerSample   []uint16 `tiff:"field,tag=258"`
	SamplesPerPixel uint16   `tiff:"field,tag=277"`
	SampleFormat    []uint16 `tiff:"field,tag=339"`

	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`

	NoData string `tiff:"field,tag=42113"`
}

// Info is the georeferencing of a GeoTIFF's first band.
type Info struct {
	Width, Height int
	GeoTransform  [6]float64
	DataType      engine.DataType
	// EPSG is 0 when the file declares no EPSG coded CRS.
	EPSG      int
	NoData    float64
	HasNoData bool
}

// ReadGeoInfo parses r and georeferences its first IFD.
func ReadGeoInfo(r tiff.ReadAtReadSeeker) (Info, error) {
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return Info{}, fmt.Errorf("tiff parse: %w", err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return Info{}, fmt.Errorf("tiff has no ifd")
	}
	ifd := &IFD{}
	if err := tiff.UnmarshalIFD(ifds[0], ifd); err != nil {
		return Info{}, fmt.Errorf("unmarshal ifd: %w", err)
	}
	return ifd.Info()
}

func (ifd *IFD) Info() (Info, error) {
	gt, err := ifd.geotransform()
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Width:        int(ifd.ImageWidth),
		Height:       int(ifd.ImageLength),
		GeoTransform: gt,
		DataType:     ifd.dataType(),
		EPSG:         ifd.epsg(),
	}
	if ifd.NoData != "" {
		var v float64
		if _, err := fmt.Sscan(ifd.NoData, &v); err != nil {
			return Info{}, fmt.Errorf("parse nodata %q: %w", ifd.NoData, err)
		}
		info.NoData, info.HasNoData = v, true
	}
	return info, nil
}

func (ifd *IFD) geotransform() ([6]float64, error) {
	if m := ifd.ModelTransformationTag; len(m) == 16 {
		return [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}, nil
	}
	scale, tie := ifd.ModelPixelScaleTag, ifd.ModelTiePointTag
	if len(scale) < 2 || len(tie) < 6 {
		return [6]float64{}, fmt.Errorf("no georeferencing tags")
	}
	return [6]float64{
		tie[3] - tie[0]*scale[0], scale[0], 0,
		tie[4] + tie[1]*scale[1], 0, -scale[1],
	}, nil
}

func (ifd *IFD) dataType() engine.DataType {
	if len(ifd.BitsPerSample) == 0 {
		return engine.Unknown
	}
	format := uint16(SampleFormatUInt)
	if len(ifd.SampleFormat) > 0 {
		format = ifd.SampleFormat[0]
	}
	switch bits := ifd.BitsPerSample[0]; {
	case format == SampleFormatUInt && bits == 8:
		return engine.Byte
	case format == SampleFormatUInt && bits == 16:
		return engine.UInt16
	case format == SampleFormatUInt && bits == 32:
		return engine.UInt32
	case format == SampleFormatInt && bits == 16:
		return engine.Int16
	case format == SampleFormatInt && bits == 32:
		return engine.Int32
	case format == SampleFormatIEEEFP && bits == 32:
		return engine.Float32
	case format == SampleFormatIEEEFP && bits == 64:
		return engine.Float64
	}
	return engine.Unknown
}

// epsg reads the projected, else geographic, CRS code from the GeoKey directory.
func (ifd *IFD) epsg() int {
	keys := ifd.GeoKeyDirectoryTag
	geographic := 0
	for i := 4; i+3 < len(keys); i += 4 {
		id, location, value := keys[i], keys[i+1], keys[i+3]
		if location != 0 {
			continue
		}
		switch id {
		case projectedCSTypeGeoKey:
			return int(value)
		case geographicTypeGeoKey:
			geographic = int(value)
		}
	}
	return geographic
}

// Projection is the EPSG code as an engine projection string, empty when unknown.
func (i Info) Projection() string {
	if i.EPSG == 0 {
		return ""
	}
	return fmt.Sprintf("EPSG:%d", i.EPSG)
}

// RasterInfo converts i to the engine's description.
func (i Info) RasterInfo() engine.RasterInfo {
	return engine.RasterInfo{
		Projection:   i.Projection(),
		GeoTransform: i.GeoTransform,
		Width:        i.Width,
		Height:       i.Height,
		DataType:     i.DataType,
		NoData:       i.NoData,
		HasNoData:    i.HasNoData,
	}
}
