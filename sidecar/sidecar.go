// Package sidecar implements the tiled output format: a JSON metadata document per layer
// or stack, and one headerless .blk file per tile holding its blocks back to back.
package sidecar

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/layer"
)

const (
	GridLayer  = "GridLayer"
	StackLayer = "StackLayer"
)

// Metadata describes the geometry and pixel decoding of a tiled layer or stack.
type Metadata struct {
	LayerType     string          `json:"layer_type"`
	LayerData     engine.DataType `json:"layer_data"`
	NLayers       int             `json:"nLayers,omitempty"`
	NStepsPerYear int             `json:"nStepsPerYear,omitempty"`
	NoData        float64         `json:"nodata"`
	TileLatSize   float64         `json:"tileLatSize"`
	TileLonSize   float64         `json:"tileLonSize"`
	BlockLatSize  float64         `json:"blockLatSize"`
	BlockLonSize  float64         `json:"blockLonSize"`
	CellLatSize   float64         `json:"cellLatSize"`
	CellLonSize   float64         `json:"cellLonSize"`
	// Attributes maps pixel codes to a value, or to a column → value object for
	// multi-column tuples.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attributes converts an attribute table to its sidecar form.
func Attributes(columns []string, table layer.AttributeTable) map[string]any {
	if len(table) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(table))
	for code, tuple := range table {
		k := strconv.Itoa(code)
		if len(tuple) == 1 {
			attrs[k] = tuple[0]
			continue
		}
		row := make(map[string]any, len(tuple))
		for i, v := range tuple {
			if i < len(columns) {
				row[columns[i]] = v
			}
		}
		attrs[k] = row
	}
	return attrs
}

// FileName is the sidecar document name of a layer.
func FileName(name string) string {
	return name + ".json"
}

// BlockFileName is the name of the .blk file of tile in layer.
func BlockFileName(layerName, tileName string) string {
	return fmt.Sprintf("%s_%s.blk", layerName, tileName)
}

// Encode writes m as indented JSON.
func Encode(w io.Writer, m *Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	return nil
}

func Decode(r io.Reader) (*Metadata, error) {
	m := &Metadata{}
	if err := json.NewDecoder(r).Decode(m); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	return m, nil
}

// TilePixels is the tile width (and height) in pixels.
func (m *Metadata) TilePixels() int {
	return int(math.Round(m.TileLonSize / m.CellLonSize))
}

// BlockPixels is the block width (and height) in pixels.
func (m *Metadata) BlockPixels() int {
	return int(math.Round(m.BlockLonSize / m.CellLonSize))
}

// BlockBytes is the size of one block record holding channels samples per pixel.
func (m *Metadata) BlockBytes(channels int) int {
	b := m.BlockPixels()
	return b * b * channels * m.LayerData.Size()
}

// DecodeTile reassembles the content of a .blk file into the tile's row-major pixel array.
// Stack files keep their per-pixel channel interleaving; the channel count is derived from
// the data length.
func DecodeTile(m *Metadata, data []byte) ([]byte, error) {
	sz := m.LayerData.Size()
	if sz == 0 {
		return nil, fmt.Errorf("decode tile: unsupported data type %s", m.LayerData)
	}
	if m.CellLonSize <= 0 || m.BlockLonSize <= 0 {
		return nil, fmt.Errorf("decode tile: invalid geometry")
	}
	tp, bp := m.TilePixels(), m.BlockPixels()
	if bp == 0 || tp%bp != 0 {
		return nil, fmt.Errorf("decode tile: %d pixel tiles do not hold whole %d pixel blocks", tp, bp)
	}
	plane := tp * tp * sz
	if len(data) == 0 || len(data)%plane != 0 {
		return nil, fmt.Errorf("decode tile: %d bytes is not a whole number of %dx%d %s planes", len(data), tp, tp, m.LayerData)
	}
	px := sz * (len(data) / plane)

	out := make([]byte, len(data))
	nb := tp / bp
	rowBytes := bp * px
	off := 0
	for by := 0; by < nb; by++ {
		for bx := 0; bx < nb; bx++ {
			for row := 0; row < bp; row++ {
				dst := ((by*bp+row)*tp + bx*bp) * px
				copy(out[dst:dst+rowBytes], data[off:off+rowBytes])
				off += rowBytes
			}
		}
	}
	return out, nil
}
