// Package grid implements the two-level tile/block partition of a reference frame.
//
// A Tile is addressed by the integer coordinate of its lower-left corner and covers
// TileExtent units on each axis. It is divided into (TileExtent/BlockExtent)^2 Blocks,
// enumerated row-major (y outer, x inner). That order is the on-disk order of a tile's
// block file.
package grid

import (
	"fmt"
	"math"
)

const (
	DefaultTileExtent  = 1.0
	DefaultBlockExtent = 0.1
)

// tolerance, in pixels, absorbed before flooring or rounding a floating point ratio.
const tolerance = 1e-6

// Count returns extent/size as a whole number, rounding away floating point noise.
func Count(extent, size float64) int {
	return int(math.Round(extent / size))
}

// Divides reports whether size divides extent a whole number of times.
func Divides(extent, size float64) bool {
	if size <= 0 || extent <= 0 {
		return false
	}
	n := extent / size
	return math.Abs(n-math.Round(n)) < tolerance*math.Max(1, n) && math.Round(n) >= 1
}

// pixelDistance is the whole number of pixels spanned by d.
func pixelDistance(d, size float64) int {
	return int(math.Floor(math.Abs(d)/size + tolerance))
}

// Tile is one top-level cell of the partition.
type Tile struct {
	X, Y                    int
	originX, originY        float64
	pixelSize               float64
	tileExtent, blockExtent float64
}

// NewTile creates the tile whose lower-left corner is (x, y), in a raster whose
// upper-left corner is origin.
func NewTile(x, y int, origin [2]float64, pixelSize, tileExtent, blockExtent float64) Tile {
	return Tile{
		X: x, Y: y,
		originX: origin[0], originY: origin[1],
		pixelSize:   pixelSize,
		tileExtent:  tileExtent,
		blockExtent: blockExtent,
	}
}

func (t Tile) XMin() float64 { return float64(t.X) }
func (t Tile) XMax() float64 { return float64(t.X) + t.tileExtent }
func (t Tile) YMin() float64 { return float64(t.Y) }
func (t Tile) YMax() float64 { return float64(t.Y) + t.tileExtent }

// XOffset is the pixel column of the tile's left edge in the raster.
func (t Tile) XOffset() int {
	return pixelDistance(t.XMin()-t.originX, t.pixelSize)
}

// YOffset is the pixel row of the tile's top edge in the raster.
func (t Tile) YOffset() int {
	return pixelDistance(t.YMax()-t.originY, t.pixelSize)
}

// Size is the tile width (and height) in pixels.
func (t Tile) Size() int {
	return Count(t.tileExtent, t.pixelSize)
}

// BlockSize is the block width (and height) in pixels.
func (t Tile) BlockSize() int {
	return Count(t.blockExtent, t.pixelSize)
}

// Name formats the tile as [-]XMIN_[-]YMAX, each zero padded to three digits.
func (t Tile) Name() string {
	return fmt.Sprintf("%s%03d_%s%03d",
		sign(t.XMin()), abs(int(t.XMin())),
		sign(t.YMax()), abs(int(math.Round(t.YMax()))))
}

// Blocks returns the tile's blocks in canonical order: y outer ascending, x inner ascending.
func (t Tile) Blocks() []Block {
	n := Count(t.tileExtent, t.blockExtent)
	blocks := make([]Block, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			blocks = append(blocks, Block{X: x, Y: y, tile: t})
		}
	}
	return blocks
}

func (t Tile) String() string {
	return t.Name()
}

// Block is a sub-partition of a Tile.
type Block struct {
	X, Y int
	tile Tile
}

// Size is the block width (and height) in pixels.
func (b Block) Size() int {
	return b.tile.BlockSize()
}

// XOffset is the pixel column of the block's left edge in the raster.
func (b Block) XOffset() int {
	return abs(b.tile.XOffset() + b.X*b.Size())
}

// YOffset is the pixel row of the block's top edge in the raster.
func (b Block) YOffset() int {
	return abs(b.tile.YOffset() + b.Y*b.Size())
}

// Tiles enumerates the tiles covering extent, x outer and y inner. origin is the upper-left
// corner of the raster the tiles index into.
func Tiles(extent [4]float64, origin [2]float64, pixelSize, tileExtent, blockExtent float64) ([]Tile, error) {
	if err := Validate(pixelSize, tileExtent, blockExtent); err != nil {
		return nil, err
	}
	west, south, east, north := extent[0], extent[1], extent[2], extent[3]
	step := int(math.Round(tileExtent))
	xMin, xMax := int(math.Floor(west)), int(math.Ceil(east))
	yMin, yMax := int(math.Floor(south)), int(math.Ceil(north))
	var tiles []Tile
	for x := xMin; x < xMax; x += step {
		for y := yMin; y < yMax; y += step {
			tiles = append(tiles, NewTile(x, y, origin, pixelSize, tileExtent, blockExtent))
		}
	}
	return tiles, nil
}

// Validate checks that the tile extent is a positive whole number of units holding a
// whole number of blocks, each holding a whole number of pixels.
func Validate(pixelSize, tileExtent, blockExtent float64) error {
	if pixelSize <= 0 {
		return fmt.Errorf("invalid pixel size %g", pixelSize)
	}
	if tileExtent < 1 || !Divides(tileExtent, 1) {
		return fmt.Errorf("tile extent %g must be a positive whole number", tileExtent)
	}
	if !Divides(tileExtent, blockExtent) {
		return fmt.Errorf("block extent %g does not divide tile extent %g", blockExtent, tileExtent)
	}
	if !Divides(blockExtent, pixelSize) {
		return fmt.Errorf("pixel size %g does not divide block extent %g", pixelSize, blockExtent)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v float64) string {
	if v < 0 {
		return "-"
	}
	return ""
}
