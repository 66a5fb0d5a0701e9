package grid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/airbusgeo/blktiler/grid"
)

func TestTileName(t *testing.T) {
	cases := []struct {
		x, y int
		want string
	}{
		{-2, 4, "-002_005"},
		{3, -2, "003_-001"},
		{0, 0, "000_001"},
		{-1, -1, "-001_000"},
		{123, 45, "123_046"},
	}
	for _, c := range cases {
		tile := NewTile(c.x, c.y, [2]float64{0, 0}, 0.001, 1, 0.1)
		assert.Equal(t, c.want, tile.Name(), "tile %d,%d", c.x, c.y)
	}
}

func TestTileBounds(t *testing.T) {
	tile := NewTile(-2, 4, [2]float64{-3, 6}, 0.01, 1, 0.1)
	assert.Equal(t, -2.0, tile.XMin())
	assert.Equal(t, -1.0, tile.XMax())
	assert.Equal(t, 4.0, tile.YMin())
	assert.Equal(t, 5.0, tile.YMax())
	assert.Equal(t, 100, tile.XOffset())
	assert.Equal(t, 100, tile.YOffset())
	assert.Equal(t, 100, tile.Size())
	assert.Equal(t, 10, tile.BlockSize())
}

func TestBlocksCountAndOrder(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10} {
		blockExtent := 1.0 / float64(n)
		tile := NewTile(0, 0, [2]float64{0, 1}, blockExtent/4, 1, blockExtent)
		blocks := tile.Blocks()
		require.Len(t, blocks, n*n)
		i := 0
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				assert.Equal(t, x, blocks[i].X, "block %d", i)
				assert.Equal(t, y, blocks[i].Y, "block %d", i)
				i++
			}
		}
	}
}

func TestBlockOffsets(t *testing.T) {
	// raster origin one tile left of and above the tile
	tile := NewTile(1, 0, [2]float64{0, 2}, 0.001, 1, 0.1)
	require.Equal(t, 1000, tile.XOffset())
	require.Equal(t, 1000, tile.YOffset())
	blocks := tile.Blocks()
	assert.Equal(t, 1000, blocks[0].XOffset())
	assert.Equal(t, 1000, blocks[0].YOffset())
	assert.Equal(t, 100, blocks[0].Size())
	last := blocks[len(blocks)-1]
	assert.Equal(t, 1900, last.XOffset())
	assert.Equal(t, 1900, last.YOffset())
	assert.Equal(t, 1100, blocks[1].XOffset())
	assert.Equal(t, 1000, blocks[1].YOffset())
	assert.Equal(t, 1000, blocks[10].XOffset())
	assert.Equal(t, 1100, blocks[10].YOffset())
}

func TestOffsetsAbsorbFloatNoise(t *testing.T) {
	// 0.3/0.1 is 2.9999999999999996 in float64
	tile := NewTile(0, 0, [2]float64{-0.3, 1}, 0.1, 1, 0.1)
	assert.Equal(t, 3, tile.XOffset())
}

func TestTiles(t *testing.T) {
	for minX := -2; minX < 1; minX++ {
		for sX := 1; sX < 3; sX++ {
			for minY := -1; minY < 1; minY++ {
				for sY := 1; sY < 3; sY++ {
					ext := [4]float64{float64(minX), float64(minY), float64(minX + sX), float64(minY + sY)}
					tiles, err := Tiles(ext, [2]float64{ext[0], ext[3]}, 0.01, 1, 0.1)
					require.NoError(t, err)
					require.Len(t, tiles, sX*sY)
					i := 0
					for x := minX; x < minX+sX; x++ {
						for y := minY; y < minY+sY; y++ {
							assert.Equal(t, x, tiles[i].X)
							assert.Equal(t, y, tiles[i].Y)
							i++
						}
					}
				}
			}
		}
	}
}

func TestTilesCoverFractionalExtent(t *testing.T) {
	tiles, err := Tiles([4]float64{0.5, 0.2, 1.5, 0.8}, [2]float64{0, 1}, 0.01, 1, 0.1)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, "000_001", tiles[0].Name())
	assert.Equal(t, "001_001", tiles[1].Name())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(0.00025, 1, 0.1))
	assert.NoError(t, Validate(0.001, 2, 0.5))
	assert.Error(t, Validate(0, 1, 0.1))
	assert.Error(t, Validate(0.001, 0.5, 0.1))
	assert.Error(t, Validate(0.001, 1, 0.3))
	assert.Error(t, Validate(0.0003, 1, 0.1))
}

func TestReconcilePixelSize(t *testing.T) {
	size := ReconcilePixelSize(0.00025, 0.001, 0.1)
	assert.InDelta(t, 0.001, size, 1e-12)
	assert.True(t, Divides(0.1, size))
	assert.LessOrEqual(t, size, 0.1)

	// finer requests keep the frame resolution
	assert.Equal(t, 0.00025, ReconcilePixelSize(0.00025, 0.0001, 0.1))
	assert.Equal(t, 0.00025, ReconcilePixelSize(0.00025, 0, 0.1))

	// coarser than a block clamps to the block extent
	assert.InDelta(t, 0.1, ReconcilePixelSize(0.00025, 0.5, 0.1), 1e-12)

	// multipliers not dividing the block snap to one that does
	for _, preq := range []float64{0.0007, 0.0009, 0.0013, 0.003, 0.0333, 0.07} {
		size := ReconcilePixelSize(0.00025, preq, 0.1)
		assert.True(t, Divides(0.1, size), "requested %g got %g", preq, size)
		assert.LessOrEqual(t, size, 0.1)
		assert.Greater(t, size, 0.0)
	}
}

func TestCount(t *testing.T) {
	assert.Equal(t, 100, Count(0.1, 0.001))
	assert.Equal(t, 4000, Count(1, 0.00025))
	assert.Equal(t, 3, Count(0.3, 0.1))
}
