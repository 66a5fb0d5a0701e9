package layer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbusgeo/blktiler/cleanup"
	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/engine/memengine"
	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/transition"
)

const wgs84 = "EPSG:4326"

func workspace(t *testing.T) (*layer.Workspace, *memengine.Engine) {
	t.Helper()
	scope, err := cleanup.NewScope(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = scope.Close() })
	eng := memengine.New()
	return &layer.Workspace{Engine: eng, Scope: scope}, eng
}

func quadrants(attrs ...engine.Feature) []memengine.Rect {
	bounds := []engine.Extent{
		{West: 0, South: 0.5, East: 0.5, North: 1},
		{West: 0.5, South: 0.5, East: 1, North: 1},
		{West: 0, South: 0, East: 0.5, North: 0.5},
		{West: 0.5, South: 0, East: 1, North: 0.5},
	}
	rects := make([]memengine.Rect, len(attrs))
	for i, a := range attrs {
		rects[i] = memengine.Rect{Bounds: bounds[i], Attributes: a}
	}
	return rects
}

func unitTarget(ps float64) layer.Target {
	return layer.Target{
		Projection:   wgs84,
		MinPixelSize: ps,
		BlockExtent:  0.5,
		Bounds:       &engine.Extent{West: 0, South: 0, East: 1, North: 1},
	}
}

func TestDedupTable(t *testing.T) {
	d := layer.NewDedupTable()
	assert.Equal(t, 1, d.Intern(layer.Tuple{"PJ", int64(10)}))
	assert.Equal(t, 2, d.Intern(layer.Tuple{"SW", int64(10)}))
	assert.Equal(t, 1, d.Intern(layer.Tuple{"PJ", int64(10)}))
	// a string "10" is not the number 10
	assert.Equal(t, 3, d.Intern(layer.Tuple{"PJ", "10"}))
	assert.Equal(t, 3, d.Len())

	table := d.Table()
	assert.Equal(t, []int{1, 2, 3}, table.Codes())
	assert.Equal(t, layer.Tuple{"SW", int64(10)}, table[2])

	// separators inside string values do not merge distinct tuples
	assert.Equal(t, 4, d.Intern(layer.Tuple{"a\x00string:b", "c"}))
	assert.Equal(t, 5, d.Intern(layer.Tuple{"a", "b\x00string:c"}))
	assert.Equal(t, 6, d.Intern(layer.Tuple{"a,s\"b\"", "c"}))
	assert.Equal(t, 7, d.Intern(layer.Tuple{"a", "b\",s\"c"}))
	assert.Equal(t, 7, d.Len())
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, int64(3), layer.Canonical(3))
	assert.Equal(t, int64(3), layer.Canonical(int16(3)))
	assert.Equal(t, int64(3), layer.Canonical(3.0))
	assert.Equal(t, 2.5, layer.Canonical(float32(2.5)))
	assert.Equal(t, "x", layer.Canonical([]byte("x")))
	assert.Nil(t, layer.Canonical(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, layer.Equals(1)(int64(1)))
	assert.False(t, layer.Equals("1")(int64(1)))
	assert.True(t, layer.OneOf("a", 2)(int64(2)))
	assert.False(t, layer.OneOf("a", 2)("b"))
	assert.True(t, layer.Between(0, 10)(2.5))
	assert.False(t, layer.Between(0, 10)("5"))
	assert.False(t, layer.Between(0, 10)(int64(11)))
}

func TestBestFitDataType(t *testing.T) {
	cases := []struct {
		min, max float64
		want     engine.DataType
	}{
		{0, 0, engine.Byte},
		{1, 255, engine.Byte},
		{-1, 100, engine.Int16},
		{0, 40000, engine.UInt16},
		{-1, 40000, engine.Int32},
		{0, 3e9, engine.UInt32},
		{-1, 3e9, engine.Float64},
		{0, 0.5, engine.Float32},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, layer.BestFitDataType(c.min, c.max), "[%v,%v]", c.min, c.max)
	}
}

func TestRasterLayerNormalize(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	src := memengine.NewRaster(wgs84, engine.Extent{East: 1, North: 1}, 0.1, engine.Int16, 5)
	src.NoData, src.HasNoData = -1, true
	src.Set(1, 1, 200)
	src.Set(3, 3, -1)
	eng.PutRaster("/data/age.tif", src)

	lyr := layer.NewRasterLayer("/data/age.tif")
	assert.Equal(t, "age", lyr.Name())

	target := layer.Target{Projection: wgs84, MinPixelSize: 0.1, BlockExtent: 1, RequestedPixelSize: 0.2}
	out, err := lyr.NormalizeTo(ctx, ws, target)
	require.NoError(t, err)
	assert.Equal(t, engine.Byte, out.DataType())
	assert.Equal(t, 255.0, out.NoData())
	assert.InDelta(t, 0.2, out.PixelSize(), 1e-12)
	assert.NotEqual(t, lyr.Path(), out.Path())
	assert.Equal(t, "/data/age.tif", lyr.Path(), "source layer is left untouched")

	r, ok := eng.Raster(out.Path())
	require.True(t, ok)
	assert.Equal(t, 5, r.Width)
	assert.Equal(t, 200.0, r.At(0, 0))
	assert.Equal(t, 255.0, r.At(1, 1))
	assert.Equal(t, 5.0, r.At(2, 2))
}

func TestRasterLayerPinnedType(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutRaster("/data/r.tif", memengine.NewRaster(wgs84, engine.Extent{East: 1, North: 1}, 0.25, engine.Byte, 1))

	out, err := layer.NewRasterLayer("/data/r.tif", layer.WithName("pinned"), layer.WithDataType(engine.Int32)).
		NormalizeTo(ctx, ws, layer.Target{Projection: wgs84, MinPixelSize: 0.25, BlockExtent: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "pinned", out.Name())
	assert.Equal(t, engine.Int32, out.DataType())
	assert.Equal(t, -1.0, out.NoData())

	// the caller's type wins over the layer's
	t2 := layer.Target{Projection: wgs84, MinPixelSize: 0.25, BlockExtent: 0.5, DataType: engine.UInt16}
	out, err = out.NormalizeTo(ctx, ws, t2)
	require.NoError(t, err)
	assert.Equal(t, engine.UInt16, out.DataType())
	assert.Equal(t, 65535.0, out.NoData())
}

func TestRasterLayerMissingInput(t *testing.T) {
	ws, _ := workspace(t)
	_, err := layer.NewRasterLayer("/nope.tif").NormalizeTo(context.Background(), ws, unitTarget(0.25))
	assert.True(t, errors.Is(err, engine.ErrInputNotFound))

	_, err = layer.NewRasterLayer("/nope.tif").NormalizeTo(context.Background(), &layer.Workspace{}, unitTarget(0.25))
	assert.Error(t, err)
}

func TestVectorLayerNormalize(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/stands.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"stands": quadrants(
			engine.Feature{"species": "PJ", "age": int64(10)},
			engine.Feature{"species": "SW", "age": 10.0},
			engine.Feature{"species": "PJ", "age": int64(10)},
			engine.Feature{"species": nil, "age": int64(3)},
		)},
	})

	lyr, err := layer.NewVectorLayer("stands", "/data/stands.shp", []layer.Attribute{
		{Name: "species", Substitutions: map[string]any{"SW": "WS"}},
		{Name: "age", DBName: "stand_age", Filter: layer.Between(0, 100)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"species", "stand_age"}, lyr.Attributes())
	assert.Nil(t, lyr.AttributeTable())

	out, err := lyr.NormalizeTo(ctx, ws, unitTarget(0.25))
	require.NoError(t, err)
	assert.Equal(t, engine.Byte, out.DataType())
	assert.Equal(t, 255.0, out.NoData())
	assert.Equal(t, []string{"species", "stand_age"}, out.Attributes())
	assert.Equal(t, layer.AttributeTable{
		1: {"PJ", int64(10)},
		2: {"WS", int64(10)},
	}, out.AttributeTable())

	r, ok := eng.Raster(out.Path())
	require.True(t, ok)
	assert.Equal(t, 1.0, r.At(0, 0))
	assert.Equal(t, 2.0, r.At(3, 0))
	assert.Equal(t, 1.0, r.At(0, 3))
	assert.Equal(t, 255.0, r.At(3, 3))
}

func TestVectorLayerFilterInvalidatesTuple(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/v.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"v": quadrants(
			engine.Feature{"cls": "a", "age": int64(10)},
			engine.Feature{"cls": "b", "age": int64(500)},
		)},
	})
	lyr, err := layer.NewVectorLayer("v", "/data/v.shp", []layer.Attribute{
		{Name: "cls"},
		{Name: "age", Filter: layer.Between(0, 100)},
	}, layer.VectorNoData(0), layer.VectorDataType(engine.Int16))
	require.NoError(t, err)
	out, err := lyr.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, engine.Int16, out.DataType())
	assert.Equal(t, 0.0, out.NoData())
	assert.Equal(t, layer.AttributeTable{1: {"a", int64(10)}}, out.AttributeTable())
	r, _ := eng.Raster(out.Path())
	assert.Equal(t, []float64{1, 0, 0, 0}, r.Data)
}

func TestVectorLayerNullAttributeBurnsNoData(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/n.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"n": quadrants(
			engine.Feature{"species": "PJ"},
			engine.Feature{"species": nil},
			engine.Feature{},
			engine.Feature{"species": ""},
		)},
	})
	lyr, err := layer.NewVectorLayer("n", "/data/n.shp", []layer.Attribute{{Name: "species"}})
	require.NoError(t, err)
	out, err := lyr.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, 255.0, out.NoData())
	assert.Equal(t, layer.AttributeTable{1: {"PJ"}, 2: {""}}, out.AttributeTable())
	r, _ := eng.Raster(out.Path())
	assert.Equal(t, []float64{1, 255, 255, 2}, r.Data)
}

func TestVectorLayerRaw(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/growth.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"growth": quadrants(
			engine.Feature{"rate": 0.5},
			engine.Feature{"rate": int64(2)},
		)},
	})
	lyr, err := layer.NewVectorLayer("growth", "/data/growth.shp", []layer.Attribute{{Name: "rate"}}, layer.Raw())
	require.NoError(t, err)
	out, err := lyr.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, engine.Float32, out.DataType())
	assert.Equal(t, -1.0, out.NoData())
	assert.Nil(t, out.AttributeTable())
	r, _ := eng.Raster(out.Path())
	assert.Equal(t, []float64{0.5, 2, -1, -1}, r.Data)

	_, err = layer.NewVectorLayer("bad", "/data/growth.shp", []layer.Attribute{{Name: "a"}, {Name: "b"}}, layer.Raw())
	assert.Error(t, err)
}

func TestGeodatabaseLayerSelectsLayer(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/inventory.gdb", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{
			"a_roads": quadrants(engine.Feature{"kind": "road"}),
			"forest":  quadrants(engine.Feature{"kind": "x"}, engine.Feature{"kind": "y"}),
		},
	})
	lyr, err := layer.NewGeodatabaseLayer("forest", "/data/inventory.gdb", "forest", []layer.Attribute{{Name: "kind"}})
	require.NoError(t, err)
	assert.Equal(t, "forest", lyr.SourceLayer())
	out, err := lyr.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, layer.AttributeTable{1: {"x"}, 2: {"y"}}, out.AttributeTable())

	_, err = layer.NewGeodatabaseLayer("forest", "/data/inventory.gdb", "", []layer.Attribute{{Name: "kind"}})
	assert.Error(t, err)

	missing, err := layer.NewGeodatabaseLayer("lakes", "/data/inventory.gdb", "lakes", []layer.Attribute{{Name: "kind"}})
	require.NoError(t, err)
	_, err = missing.NormalizeTo(ctx, ws, unitTarget(0.5))
	assert.True(t, errors.Is(err, engine.ErrInputNotFound))
}

func TestDisturbanceLayer(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/fires.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"fires": quadrants(
			engine.Feature{"year": int64(2001), "species": "PJ", "regen": int64(0)},
			engine.Feature{"year": int64(2002), "species": "SW", "regen": int64(0)},
			engine.Feature{"year": int64(2001), "species": "PJ", "regen": int64(0)},
		)},
	})
	src, err := layer.NewVectorLayer("fires", "/data/fires.shp", []layer.Attribute{
		{Name: "year"}, {Name: "species"}, {Name: "regen"},
	})
	require.NoError(t, err)

	rules := transition.NewManager()
	// an earlier layer already interned the PJ rule
	require.Equal(t, 1, rules.GetOrAdd(int64(0), int64(-1), map[string]any{"species": "PJ"}))

	dist, err := layer.NewDisturbanceLayer(rules, src, layer.AttributeRef("year"), layer.Literal(1), &layer.TransitionRule{
		RegenDelay:  layer.AttributeRef("regen"),
		AgeAfter:    layer.Literal(-1),
		Classifiers: []string{"species"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fires", dist.Name())
	assert.Equal(t, []string{"year", "disturbance_type", "transition"}, dist.Attributes())

	out, err := dist.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, []string{"year", "disturbance_type", "transition"}, out.Attributes())
	assert.Equal(t, layer.AttributeTable{
		1: {int64(2001), int64(1), int64(1)},
		2: {int64(2002), int64(1), int64(2)},
	}, out.AttributeTable())
	assert.Equal(t, 2, rules.Len())
}

func TestDisturbanceLayerWithoutTransition(t *testing.T) {
	ctx := context.Background()
	ws, eng := workspace(t)
	eng.PutVector("/data/harvest.shp", &memengine.Vector{
		Projection: wgs84,
		Layers: map[string][]memengine.Rect{"harvest": quadrants(
			engine.Feature{"yr": int64(1990)},
		)},
	})
	src, err := layer.NewVectorLayer("harvest", "/data/harvest.shp", []layer.Attribute{{Name: "yr"}})
	require.NoError(t, err)
	dist, err := layer.NewDisturbanceLayer(nil, src, layer.AttributeRef("yr"), layer.Literal("clearcut"), nil)
	require.NoError(t, err)
	out, err := dist.NormalizeTo(ctx, ws, unitTarget(0.5))
	require.NoError(t, err)
	assert.Equal(t, layer.AttributeTable{1: {int64(1990), "clearcut"}}, out.AttributeTable())

	bad, err := layer.NewDisturbanceLayer(nil, src, layer.AttributeRef("year"), layer.Literal("clearcut"), nil)
	require.NoError(t, err)
	_, err = bad.NormalizeTo(ctx, ws, unitTarget(0.5))
	assert.Error(t, err)

	_, err = layer.NewDisturbanceLayer(nil, src, layer.AttributeRef("yr"), layer.Literal("clearcut"), &layer.TransitionRule{})
	assert.Error(t, err)
}
