package layer

import (
	"math"

	"github.com/airbusgeo/blktiler/engine"
)

// DefaultNoData is the nodata value of layers that do not set one.
const DefaultNoData = -1

var integerTypes = []engine.DataType{engine.Byte, engine.Int16, engine.UInt16, engine.Int32, engine.UInt32}

// BestFitDataType picks the smallest type holding [min, max]: Float32 when either bound is
// fractional, else the first of Byte, Int16, UInt16, Int32, UInt32 that fits, else Float64.
func BestFitDataType(min, max float64) engine.DataType {
	if min != math.Trunc(min) || max != math.Trunc(max) {
		return engine.Float32
	}
	for _, dt := range integerTypes {
		lo, hi := dt.Range()
		if min >= lo && max <= hi {
			return dt
		}
	}
	return engine.Float64
}

// noDataFor adapts a negative nodata value to unsigned output types by using the type's
// maximum instead.
func noDataFor(nodata float64, dt engine.DataType) float64 {
	if nodata >= 0 {
		return nodata
	}
	switch dt {
	case engine.Byte, engine.UInt16, engine.UInt32:
		_, hi := dt.Range()
		return hi
	}
	return nodata
}

// outputType resolves a layer's output type: the caller's, else the layer's own, else
// Float32 for floating sources, else the best fit of the sampled range.
func outputType(requested, pinned engine.DataType, floating bool, min, max float64, ok bool) engine.DataType {
	switch {
	case requested != engine.Unknown:
		return requested
	case pinned != engine.Unknown:
		return pinned
	case floating:
		return engine.Float32
	case !ok:
		return BestFitDataType(0, 0)
	}
	return BestFitDataType(min, max)
}
