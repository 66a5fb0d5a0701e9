// Package blktiler normalizes geospatial layers into one reference frame and cuts them
// into tiles of fixed-size blocks, written as headerless binary files next to a JSON
// sidecar describing their geometry and attribute codes.
//
// A run establishes a BoundingBox from a reference layer, then hands layers to a Tiler2D
// or layer stacks to a Tiler3D:
//
//	bbox, err := blktiler.NewBoundingBox(ctx, ws, reference, blktiler.WithPixelSize(0.001))
//	if err != nil {
//		return err
//	}
//	tiler := blktiler.NewTiler2D(bbox, out, blktiler.WithBoundingBoxResolution())
//	err = tiler.Tile(ctx, layers)
package blktiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airbusgeo/blktiler/engine"
)

// LayerError reports the failure of one layer or stack. Other layers of the run are not
// affected by it.
type LayerError struct {
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %s: %v", e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// FailureKind classifies err for logs and metrics.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrInputNotFound):
		return "input_not_found"
	case errors.Is(err, engine.ErrProjection):
		return "projection"
	case errors.Is(err, engine.ErrRasterization):
		return "rasterization"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}

// Recorder receives progress events of a tiler.
type Recorder interface {
	// LayerDone is called once per layer or stack with status "ok" or a FailureKind.
	LayerDone(status string, elapsed time.Duration)
	TileWritten(bytes int)
}

type nopRecorder struct{}

func (nopRecorder) LayerDone(string, time.Duration) {}
func (nopRecorder) TileWritten(int)                 {}
