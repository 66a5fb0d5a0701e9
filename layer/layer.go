// Package layer implements the datasets the tiler consumes: rasters, vector and
// geodatabase feature layers, and disturbance layers decorating feature layers.
//
// Every variant normalizes into a *RasterLayer snapshot materialized on disk. Snapshots
// are immutable: each transformation returns a new one and the caller threads the latest
// snapshot forward.
package layer

import (
	"context"
	"fmt"

	"github.com/airbusgeo/blktiler/cleanup"
	"github.com/airbusgeo/blktiler/engine"
)

// Layer is the contract shared by all layer variants.
type Layer interface {
	Name() string
	// Path is the current on-disk materialization.
	Path() string
	// Attributes are the output column names of the attribute table.
	Attributes() []string
	// AttributeTable maps pixel codes to attribute values. Feature layers only have one
	// once normalized, on the returned snapshot.
	AttributeTable() AttributeTable
	// NormalizeTo reprojects and resamples the layer for target.
	NormalizeTo(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error)
}

// Workspace carries the collaborators of a normalization.
type Workspace struct {
	Engine engine.Engine
	// Scope owns every intermediate artifact.
	Scope *cleanup.Scope
}

// Target describes the grid a layer normalizes into.
type Target struct {
	Projection   string
	MinPixelSize float64
	BlockExtent  float64
	// RequestedPixelSize is 0 when the layer's native resolution should be used.
	RequestedPixelSize float64
	// DataType is engine.Unknown to let the layer infer it.
	DataType engine.DataType
	// Bounds clips the output; nil keeps the source's extent.
	Bounds *engine.Extent
}

// Stack is a group of co-registered layers tiled together along a channel axis.
type Stack struct {
	Name               string
	Layers             []Layer
	RequestedPixelSize float64
	DataType           engine.DataType
	Years              int
	StepsPerYear       int
}

func (ws *Workspace) tempDir(name string) (string, error) {
	if ws == nil || ws.Engine == nil || ws.Scope == nil {
		return "", fmt.Errorf("incomplete workspace")
	}
	return ws.Scope.TempDir(name)
}
