// Package config loads the description of a tiling run: a JSON job file naming the
// reference layer, the layers and stacks to tile, and the environment of the process.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/blktiler/engine"
	"github.com/airbusgeo/blktiler/grid"
	"github.com/airbusgeo/blktiler/layer"
	"github.com/airbusgeo/blktiler/transition"
)

const DefaultTransitionRules = "transition_rules.csv"

// Job is the content of a job file.
type Job struct {
	BoundingBox              BoundingBox `json:"bounding_box"`
	Output                   string      `json:"output,omitempty"`
	TileExtent               float64     `json:"tile_extent,omitempty"`
	BlockExtent              float64     `json:"block_extent,omitempty"`
	UseBoundingBoxResolution bool        `json:"use_bounding_box_resolution,omitempty"`
	Layers                   []Layer     `json:"layers,omitempty"`
	Stacks                   []Stack     `json:"stacks,omitempty"`
	// TransitionRules is the output key of the transition rule table.
	TransitionRules string `json:"transition_rules,omitempty"`
}

type BoundingBox struct {
	Layer      Layer   `json:"layer"`
	EPSG       int     `json:"epsg,omitempty"`
	Projection string  `json:"projection,omitempty"`
	PixelSize  float64 `json:"pixel_size,omitempty"`
}

// Layer describes any layer variant, selected by Type: raster, vector, geodatabase or
// disturbance.
type Layer struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
	// SourceLayer is the layer of a geodatabase.
	SourceLayer    string           `json:"layer,omitempty"`
	Attributes     []Attribute      `json:"attributes,omitempty"`
	AttributeTable map[string][]any `json:"attribute_table,omitempty"`
	Raw            bool             `json:"raw,omitempty"`
	NoData         *float64         `json:"nodata,omitempty"`
	DataType       engine.DataType  `json:"data_type,omitempty"`

	// Source is the feature layer decorated by a disturbance layer.
	Source          *Layer      `json:"source,omitempty"`
	Year            *Value      `json:"year,omitempty"`
	DisturbanceType *Value      `json:"disturbance_type,omitempty"`
	Transition      *Transition `json:"transition,omitempty"`
}

type Attribute struct {
	Name          string         `json:"name"`
	DBName        string         `json:"db_name,omitempty"`
	Filter        *Filter        `json:"filter,omitempty"`
	Substitutions map[string]any `json:"substitutions,omitempty"`
}

// Filter holds exactly one of its fields.
type Filter struct {
	Equals  any       `json:"equals,omitempty"`
	In      []any     `json:"in,omitempty"`
	Between []float64 `json:"between,omitempty"`
}

type Transition struct {
	RegenDelay  Value    `json:"regen_delay"`
	AgeAfter    Value    `json:"age_after"`
	Classifiers []string `json:"classifiers,omitempty"`
}

type Stack struct {
	Name         string          `json:"name"`
	Layers       []Layer         `json:"layers"`
	PixelSize    float64         `json:"pixel_size,omitempty"`
	DataType     engine.DataType `json:"data_type,omitempty"`
	Years        int             `json:"years,omitempty"`
	StepsPerYear int             `json:"steps_per_year,omitempty"`
}

// Value is a literal (number, string, bool) or {"attribute": "column"}.
type Value struct {
	Literal   any
	Attribute string
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var ref struct {
			Attribute string `json:"attribute"`
		}
		if err := json.Unmarshal(b, &ref); err != nil {
			return err
		}
		if ref.Attribute == "" {
			return fmt.Errorf("value: empty attribute reference")
		}
		*v = Value{Attribute: ref.Attribute}
		return nil
	}
	var lit any
	if err := json.Unmarshal(b, &lit); err != nil {
		return err
	}
	*v = Value{Literal: lit}
	return nil
}

func (v Value) value() layer.Value {
	if v.Attribute != "" {
		return layer.AttributeRef(v.Attribute)
	}
	return layer.Literal(v.Literal)
}

// LoadJob reads a job file. Relative local layer paths are resolved against the
// directory of the job file.
func LoadJob(path string) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job %s: %w", path, err)
	}
	defer f.Close()
	job, err := ParseJob(f)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", path, err)
	}
	job.resolve(filepath.Dir(path))
	return job, nil
}

// ParseJob decodes and validates a job, filling in defaults.
func ParseJob(r io.Reader) (*Job, error) {
	job := &Job{}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(job); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if job.TileExtent == 0 {
		job.TileExtent = grid.DefaultTileExtent
	}
	if job.BlockExtent == 0 {
		job.BlockExtent = grid.DefaultBlockExtent
	}
	if job.TransitionRules == "" {
		job.TransitionRules = DefaultTransitionRules
	}
	if err := job.validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func (j *Job) validate() error {
	if j.BoundingBox.Layer.Path == "" && j.BoundingBox.Layer.Source == nil {
		return fmt.Errorf("bounding_box.layer is required")
	}
	if j.BoundingBox.EPSG != 0 && j.BoundingBox.Projection != "" {
		return fmt.Errorf("bounding_box: epsg and projection are exclusive")
	}
	if len(j.Layers) == 0 && len(j.Stacks) == 0 {
		return fmt.Errorf("nothing to tile")
	}
	names := map[string]bool{}
	for _, l := range j.Layers {
		name := l.outputName()
		if name == "" {
			return fmt.Errorf("layer without a name")
		}
		if names[name] {
			return fmt.Errorf("duplicate output name %q", name)
		}
		names[name] = true
	}
	for _, s := range j.Stacks {
		if s.Name == "" || len(s.Layers) == 0 {
			return fmt.Errorf("stack %q: name and layers required", s.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate output name %q", s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

func (j *Job) resolve(dir string) {
	j.BoundingBox.Layer.resolve(dir)
	for i := range j.Layers {
		j.Layers[i].resolve(dir)
	}
	for i := range j.Stacks {
		for k := range j.Stacks[i].Layers {
			j.Stacks[i].Layers[k].resolve(dir)
		}
	}
}

func (l *Layer) resolve(dir string) {
	if l.Source != nil {
		l.Source.resolve(dir)
	}
	if l.Path == "" || filepath.IsAbs(l.Path) || strings.Contains(l.Path, "://") || strings.HasPrefix(l.Path, "/vsi") {
		return
	}
	l.Path = filepath.Join(dir, l.Path)
}

// outputName is the name the layer is tiled under. A disturbance layer may name itself or
// inherit the name of its source.
func (l Layer) outputName() string {
	if l.Name == "" && l.Source != nil {
		return l.Source.Name
	}
	return l.Name
}

// Build instantiates the layer. rules is shared by every disturbance layer of a run.
func (l Layer) Build(rules *transition.Manager) (layer.Layer, error) {
	switch strings.ToLower(l.Type) {
	case "", "raster":
		r, err := l.raster()
		if err != nil {
			return nil, err
		}
		return r, nil
	case "vector", "geodatabase":
		f, err := l.feature()
		if err != nil {
			return nil, err
		}
		return f, nil
	case "disturbance":
		if l.Source == nil {
			return nil, fmt.Errorf("disturbance layer %s: source required", l.Name)
		}
		source := *l.Source
		source.Name = l.outputName()
		src, err := source.feature()
		if err != nil {
			return nil, err
		}
		if l.Year == nil || l.DisturbanceType == nil {
			return nil, fmt.Errorf("disturbance layer %s: year and disturbance_type required", src.Name())
		}
		var tr *layer.TransitionRule
		if l.Transition != nil {
			tr = &layer.TransitionRule{
				RegenDelay:  l.Transition.RegenDelay.value(),
				AgeAfter:    l.Transition.AgeAfter.value(),
				Classifiers: l.Transition.Classifiers,
			}
		}
		d, err := layer.NewDisturbanceLayer(rules, src, l.Year.value(), l.DisturbanceType.value(), tr)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("layer %s: unknown type %q", l.Name, l.Type)
}

func (l Layer) raster() (*layer.RasterLayer, error) {
	if l.Path == "" {
		return nil, fmt.Errorf("raster layer %s: path required", l.Name)
	}
	var opts []layer.RasterOption
	if l.Name != "" {
		opts = append(opts, layer.WithName(l.Name))
	}
	if l.NoData != nil {
		opts = append(opts, layer.WithNoData(*l.NoData))
	}
	if l.DataType != engine.Unknown {
		opts = append(opts, layer.WithDataType(l.DataType))
	}
	if len(l.AttributeTable) > 0 {
		table := layer.AttributeTable{}
		for k, row := range l.AttributeTable {
			var code int
			if _, err := fmt.Sscanf(k, "%d", &code); err != nil {
				return nil, fmt.Errorf("raster layer %s: invalid code %q", l.Name, k)
			}
			tuple := make(layer.Tuple, len(row))
			for i, v := range row {
				tuple[i] = layer.Canonical(v)
			}
			table[code] = tuple
		}
		columns := make([]string, len(l.Attributes))
		for i, a := range l.Attributes {
			columns[i] = a.output()
		}
		opts = append(opts, layer.WithAttributeTable(columns, table))
	}
	return layer.NewRasterLayer(l.Path, opts...), nil
}

func (l Layer) feature() (layer.FeatureLayer, error) {
	attrs := make([]layer.Attribute, len(l.Attributes))
	for i, a := range l.Attributes {
		attr, err := a.attribute()
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		attrs[i] = attr
	}
	var opts []layer.VectorOption
	if l.Raw {
		opts = append(opts, layer.Raw())
	}
	if l.NoData != nil {
		opts = append(opts, layer.VectorNoData(*l.NoData))
	}
	if l.DataType != engine.Unknown {
		opts = append(opts, layer.VectorDataType(l.DataType))
	}
	switch strings.ToLower(l.Type) {
	case "vector":
		v, err := layer.NewVectorLayer(l.Name, l.Path, attrs, opts...)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "geodatabase":
		g, err := layer.NewGeodatabaseLayer(l.Name, l.Path, l.SourceLayer, attrs, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, fmt.Errorf("layer %s: type %q is not a feature layer", l.Name, l.Type)
}

func (a Attribute) output() string {
	if a.DBName != "" {
		return a.DBName
	}
	return a.Name
}

func (a Attribute) attribute() (layer.Attribute, error) {
	attr := layer.Attribute{
		Name:          a.Name,
		DBName:        a.DBName,
		Substitutions: a.Substitutions,
	}
	if a.Filter != nil {
		p, err := a.Filter.predicate()
		if err != nil {
			return attr, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		attr.Filter = p
	}
	return attr, nil
}

func (f Filter) predicate() (layer.Predicate, error) {
	set := 0
	if f.Equals != nil {
		set++
	}
	if f.In != nil {
		set++
	}
	if f.Between != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("filter needs exactly one of equals, in, between")
	}
	switch {
	case f.Equals != nil:
		return layer.Equals(f.Equals), nil
	case f.In != nil:
		return layer.OneOf(f.In...), nil
	}
	if len(f.Between) != 2 || f.Between[0] > f.Between[1] {
		return nil, fmt.Errorf("between needs [lo, hi], got %v", f.Between)
	}
	return layer.Between(f.Between[0], f.Between[1]), nil
}

// Build instantiates the stack and its layers.
func (s Stack) Build(rules *transition.Manager) (layer.Stack, error) {
	st := layer.Stack{
		Name:               s.Name,
		RequestedPixelSize: s.PixelSize,
		DataType:           s.DataType,
		Years:              s.Years,
		StepsPerYear:       s.StepsPerYear,
	}
	for _, l := range s.Layers {
		built, err := l.Build(rules)
		if err != nil {
			return st, fmt.Errorf("stack %s: %w", s.Name, err)
		}
		st.Layers = append(st.Layers, built)
	}
	return st, nil
}
