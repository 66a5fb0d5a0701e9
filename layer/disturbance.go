package layer

import (
	"context"
	"fmt"

	"github.com/airbusgeo/blktiler/transition"
)

// TransitionRule configures the post-disturbance transition interned for every pixel code
// of a DisturbanceLayer.
type TransitionRule struct {
	RegenDelay Value
	AgeAfter   Value
	// Classifiers are output columns of the decorated layer copied into the rule.
	Classifiers []string
}

// DisturbanceLayer decorates a feature layer with a disturbance year and type, and
// optionally a transition rule ID.
type DisturbanceLayer struct {
	rules           *transition.Manager
	source          FeatureLayer
	year            Value
	disturbanceType Value
	transition      *TransitionRule
}

func NewDisturbanceLayer(rules *transition.Manager, source FeatureLayer, year, disturbanceType Value, tr *TransitionRule) (*DisturbanceLayer, error) {
	if source == nil {
		return nil, fmt.Errorf("disturbance layer: source layer required")
	}
	if !year.IsSet() || !disturbanceType.IsSet() {
		return nil, fmt.Errorf("disturbance layer %s: year and disturbance type required", source.Name())
	}
	if tr != nil && rules == nil {
		return nil, fmt.Errorf("disturbance layer %s: transition rule without a rule manager", source.Name())
	}
	d := &DisturbanceLayer{
		rules:           rules,
		source:          source,
		year:            year,
		disturbanceType: disturbanceType,
	}
	if tr != nil {
		c := *tr
		c.Classifiers = append([]string(nil), tr.Classifiers...)
		d.transition = &c
	}
	return d, nil
}

func (d *DisturbanceLayer) Name() string { return d.source.Name() }
func (d *DisturbanceLayer) Path() string { return d.source.Path() }

func (d *DisturbanceLayer) Attributes() []string {
	attrs := []string{"year", "disturbance_type"}
	if d.transition != nil {
		attrs = append(attrs, "transition")
	}
	return attrs
}

// AttributeTable is only known after normalization, on the returned snapshot.
func (d *DisturbanceLayer) AttributeTable() AttributeTable { return nil }

// NormalizeTo normalizes the decorated layer, then rewrites its attribute table into
// (year, disturbance_type[, transition]) tuples.
func (d *DisturbanceLayer) NormalizeTo(ctx context.Context, ws *Workspace, t Target) (*RasterLayer, error) {
	raster, err := d.source.NormalizeTo(ctx, ws, t)
	if err != nil {
		return nil, err
	}
	table, err := d.buildTable(raster.Attributes(), raster.AttributeTable())
	if err != nil {
		return nil, fmt.Errorf("disturbance layer %s: %w", d.Name(), err)
	}
	out := *raster
	out.attrs = d.Attributes()
	out.table = table
	return &out, nil
}

func (d *DisturbanceLayer) buildTable(columns []string, src AttributeTable) (AttributeTable, error) {
	table := make(AttributeTable, len(src))
	for _, code := range src.Codes() {
		tuple := src[code]
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if i < len(tuple) {
				row[c] = tuple[i]
			}
		}
		year, err := d.year.resolve(row)
		if err != nil {
			return nil, fmt.Errorf("year: %w", err)
		}
		dist, err := d.disturbanceType.resolve(row)
		if err != nil {
			return nil, fmt.Errorf("disturbance type: %w", err)
		}
		out := Tuple{year, dist}
		if d.transition != nil {
			id, err := d.transitionID(row)
			if err != nil {
				return nil, err
			}
			out = append(out, int64(id))
		}
		table[code] = out
	}
	return table, nil
}

func (d *DisturbanceLayer) transitionID(row map[string]any) (int, error) {
	regen, err := d.transition.RegenDelay.resolve(row)
	if err != nil {
		return 0, fmt.Errorf("regen delay: %w", err)
	}
	age, err := d.transition.AgeAfter.resolve(row)
	if err != nil {
		return 0, fmt.Errorf("age after: %w", err)
	}
	classifiers := make(map[string]any, len(d.transition.Classifiers))
	for _, c := range d.transition.Classifiers {
		v, ok := row[c]
		if !ok {
			return 0, fmt.Errorf("unknown classifier %q", c)
		}
		classifiers[c] = v
	}
	return d.rules.GetOrAdd(regen, age, classifiers), nil
}
