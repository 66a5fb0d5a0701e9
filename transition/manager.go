// Package transition interns disturbance transition rules into a run-wide table of
// sequential IDs.
package transition

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/airbusgeo/blktiler/internal/canon"
)

// Rule is one interned transition rule.
type Rule struct {
	ID          int
	RegenDelay  any
	AgeAfter    any
	Classifiers map[string]any
}

// Manager assigns IDs to distinct rules, starting at 1, in first-seen order. Equal rules
// get the same ID whatever layer they come from. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	ids   map[string]int
	rules []Rule
}

func NewManager() *Manager {
	return &Manager{ids: make(map[string]int)}
}

// GetOrAdd returns the ID of the rule (regenDelay, ageAfter, classifiers), interning it
// if it was never seen. Values compare structurally: 0, int64(0) and 0.0 are equal.
func (m *Manager) GetOrAdd(regenDelay, ageAfter any, classifiers map[string]any) int {
	regenDelay, ageAfter = canon.Value(regenDelay), canon.Value(ageAfter)
	k := key(regenDelay, ageAfter, classifiers)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.ids[k]; ok {
		return id
	}
	id := len(m.rules) + 1
	cls := make(map[string]any, len(classifiers))
	for n, v := range classifiers {
		cls[n] = canon.Value(v)
	}
	m.rules = append(m.rules, Rule{ID: id, RegenDelay: regenDelay, AgeAfter: ageAfter, Classifiers: cls})
	m.ids[k] = id
	return id
}

// Len returns the number of interned rules.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rules)
}

// Rules returns a copy of the interned rules sorted by ID.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.rules...)
}

// Columns returns the union of classifier names over all rules, in first-seen order
// (by rule ID, then by name within a rule).
func (m *Manager) Columns() []string {
	var cols []string
	seen := map[string]bool{}
	for _, r := range m.Rules() {
		for _, n := range sortedNames(r.Classifiers) {
			if !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}
	return cols
}

// WriteRules writes the table as CSV. Rules lacking a classifier column get an empty field
// in that column. Nothing is written when no rule was interned.
func (m *Manager) WriteRules(w io.Writer) error {
	rules := m.Rules()
	if len(rules) == 0 {
		return nil
	}
	cols := m.Columns()
	cw := csv.NewWriter(w)
	header := append([]string{"id", "regen_delay", "age_after"}, cols...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rules {
		row := []string{strconv.Itoa(r.ID), format(r.RegenDelay), format(r.AgeAfter)}
		for _, c := range cols {
			v, ok := r.Classifiers[c]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, format(v))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write rule %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func key(regenDelay, ageAfter any, classifiers map[string]any) string {
	parts := []any{regenDelay, ageAfter}
	for _, n := range sortedNames(classifiers) {
		parts = append(parts, n, classifiers[n])
	}
	return canon.Key(parts...)
}

func format(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
