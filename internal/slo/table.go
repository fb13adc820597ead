package slo

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Table is the read-only set of SLO definitions keyed by operation.
// A nil *Table behaves as an empty table.
type Table struct {
	defs   map[string]Definition
	keyOps []string
}

// NewTable builds a table from definitions. Later duplicates replace earlier
// ones. Operations flagged Key become the key operations in input order; if
// none are flagged every operation is a key operation.
func NewTable(defs []Definition) *Table {
	t := &Table{defs: make(map[string]Definition, len(defs))}

	var flagged []string
	for _, d := range defs {
		if _, seen := t.defs[d.Operation]; !seen && d.Key {
			flagged = append(flagged, d.Operation)
		}
		t.defs[d.Operation] = d
	}

	if len(flagged) > 0 {
		t.keyOps = flagged
	} else {
		t.keyOps = t.Operations()
	}
	return t
}

// Get returns the definition for an operation
func (t *Table) Get(operation string) (Definition, bool) {
	if t == nil {
		return Definition{}, false
	}
	d, ok := t.defs[operation]
	return d, ok
}

// Len returns the number of definitions
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.defs)
}

// Operations returns all defined operations, sorted
func (t *Table) Operations() []string {
	if t == nil {
		return nil
	}
	ops := make([]string, 0, len(t.defs))
	for op := range t.defs {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// KeyOperations returns a copy of the key operations list
func (t *Table) KeyOperations() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keyOps))
	copy(out, t.keyOps)
	return out
}

// Definitions returns all definitions sorted by operation
func (t *Table) Definitions() []Definition {
	ops := t.Operations()
	out := make([]Definition, 0, len(ops))
	for _, op := range ops {
		out = append(out, t.defs[op])
	}
	return out
}

// DisplayName resolves the human-readable name of an operation, falling back
// to a title-cased form of the identifier.
func (t *Table) DisplayName(operation string) string {
	if d, ok := t.Get(operation); ok && d.DisplayName != "" {
		return d.DisplayName
	}
	return TitleCase(operation)
}

// TitleCase turns "checkin_query" into "Checkin Query"
func TitleCase(operation string) string {
	words := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(operation)
	return cases.Title(language.English).String(strings.Join(strings.Fields(words), " "))
}
