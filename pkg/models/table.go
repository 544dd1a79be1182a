package models

import (
	"fmt"
	"math"
	"strconv"
)

// ColumnType is the physical storage type of a column
type ColumnType string

const (
	ColumnTypeFloat  ColumnType = "float"
	ColumnTypeString ColumnType = "string"
)

// Column is a named, single-typed sequence of values. Exactly one of
// Floats or Strings is populated, according to Type.
type Column struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Floats  []float64  `json:"floats,omitempty"`
	Strings []string   `json:"strings,omitempty"`
}

// NewFloatColumn creates a numeric column
func NewFloatColumn(name string, values []float64) Column {
	return Column{Name: name, Type: ColumnTypeFloat, Floats: values}
}

// NewStringColumn creates a string column
func NewStringColumn(name string, values []string) Column {
	return Column{Name: name, Type: ColumnTypeString, Strings: values}
}

// Len returns the number of values in the column
func (c *Column) Len() int {
	if c.Type == ColumnTypeFloat {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// Key returns the categorical key of the i-th value. Floats use the shortest
// representation that parses back to the identical float64.
func (c *Column) Key(i int) string {
	if c.Type == ColumnTypeFloat {
		return FormatFloatKey(c.Floats[i])
	}
	return c.Strings[i]
}

// FormatFloatKey formats a float as an exact categorical key
func FormatFloatKey(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Table is an ordered set of equally long columns
type Table struct {
	Columns []Column `json:"columns"`
}

// NewTable creates a table from columns
func NewTable(columns ...Column) *Table {
	return &Table{Columns: columns}
}

// NumRows returns the row count
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumColumns returns the column count
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// ColumnNames returns the column names in order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate checks that column names are unique and non-empty, lengths match
// and numeric values are finite.
func (t *Table) Validate() error {
	if t == nil || len(t.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}

	seen := make(map[string]struct{}, len(t.Columns))
	rows := t.Columns[0].Len()
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("column name cannot be empty")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		switch c.Type {
		case ColumnTypeFloat:
			for i, v := range c.Floats {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("column %q has non-finite value at row %d", c.Name, i)
				}
			}
		case ColumnTypeString:
		default:
			return fmt.Errorf("column %q has unknown type %q", c.Name, c.Type)
		}

		if c.Len() != rows {
			return fmt.Errorf("column %q has %d rows, expected %d", c.Name, c.Len(), rows)
		}
	}
	return nil
}

// Row returns the i-th row as strings, in column order
func (t *Table) Row(i int) []string {
	row := make([]string, len(t.Columns))
	for j := range t.Columns {
		row[j] = t.Columns[j].Key(i)
	}
	return row
}

// Empty returns a table with the same columns and no rows
func (t *Table) Empty() *Table {
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = Column{Name: c.Name, Type: c.Type}
		if c.Type == ColumnTypeFloat {
			cols[i].Floats = []float64{}
		} else {
			cols[i].Strings = []string{}
		}
	}
	return &Table{Columns: cols}
}

// Take returns a new table holding the given rows in the given order
func (t *Table) Take(indices []int) *Table {
	cols := make([]Column, len(t.Columns))
	for j, c := range t.Columns {
		cols[j] = Column{Name: c.Name, Type: c.Type}
		if c.Type == ColumnTypeFloat {
			vals := make([]float64, len(indices))
			for k, idx := range indices {
				vals[k] = c.Floats[idx]
			}
			cols[j].Floats = vals
		} else {
			vals := make([]string, len(indices))
			for k, idx := range indices {
				vals[k] = c.Strings[idx]
			}
			cols[j].Strings = vals
		}
	}
	return &Table{Columns: cols}
}

// Slice returns rows [start, end) as a new table sharing no storage with t
func (t *Table) Slice(start, end int) *Table {
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	return t.Take(idx)
}

// Equal reports whether two tables hold identical columns and values
func (t *Table) Equal(other *Table) bool {
	if t.NumColumns() != other.NumColumns() || t.NumRows() != other.NumRows() {
		return false
	}
	for j := range t.Columns {
		a, b := &t.Columns[j], &other.Columns[j]
		if a.Name != b.Name || a.Type != b.Type {
			return false
		}
		if a.Type == ColumnTypeFloat {
			for i := range a.Floats {
				if a.Floats[i] != b.Floats[i] {
					return false
				}
			}
		} else {
			for i := range a.Strings {
				if a.Strings[i] != b.Strings[i] {
					return false
				}
			}
		}
	}
	return true
}
