package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeneratorType(t *testing.T) {
	tests := []struct {
		name string
		want GeneratorType
		ok   bool
	}{
		{"", GeneratorTypeCopula, true},
		{"Gaussian", GeneratorTypeCopula, true},
		{" ctgan ", GeneratorTypeAdversarial, true},
		{"tvae", GeneratorTypeVariational, true},
		{"diffusion", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseGeneratorType(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrivacyBudget(t *testing.T) {
	var nilBudget *PrivacyBudget
	assert.True(t, nilBudget.NoNoise())
	assert.True(t, NewPrivacyBudget(math.Inf(1), 1e-5).NoNoise())

	b := NewPrivacyBudget(2, 1e-5)
	assert.False(t, b.NoNoise())
	assert.Equal(t, &PrivacyBudget{Epsilon: 0.5, Delta: 2.5e-6}, b.Split(4))
	assert.Same(t, b, b.Split(1))
	assert.InDelta(t, 0.2, b.Fraction(0.1).Epsilon, 1e-12)
	assert.Nil(t, nilBudget.Split(3))
}

func TestTableValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   *Table
		wantErr string
	}{
		{"valid", NewTable(NewFloatColumn("a", []float64{1, 2}), NewStringColumn("b", []string{"x", "y"})), ""},
		{"no columns", NewTable(), "no columns"},
		{"empty name", NewTable(NewFloatColumn("", []float64{1})), "cannot be empty"},
		{"duplicate", NewTable(NewFloatColumn("a", []float64{1}), NewFloatColumn("a", []float64{2})), "duplicate"},
		{"ragged", NewTable(NewFloatColumn("a", []float64{1, 2}), NewStringColumn("b", []string{"x"})), "expected 2"},
		{"nan", NewTable(NewFloatColumn("a", []float64{math.NaN()})), "non-finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTableTakeAndSlice(t *testing.T) {
	table := NewTable(
		NewFloatColumn("a", []float64{1, 2.5, 3}),
		NewStringColumn("b", []string{"x", "y", "z"}),
	)

	taken := table.Take([]int{2, 0})
	assert.Equal(t, []float64{3, 1}, taken.Columns[0].Floats)
	assert.Equal(t, []string{"z", "x"}, taken.Columns[1].Strings)

	sliced := table.Slice(1, 3)
	assert.Equal(t, 2, sliced.NumRows())
	assert.Equal(t, []string{"2.5", "y"}, sliced.Row(0))

	sliced.Columns[0].Floats[0] = 99
	assert.Equal(t, 2.5, table.Columns[0].Floats[1])

	assert.True(t, table.Equal(table.Slice(0, 3)))
	assert.False(t, table.Equal(sliced))

	empty := table.Empty()
	assert.Equal(t, 0, empty.NumRows())
	assert.Equal(t, []string{"a", "b"}, empty.ColumnNames())
}

func TestReportKeysSorted(t *testing.T) {
	r := QualityReport{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}
