package models

// ColumnKind is the semantic kind every downstream component branches on
type ColumnKind string

const (
	KindNumerical   ColumnKind = "numerical"
	KindCategorical ColumnKind = "categorical"
)

// DistributionFamily is the parametric family that best fits a numeric column
type DistributionFamily string

const (
	FamilyNormal      DistributionFamily = "normal"
	FamilyUniform     DistributionFamily = "uniform"
	FamilyLogNormal   DistributionFamily = "lognormal"
	FamilyExponential DistributionFamily = "exponential"
)

// NumericDomain describes the observed range of a numerical column
type NumericDomain struct {
	Min     float64            `json:"min"`
	Max     float64            `json:"max"`
	Family  DistributionFamily `json:"family"`
	Integer bool               `json:"integer"`
}

// CategoricalDomain holds the ordered distinct categories of a column and
// their empirical frequencies (same order, summing to one).
type CategoricalDomain struct {
	Categories  []string  `json:"categories"`
	Frequencies []float64 `json:"frequencies"`
}

// Index returns the position of a category key, or -1
func (d *CategoricalDomain) Index(key string) int {
	for i, c := range d.Categories {
		if c == key {
			return i
		}
	}
	return -1
}

// ColumnSpec is the resolved, tagged description of one column
type ColumnSpec struct {
	Name        string             `json:"name"`
	Kind        ColumnKind         `json:"kind"`
	Type        ColumnType         `json:"type"`
	Numeric     *NumericDomain     `json:"numeric,omitempty"`
	Categorical *CategoricalDomain `json:"categorical,omitempty"`
}

// IsCategorical reports whether the column is categorical
func (s *ColumnSpec) IsCategorical() bool {
	return s.Kind == KindCategorical
}

// SpecNames returns the names of the specs in order
func SpecNames(specs []ColumnSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
