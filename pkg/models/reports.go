package models

import "sort"

// Quality report keys
const (
	MetricStatisticalSimilarity = "statistical_similarity"
	MetricCorrelationSimilarity = "correlation_similarity"
	MetricNumericalSimilarity   = "numerical_similarity"
	MetricCategoricalSimilarity = "categorical_similarity"
	MetricKSPrefix              = "ks_similarity."
	MetricTVPrefix              = "tv_similarity."
)

// Privacy report keys
const (
	MetricDCRMean        = "dcr_mean"
	MetricDCRMin         = "dcr_min"
	MetricDCRP05         = "dcr_p05"
	MetricDCRMedian      = "dcr_median"
	MetricNNDRMean       = "nndr_mean"
	MetricMembershipRisk = "membership_risk"
	MetricExactMatchRate = "exact_match_rate"
)

// QualityReport maps metric names to scores in [0,1], 1 meaning indistinguishable
type QualityReport map[string]float64

// PrivacyReport maps metric names to raw privacy statistics
type PrivacyReport map[string]float64

// Keys returns the report keys sorted
func (r QualityReport) Keys() []string {
	return sortedKeys(r)
}

// Keys returns the report keys sorted
func (r PrivacyReport) Keys() []string {
	return sortedKeys(r)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluationReport is the combined result dump of a synthesis run
type EvaluationReport struct {
	RunID   string        `json:"run_id,omitempty"`
	Quality QualityReport `json:"quality"`
	Privacy PrivacyReport `json:"privacy"`
}
