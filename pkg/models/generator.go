package models

import (
	"strings"
	"time"
)

// GeneratorType identifies a generation algorithm
type GeneratorType string

const (
	GeneratorTypeCopula      GeneratorType = "copula"
	GeneratorTypeAdversarial GeneratorType = "adversarial"
	GeneratorTypeVariational GeneratorType = "variational"
)

var generatorAliases = map[string]GeneratorType{
	"":            GeneratorTypeCopula,
	"copula":      GeneratorTypeCopula,
	"gaussian":    GeneratorTypeCopula,
	"adversarial": GeneratorTypeAdversarial,
	"ctgan":       GeneratorTypeAdversarial,
	"variational": GeneratorTypeVariational,
	"tvae":        GeneratorTypeVariational,
}

// ParseGeneratorType resolves a generator name or alias
func ParseGeneratorType(name string) (GeneratorType, bool) {
	t, ok := generatorAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// AllGeneratorTypes lists the supported generators
func AllGeneratorTypes() []GeneratorType {
	return []GeneratorType{GeneratorTypeCopula, GeneratorTypeAdversarial, GeneratorTypeVariational}
}

// EpochStats reports the state of one training epoch
type EpochStats struct {
	RunID           string             `json:"run_id,omitempty"`
	Generator       GeneratorType      `json:"generator"`
	Epoch           int                `json:"epoch"`
	Losses          map[string]float64 `json:"losses"`
	NoiseMultiplier float64            `json:"noise_multiplier,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// SynthesisRun is the persisted record of one fit/generate/evaluate cycle
type SynthesisRun struct {
	ID            string        `json:"id"`
	Generator     GeneratorType `json:"generator"`
	Epsilon       *float64      `json:"epsilon,omitempty"`
	Delta         float64       `json:"delta"`
	Seed          int64         `json:"seed"`
	SourceRows    int           `json:"source_rows"`
	GeneratedRows int           `json:"generated_rows"`
	Columns       []string      `json:"columns"`
	Quality       QualityReport `json:"quality,omitempty"`
	Privacy       PrivacyReport `json:"privacy,omitempty"`
	FitDuration   time.Duration `json:"fit_duration"`
	CreatedAt     time.Time     `json:"created_at"`
}
