// Package config loads and resolves a RunConfig: the single object the
// orchestrator binds through every stage of a run (spec section 3,
// "RunConfig"). Resolution layers command-line overrides over environment
// variables over a YAML file over built-in defaults (spec section 4.7,
// "Config precedence, fixed") and records, for every touched field, which
// layer supplied its final value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DistributionModel names one of the C1 model families.
type DistributionModel string

const (
	DistLaplace  DistributionModel = "laplace"
	DistStudentT DistributionModel = "student_t"
	DistNormal   DistributionModel = "normal"
	DistGarchT   DistributionModel = "garch_t"
)

// OptionSpecConfig is the YAML-facing shape of an OptionSpec (spec section 3).
type OptionSpecConfig struct {
	Type                    string  `yaml:"type"`
	Strike                  float64 `yaml:"strike"`
	MaturityDays            int     `yaml:"maturity_days"`
	IV                      float64 `yaml:"iv"`
	RiskFreeRate            float64 `yaml:"risk_free_rate"`
	Contracts               int     `yaml:"contracts"`
	TickSize                float64 `yaml:"tick_size"`
	StaleQuoteMaxAgeMinutes int     `yaml:"stale_quote_max_age_minutes"`
}

// ResourceLimits bounds memory/CPU usage (spec sections 4.2, 4.8, 5, 6).
type ResourceLimits struct {
	MaxWorkers     int  `yaml:"max_workers"`
	MemThresholdMB int  `yaml:"mem_threshold_mb"`
	Persistent     bool `yaml:"persistent"`
}

// SelectorConfig parametrizes C5.
type SelectorConfig struct {
	Name        string `yaml:"name"`
	TopN        int    `yaml:"top_n"`
	MinEpisodes int    `yaml:"min_episodes"`
	Horizon     int    `yaml:"horizon"`
}

// ScoringWeights are the composite-objective weights used by C8 (spec 4.8).
type ScoringWeights struct {
	PnL      float64 `yaml:"w_pnl"`
	Sharpe   float64 `yaml:"w_sharpe"`
	Drawdown float64 `yaml:"w_dd"`
	CVaR     float64 `yaml:"w_cvar"`
}

// DefaultScoringWeights returns the fixed defaults from spec section 4.8.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{PnL: 0.30, Sharpe: 0.30, Drawdown: 0.20, CVaR: 0.20}
}

// GridConfig parametrizes C8: the parameter grid and ranking weights.
type GridConfig struct {
	ParamGrid   map[string][]float64 `yaml:"param_grid"`
	Weights     ScoringWeights       `yaml:"weights"`
	WalkForward bool                 `yaml:"walk_forward"`
}

// StrategyParams selects and parametrizes a C4 strategy.
type StrategyParams struct {
	Name   string             `yaml:"name"`
	Kind   string             `yaml:"kind"` // "stock" | "option"
	Params map[string]float64 `yaml:"params"`
}

// RunConfig is the full effective configuration bound through a run (spec
// section 3, "RunConfig").
type RunConfig struct {
	Command           string            `yaml:"command"`
	Symbol            string            `yaml:"symbol"`
	S0                float64           `yaml:"s0"`
	NPaths            int               `yaml:"n_paths"`
	NSteps            int               `yaml:"n_steps"`
	Seed              int64             `yaml:"seed"`
	DistributionModel DistributionModel `yaml:"distribution_model"`
	DataSource        string            `yaml:"data_source"`
	Selector          *SelectorConfig   `yaml:"selector,omitempty"`
	Grid              *GridConfig       `yaml:"grid,omitempty"`
	ResourceLimits    ResourceLimits    `yaml:"resource_limits"`
	StrategyParams    StrategyParams    `yaml:"strategy_params"`
	OptionSpec        *OptionSpecConfig `yaml:"option_spec,omitempty"`
	AllowTransform    bool              `yaml:"allow_transform"`
	FallbackToDefault bool              `yaml:"fallback_to_default"`
	FallbackModel     DistributionModel `yaml:"fallback_model,omitempty"`
	ConditionalMethod string            `yaml:"conditional_method,omitempty"` // "bootstrap" | "parametric"
	DistanceThreshold float64           `yaml:"distance_threshold,omitempty"`
	MinMatch          int               `yaml:"min_match,omitempty"`
	DriftOverride     bool              `yaml:"drift_override,omitempty"`
	OutputDir         string            `yaml:"output_dir,omitempty"`
	Logging           LoggingConfig     `yaml:"logging"`
}

// LoggingConfig mirrors internal/logging.Config in the YAML surface.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	LogDir string `yaml:"log_dir"`
}

// Default returns the built-in defaults (precedence floor).
func Default() *RunConfig {
	return &RunConfig{
		Command:           "compare",
		S0:                100.0,
		NPaths:            1000,
		NSteps:            60,
		Seed:              1,
		DistributionModel: DistLaplace,
		DataSource:        "csv",
		ResourceLimits: ResourceLimits{
			MaxWorkers:     6,
			MemThresholdMB: 2048,
			Persistent:     false,
		},
		StrategyParams: StrategyParams{
			Name:   "dual_sma",
			Kind:   "stock",
			Params: map[string]float64{"fast": 10, "slow": 30},
		},
		AllowTransform:    false,
		FallbackToDefault: false,
		ConditionalMethod: "bootstrap",
		DistanceThreshold: 2.0,
		MinMatch:          10,
		OutputDir:         "runs",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Source identifies which precedence layer supplied a field's final value.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FieldProvenance records the source of one resolved field.
type FieldProvenance struct {
	Field  string
	Value  interface{}
	Source Source
}

// Resolved is the outcome of layering file/env/flag overrides onto the
// built-in defaults, with full per-field provenance for RunMetadata (spec
// section 4.7: "The resolved effective config, the precedence source of
// each field, and the defaults applied are recorded in RunMetadata.").
type Resolved struct {
	Config     *RunConfig
	Provenance []FieldProvenance
}

// Overrides are CLI-level "--set field=value" pairs, flag being the highest
// precedence layer.
type Overrides map[string]string

// envVar maps a RunConfig field name to its QSCENARIO_* environment
// variable, for the small fixed set spec section 6 allows overriding.
var envVar = map[string]string{
	"seed":               "QSCENARIO_SEED",
	"n_paths":            "QSCENARIO_N_PATHS",
	"n_steps":            "QSCENARIO_N_STEPS",
	"max_workers":        "QSCENARIO_MAX_WORKERS",
	"mem_threshold_mb":   "QSCENARIO_MEM_THRESHOLD_MB",
	"persistent":         "QSCENARIO_PERSISTENT",
	"distribution_model": "QSCENARIO_DISTRIBUTION_MODEL",
}

// Resolve loads filename (if non-empty), then layers environment variables,
// then layers flagOverrides, onto Default(), in that fixed precedence order
// (flag > env > file > default).
func Resolve(filename string, flagOverrides Overrides) (*Resolved, error) {
	cfg := Default()
	prov := map[string]FieldProvenance{}
	recordDefaults(cfg, prov)

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		var fileCfg RunConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
		mergeFile(cfg, &fileCfg, prov)
	}

	applyEnv(cfg, prov)
	applyOverrides(cfg, flagOverrides, prov)

	out := make([]FieldProvenance, 0, len(prov))
	for _, p := range prov {
		out = append(out, p)
	}
	return &Resolved{Config: cfg, Provenance: out}, nil
}

func recordDefaults(cfg *RunConfig, prov map[string]FieldProvenance) {
	prov["seed"] = FieldProvenance{"seed", cfg.Seed, SourceDefault}
	prov["n_paths"] = FieldProvenance{"n_paths", cfg.NPaths, SourceDefault}
	prov["n_steps"] = FieldProvenance{"n_steps", cfg.NSteps, SourceDefault}
	prov["max_workers"] = FieldProvenance{"max_workers", cfg.ResourceLimits.MaxWorkers, SourceDefault}
	prov["mem_threshold_mb"] = FieldProvenance{"mem_threshold_mb", cfg.ResourceLimits.MemThresholdMB, SourceDefault}
	prov["persistent"] = FieldProvenance{"persistent", cfg.ResourceLimits.Persistent, SourceDefault}
	prov["distribution_model"] = FieldProvenance{"distribution_model", cfg.DistributionModel, SourceDefault}
}

// mergeFile overlays non-zero fields from fileCfg onto cfg, recording
// provenance for anything the file actually set.
func mergeFile(cfg *RunConfig, fileCfg *RunConfig, prov map[string]FieldProvenance) {
	if fileCfg.Command != "" {
		cfg.Command = fileCfg.Command
	}
	if fileCfg.Symbol != "" {
		cfg.Symbol = fileCfg.Symbol
	}
	if fileCfg.S0 != 0 {
		cfg.S0 = fileCfg.S0
	}
	if fileCfg.NPaths != 0 {
		cfg.NPaths = fileCfg.NPaths
		prov["n_paths"] = FieldProvenance{"n_paths", cfg.NPaths, SourceFile}
	}
	if fileCfg.NSteps != 0 {
		cfg.NSteps = fileCfg.NSteps
		prov["n_steps"] = FieldProvenance{"n_steps", cfg.NSteps, SourceFile}
	}
	if fileCfg.Seed != 0 {
		cfg.Seed = fileCfg.Seed
		prov["seed"] = FieldProvenance{"seed", cfg.Seed, SourceFile}
	}
	if fileCfg.DistributionModel != "" {
		cfg.DistributionModel = fileCfg.DistributionModel
		prov["distribution_model"] = FieldProvenance{"distribution_model", cfg.DistributionModel, SourceFile}
	}
	if fileCfg.DataSource != "" {
		cfg.DataSource = fileCfg.DataSource
	}
	if fileCfg.Selector != nil {
		cfg.Selector = fileCfg.Selector
	}
	if fileCfg.Grid != nil {
		cfg.Grid = fileCfg.Grid
	}
	if fileCfg.ResourceLimits.MaxWorkers != 0 {
		cfg.ResourceLimits.MaxWorkers = fileCfg.ResourceLimits.MaxWorkers
		prov["max_workers"] = FieldProvenance{"max_workers", cfg.ResourceLimits.MaxWorkers, SourceFile}
	}
	if fileCfg.ResourceLimits.MemThresholdMB != 0 {
		cfg.ResourceLimits.MemThresholdMB = fileCfg.ResourceLimits.MemThresholdMB
		prov["mem_threshold_mb"] = FieldProvenance{"mem_threshold_mb", cfg.ResourceLimits.MemThresholdMB, SourceFile}
	}
	if fileCfg.ResourceLimits.Persistent {
		cfg.ResourceLimits.Persistent = true
		prov["persistent"] = FieldProvenance{"persistent", cfg.ResourceLimits.Persistent, SourceFile}
	}
	if fileCfg.StrategyParams.Name != "" {
		cfg.StrategyParams = fileCfg.StrategyParams
	}
	if fileCfg.OptionSpec != nil {
		cfg.OptionSpec = fileCfg.OptionSpec
	}
	if fileCfg.AllowTransform {
		cfg.AllowTransform = true
	}
	if fileCfg.FallbackToDefault {
		cfg.FallbackToDefault = true
	}
	if fileCfg.FallbackModel != "" {
		cfg.FallbackModel = fileCfg.FallbackModel
	}
	if fileCfg.ConditionalMethod != "" {
		cfg.ConditionalMethod = fileCfg.ConditionalMethod
	}
	if fileCfg.DistanceThreshold != 0 {
		cfg.DistanceThreshold = fileCfg.DistanceThreshold
	}
	if fileCfg.MinMatch != 0 {
		cfg.MinMatch = fileCfg.MinMatch
	}
	if fileCfg.DriftOverride {
		cfg.DriftOverride = true
	}
	if fileCfg.OutputDir != "" {
		cfg.OutputDir = fileCfg.OutputDir
	}
	if fileCfg.Logging.Level != "" {
		cfg.Logging = fileCfg.Logging
	}
}

func applyEnv(cfg *RunConfig, prov map[string]FieldProvenance) {
	if v, ok := lookupEnv("seed"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = n
			prov["seed"] = FieldProvenance{"seed", cfg.Seed, SourceEnv}
		}
	}
	if v, ok := lookupEnv("n_paths"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NPaths = n
			prov["n_paths"] = FieldProvenance{"n_paths", cfg.NPaths, SourceEnv}
		}
	}
	if v, ok := lookupEnv("n_steps"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NSteps = n
			prov["n_steps"] = FieldProvenance{"n_steps", cfg.NSteps, SourceEnv}
		}
	}
	if v, ok := lookupEnv("max_workers"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResourceLimits.MaxWorkers = n
			prov["max_workers"] = FieldProvenance{"max_workers", n, SourceEnv}
		}
	}
	if v, ok := lookupEnv("mem_threshold_mb"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ResourceLimits.MemThresholdMB = n
			prov["mem_threshold_mb"] = FieldProvenance{"mem_threshold_mb", n, SourceEnv}
		}
	}
	if v, ok := lookupEnv("persistent"); ok {
		b := strings.EqualFold(v, "true") || v == "1"
		cfg.ResourceLimits.Persistent = b
		prov["persistent"] = FieldProvenance{"persistent", b, SourceEnv}
	}
	if v, ok := lookupEnv("distribution_model"); ok {
		cfg.DistributionModel = DistributionModel(v)
		prov["distribution_model"] = FieldProvenance{"distribution_model", v, SourceEnv}
	}
}

func lookupEnv(field string) (string, bool) {
	name, ok := envVar[field]
	if !ok {
		return "", false
	}
	v, ok := os.LookupEnv(name)
	return v, ok && v != ""
}

// applyOverrides applies "--set field=value" CLI pairs, the highest
// precedence layer.
func applyOverrides(cfg *RunConfig, overrides Overrides, prov map[string]FieldProvenance) {
	for field, value := range overrides {
		switch field {
		case "seed":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cfg.Seed = n
				prov["seed"] = FieldProvenance{"seed", n, SourceFlag}
			}
		case "n_paths":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.NPaths = n
				prov["n_paths"] = FieldProvenance{"n_paths", n, SourceFlag}
			}
		case "n_steps":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.NSteps = n
				prov["n_steps"] = FieldProvenance{"n_steps", n, SourceFlag}
			}
		case "max_workers":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.ResourceLimits.MaxWorkers = n
				prov["max_workers"] = FieldProvenance{"max_workers", n, SourceFlag}
			}
		case "mem_threshold_mb":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.ResourceLimits.MemThresholdMB = n
				prov["mem_threshold_mb"] = FieldProvenance{"mem_threshold_mb", n, SourceFlag}
			}
		case "persistent":
			b := strings.EqualFold(value, "true") || value == "1"
			cfg.ResourceLimits.Persistent = b
			prov["persistent"] = FieldProvenance{"persistent", b, SourceFlag}
		case "distribution_model":
			cfg.DistributionModel = DistributionModel(value)
			prov["distribution_model"] = FieldProvenance{"distribution_model", value, SourceFlag}
		case "symbol":
			cfg.Symbol = value
		case "data_source":
			cfg.DataSource = value
		case "s0":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.S0 = f
			}
		case "conditional_method":
			cfg.ConditionalMethod = value
		case "drift_override":
			cfg.DriftOverride = strings.EqualFold(value, "true") || value == "1"
		}
	}
}

// ParseOverrides turns repeated "key=value" CLI arguments into Overrides.
func ParseOverrides(raw []string) (Overrides, error) {
	out := Overrides{}
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: invalid override %q, expected key=value", kv)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
