// Package config holds the tunables shared by the solver and sensitivity
// packages — tolerances and iteration caps that would otherwise
// be scattered magic numbers, centralized behind GetConfig/SetConfig so a
// caller can override them for a single run without reaching into package
// internals elsewhere.
package config

// Config holds curve-calibration and sensitivity parameters.
type Config struct {
	// Tolerance is the solver's stop criterion on the objective f = x^T W x.
	Tolerance float64

	// MaxIterations caps the solver's iteration loop.
	MaxIterations int

	// InitialLambda seeds the Levenberg-Marquardt damping parameter.
	InitialLambda float64

	// SensitivityBump is the central-difference step ds applied to each
	// quote when computing quote-basis risk.
	SensitivityBump float64

	// MinDiscountFactor is carried in the configuration but no package
	// reads it: discount factors are not floored, and the log of a
	// non-positive one returns a dual.DomainError.
	MinDiscountFactor float64

	// DayCountDenominator records the ACT/365 divisor (365.0). No package
	// reads it; utils.YearFraction divides by 365 directly.
	DayCountDenominator float64
}

// DefaultConfig matches the calibration engine's literal defaults:
// tol = 1e-10, max_iter = 2000, lambda0 = 1000, ds = 1e-2.
var DefaultConfig = Config{
	Tolerance:           1e-10,
	MaxIterations:       2000,
	InitialLambda:       1000,
	SensitivityBump:     1e-2,
	MinDiscountFactor:   1e-9,
	DayCountDenominator: 365.0,
}

// cfg is the active configuration. Defaults to DefaultConfig.
var cfg = DefaultConfig

// SetConfig replaces the active configuration.
func SetConfig(c Config) {
	cfg = c
}

// GetConfig returns the active configuration.
func GetConfig() Config {
	return cfg
}
