package config

// Quantizer limits, matching the codec's legal range
const (
	MinQI = 0
	MaxQI = 127
)

// Per-frame trial limits
const (
	MinTrials = 1
	MaxTrials = 32
)

// MaxTolerance bounds the first-trial score margin.
const MaxTolerance = 0.05

// ClampQI ensures a quantizer index is within valid bounds.
func ClampQI(qi int) int {
	if qi < MinQI {
		return MinQI
	}
	if qi > MaxQI {
		return MaxQI
	}
	return qi
}

// ClampTrials ensures the trial cap is within valid bounds.
func ClampTrials(n int) int {
	if n < MinTrials {
		return MinTrials
	}
	if n > MaxTrials {
		return MaxTrials
	}
	return n
}

// ValidLogLevels contains the accepted log level names.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultLogLevel is used when none or an invalid one is configured.
const DefaultLogLevel = "info"

// IsValidLogLevel returns true if the level name is valid.
func IsValidLogLevel(level string) bool {
	for _, valid := range ValidLogLevels {
		if level == valid {
			return true
		}
	}
	return false
}

// ValidateLogLevel returns the level if valid, or the default if invalid.
func ValidateLogLevel(level string) string {
	if IsValidLogLevel(level) {
		return level
	}
	return DefaultLogLevel
}
