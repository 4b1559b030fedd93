package model

// LevelThresholds buckets an aggregate score. Scores below SafeBelow are
// safe, below WarningBelow are warnings, everything else is danger.
type LevelThresholds struct {
	SafeBelow    int `yaml:"safe_below" json:"safe_below"`
	WarningBelow int `yaml:"warning_below" json:"warning_below"`
}

// DefaultLevelThresholds returns the fixed 30/70 bucketing.
func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{SafeBelow: 30, WarningBelow: 70}
}

// Level returns the risk level for score.
func (t LevelThresholds) Level(score int) RiskLevel {
	switch {
	case score < t.SafeBelow:
		return RiskSafe
	case score < t.WarningBelow:
		return RiskWarning
	default:
		return RiskDanger
	}
}
