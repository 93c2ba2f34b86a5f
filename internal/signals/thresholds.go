package signals

import "time"

// RiskLevel is the three-level crash risk classification.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// rank orders risk levels for monotonicity comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskDanger:
		return 2
	case RiskWarning:
		return 1
	default:
		return 0
	}
}

// Exceeds reports whether r is at or above other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// Zone holds one threshold set. A signal exceeds the zone when it is
// strictly greater than the corresponding field.
type Zone struct {
	ContextUsage         float64       `yaml:"context_usage"`
	MessageCount         int           `yaml:"message_count"`
	SessionDuration      time.Duration `yaml:"session_duration"`
	CallsSinceCheckpoint int           `yaml:"calls_since_checkpoint"`
	FailureRate          float64       `yaml:"failure_rate"`
}

// Thresholds pairs the warning and danger zones.
type Thresholds struct {
	Warning Zone `yaml:"warning"`
	Danger  Zone `yaml:"danger"`
}

// DefaultThresholds returns the built-in warning and danger zones.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning: Zone{
			ContextUsage:         0.50,
			MessageCount:         30,
			SessionDuration:      60 * time.Minute,
			CallsSinceCheckpoint: 15,
			FailureRate:          0.20,
		},
		Danger: Zone{
			ContextUsage:         0.75,
			MessageCount:         50,
			SessionDuration:      120 * time.Minute,
			CallsSinceCheckpoint: 25,
			FailureRate:          0.40,
		},
	}
}

// exceeded counts how many thresholds of the zone the snapshot exceeds.
func (z Zone) exceeded(s SignalSnapshot) int {
	n := 0
	if s.ContextWindowUsage > z.ContextUsage {
		n++
	}
	if s.MessageCount > z.MessageCount {
		n++
	}
	if s.SessionDuration > z.SessionDuration {
		n++
	}
	if s.ToolCallsSinceCheckpoint > z.CallsSinceCheckpoint {
		n++
	}
	if s.ToolFailureRate > z.FailureRate {
		n++
	}
	return n
}

// classify applies the two-tier counting rule: two danger signals escalate
// to danger, a single danger signal or three warning signals to warning.
func (t Thresholds) classify(s SignalSnapshot) RiskLevel {
	dangerCount := t.Danger.exceeded(s)
	warningCount := t.Warning.exceeded(s)

	switch {
	case dangerCount >= 2:
		return RiskDanger
	case dangerCount >= 1 || warningCount >= 3:
		return RiskWarning
	default:
		return RiskSafe
	}
}
