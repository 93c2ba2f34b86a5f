package signals

import "time"

// Trigger names the cause that led to a checkpoint being created.
type Trigger string

const (
	TriggerToolCallInterval Trigger = "tool_call_interval"
	TriggerTimeInterval     Trigger = "time_interval"
	TriggerDangerZone       Trigger = "danger_zone"
	TriggerWarningZone      Trigger = "warning_zone"
	TriggerUserRequested    Trigger = "user_requested"
	TriggerSessionEnd       Trigger = "session_end"
)

// Elevated reports whether the trigger indicates the session was at risk
// when the checkpoint was taken.
func (t Trigger) Elevated() bool {
	return t == TriggerDangerZone || t == TriggerWarningZone
}

// TriggerPolicy maps session state to periodic checkpoint triggers.
type TriggerPolicy struct {
	ToolCallInterval int           `yaml:"tool_call_interval"`
	TimeInterval     time.Duration `yaml:"time_interval"`
}

// DefaultTriggerPolicy returns the built-in periodic trigger intervals.
func DefaultTriggerPolicy() TriggerPolicy {
	return TriggerPolicy{
		ToolCallInterval: 5,
		TimeInterval:     10 * time.Minute,
	}
}

// Decide evaluates whether a checkpoint should be taken now. Zone
// transitions fire at most once per entry: a danger trigger will not fire
// again until the risk level has returned to safe. When both periodic
// intervals are due the tool-call interval wins; both counters reset on
// any checkpoint anyway.
func (a *Aggregator) Decide(sessionID string) (Trigger, bool) {
	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := a.assessLocked(s)

	switch snap.CrashRisk {
	case RiskDanger:
		if s.alertLatch != RiskDanger {
			s.alertLatch = RiskDanger
			return TriggerDangerZone, true
		}
	case RiskWarning:
		if s.alertLatch == RiskSafe {
			s.alertLatch = RiskWarning
			return TriggerWarningZone, true
		}
	case RiskSafe:
		s.alertLatch = RiskSafe
	}

	if a.policy.ToolCallInterval > 0 && s.callsSinceCheckpoint >= a.policy.ToolCallInterval {
		return TriggerToolCallInterval, true
	}
	if a.policy.TimeInterval > 0 && a.now().Sub(s.lastCheckpointAt) >= a.policy.TimeInterval {
		return TriggerTimeInterval, true
	}

	return "", false
}
