package signals

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// contextWindowBudget is the fixed token budget usage is estimated against.
	contextWindowBudget = 200_000

	// charsPerToken is the rough chars-to-tokens conversion used for the
	// context window estimate.
	charsPerToken = 4

	// latencyWindow bounds the rolling latency sample buffer.
	latencyWindow = 20
)

// LatencyTrend classifies the direction of recent tool-call latencies.
type LatencyTrend string

const (
	TrendStable     LatencyTrend = "stable"
	TrendIncreasing LatencyTrend = "increasing"
	TrendDecreasing LatencyTrend = "decreasing"
)

// EventKind distinguishes the observable event types.
type EventKind string

const (
	EventToolCall EventKind = "tool_call"
	EventMessage  EventKind = "message"
)

// Event is one observable sample reported by the host session.
type Event struct {
	Kind         EventKind
	Tool         string
	Success      bool
	Latency      time.Duration
	ContentChars int
	ErrorTag     string
}

// SignalSnapshot is the derived view of a session's counters. It is rebuilt
// on every Assess call and embedded into checkpoints at creation time.
type SignalSnapshot struct {
	ContextWindowUsage       float64       `json:"context_window_usage"`
	SessionDuration          time.Duration `json:"session_duration"`
	MessageCount             int           `json:"message_count"`
	ToolCallCount            int           `json:"tool_call_count"`
	ToolCallsSinceCheckpoint int           `json:"tool_calls_since_checkpoint"`
	MessagesPerMinute        float64       `json:"messages_per_minute"`
	ToolFailureRate          float64       `json:"tool_failure_rate"`
	ConsecutiveFailures      int           `json:"consecutive_failures"`
	TotalFailures            int           `json:"total_failures"`
	LatencyTrend             LatencyTrend  `json:"latency_trend"`
	CrashRisk                RiskLevel     `json:"crash_risk"`
}

// sessionCounters is the mutable per-session state. One instance per
// session id, guarded by its own mutex so sessions never contend.
type sessionCounters struct {
	mu                   sync.Mutex
	startedAt            time.Time
	lastCheckpointAt     time.Time
	toolCalls            int
	callsSinceCheckpoint int
	messages             int
	contentChars         int64
	totalFailures        int
	consecutiveFailures  int
	latencies            []time.Duration
	alertLatch           RiskLevel
}

// Aggregator converts raw session events into risk levels and trigger
// decisions. It is the only component holding mutable in-process state.
type Aggregator struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionCounters
	thresholds Thresholds
	policy     TriggerPolicy
	logger     *slog.Logger

	now func() time.Time
}

// NewAggregator creates an Aggregator with the given thresholds and
// trigger policy.
func NewAggregator(thresholds Thresholds, policy TriggerPolicy, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		sessions:   make(map[string]*sessionCounters),
		thresholds: thresholds,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// session returns the counters for a session id, creating them on first use.
func (a *Aggregator) session(sessionID string) *sessionCounters {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.sessions[sessionID]; ok {
		return s
	}
	now := a.now()
	s = &sessionCounters{
		startedAt:        now,
		lastCheckpointAt: now,
		alertLatch:       RiskSafe,
	}
	a.sessions[sessionID] = s
	return s
}

// Observe folds one event into the session's counters. Malformed input is
// logged and dropped; losing a sample must never block the host session.
func (a *Aggregator) Observe(sessionID string, ev Event) {
	if sessionID == "" {
		a.logger.Warn("dropping signal event without session id")
		return
	}
	if ev.Kind != EventToolCall && ev.Kind != EventMessage {
		a.logger.Warn("dropping signal event with unknown kind",
			"session", sessionID, "kind", string(ev.Kind))
		return
	}

	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contentChars += int64(ev.ContentChars)
	switch ev.Kind {
	case EventMessage:
		s.messages++
	case EventToolCall:
		s.toolCalls++
		s.callsSinceCheckpoint++
		if ev.Latency > 0 {
			s.latencies = append(s.latencies, ev.Latency)
			if len(s.latencies) > latencyWindow {
				s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
			}
		}
		if ev.Success {
			s.consecutiveFailures = 0
		} else {
			s.totalFailures++
			s.consecutiveFailures++
		}
	}
}

// Assess rebuilds the derived snapshot for a session.
func (a *Aggregator) Assess(sessionID string) SignalSnapshot {
	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.assessLocked(s)
}

func (a *Aggregator) assessLocked(s *sessionCounters) SignalSnapshot {
	now := a.now()
	duration := now.Sub(s.startedAt)

	snap := SignalSnapshot{
		ContextWindowUsage:       float64(s.contentChars) / charsPerToken / contextWindowBudget,
		SessionDuration:          duration,
		MessageCount:             s.messages,
		ToolCallCount:            s.toolCalls,
		ToolCallsSinceCheckpoint: s.callsSinceCheckpoint,
		ConsecutiveFailures:      s.consecutiveFailures,
		TotalFailures:            s.totalFailures,
		LatencyTrend:             trend(s.latencies),
	}
	if minutes := duration.Minutes(); minutes > 0 {
		snap.MessagesPerMinute = float64(s.messages) / minutes
	}
	if s.toolCalls > 0 {
		snap.ToolFailureRate = float64(s.totalFailures) / float64(s.toolCalls)
	}
	snap.CrashRisk = a.thresholds.classify(snap)
	return snap
}

// trend compares the mean of the newer half of the window against the
// older half; differences within 10% classify as stable.
func trend(samples []time.Duration) LatencyTrend {
	if len(samples) < 4 {
		return TrendStable
	}
	mid := len(samples) / 2
	older := mean(samples[:mid])
	newer := mean(samples[mid:])
	if older == 0 {
		return TrendStable
	}
	ratio := newer / older
	switch {
	case ratio > 1.10:
		return TrendIncreasing
	case ratio < 0.90:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func mean(samples []time.Duration) float64 {
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return float64(total) / float64(len(samples))
}

// NoteCheckpoint resets the since-checkpoint counters after a checkpoint
// has been persisted.
func (a *Aggregator) NoteCheckpoint(sessionID string) {
	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callsSinceCheckpoint = 0
	s.lastCheckpointAt = a.now()
}

// EndSession evicts a session's counters. Called when the session
// formally ends.
func (a *Aggregator) EndSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}
