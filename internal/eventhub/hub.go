// Package eventhub fans checkpoint lifecycle events out to an injected
// broadcaster. Emission is fire-and-forget; a nil broadcaster drops
// everything.
package eventhub

import (
	"time"

	"sessionguard/internal/signals"
)

// Broadcaster receives typed events from the hub.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Hub is the event dispatch point for the checkpoint subsystem.
type Hub struct {
	broadcaster Broadcaster
}

// New creates a Hub.
func New() *Hub {
	return &Hub{}
}

// SetBroadcaster installs the receiving side.
func (h *Hub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *Hub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// RiskChangedEvent reports a crash-risk level transition.
type RiskChangedEvent struct {
	SessionID string            `json:"session_id"`
	Risk      signals.RiskLevel `json:"risk"`
}

// EmitRiskChanged reports a risk transition.
func (h *Hub) EmitRiskChanged(event RiskChangedEvent) {
	h.emit("risk:changed", event)
}

// CheckpointCreatedEvent reports a persisted checkpoint.
type CheckpointCreatedEvent struct {
	SessionID        string          `json:"session_id"`
	CheckpointID     string          `json:"checkpoint_id"`
	CheckpointNumber int             `json:"checkpoint_number"`
	TriggeredBy      signals.Trigger `json:"triggered_by"`
	CompressedSize   int             `json:"compressed_size"`
	ElapsedMs        int64           `json:"elapsed_ms"`
}

// EmitCheckpointCreated reports a persisted checkpoint.
func (h *Hub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.emit("checkpoint:created", event)
}

// ResumeAvailableEvent reports that a session start found a resumable
// checkpoint.
type ResumeAvailableEvent struct {
	SessionID    string        `json:"session_id"`
	CheckpointID string        `json:"checkpoint_id"`
	Reason       string        `json:"reason"`
	Confidence   float64       `json:"confidence"`
	Elapsed      time.Duration `json:"elapsed"`
}

// EmitResumeAvailable reports a resumable checkpoint at session start.
func (h *Hub) EmitResumeAvailable(event ResumeAvailableEvent) {
	h.emit("resume:available", event)
}
