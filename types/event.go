package types

import "time"

// EventKind enumerates the Conversation Log event vocabulary (spec §3).
type EventKind string

const (
	EventUserIntent     EventKind = "user_intent"
	EventStageStarted   EventKind = "stage_started"
	EventStageProgress  EventKind = "stage_progress"
	EventStageCompleted EventKind = "stage_completed"
	EventProviderCall   EventKind = "provider_call"
	EventWarning        EventKind = "warning"
	EventFinalArtifact  EventKind = "final_artifact"
	EventError          EventKind = "error"
	EventCanceled       EventKind = "canceled"
)

// EventRole matches the speaker taxonomy used for LLM messages, reused here
// so a single Role vocabulary spans requests and the conversation log.
type EventRole = Role

// Event is one append-only entry in a Conversation's log (spec §4.4).
// Sequence is assigned by the Conversation Log and is strictly monotonic
// and gap-free per conversation (P1).
type Event struct {
	Sequence  uint64         `json:"sequence"`
	Kind      EventKind      `json:"kind"`
	Role      EventRole      `json:"role"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// StageStartedPayload is the conventional payload shape for EventStageStarted.
type StageStartedPayload struct {
	Stage     string `json:"stage"`
	JobID     string `json:"job_id"`
	ItemCount int    `json:"item_count,omitempty"`
}

// StageProgressPayload is the conventional payload shape for EventStageProgress.
type StageProgressPayload struct {
	Stage     string `json:"stage"`
	JobID     string `json:"job_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// StageCompletedPayload is the conventional payload shape for EventStageCompleted.
type StageCompletedPayload struct {
	Stage     string `json:"stage"`
	JobID     string `json:"job_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// ProviderCallPayload records which backend actually served a generation
// call, for scenarios like P8 (failover transparency).
type ProviderCallPayload struct {
	JobID       string     `json:"job_id"`
	Stage       string     `json:"stage"`
	Backend     string     `json:"backend"`
	Model       string     `json:"model"`
	Attempt     int        `json:"attempt"`
	Usage       TokenUsage `json:"usage"`
	DurationMS  int64      `json:"duration_ms"`
}
