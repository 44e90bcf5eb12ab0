package types

import "time"

// Topic names a broadcast notification.
type Topic string

const (
	TopicTraffic          Topic = "traffic"
	TopicError            Topic = "error"
	TopicSessionStarted   Topic = "session-started"
	TopicSessionStopped   Topic = "session-stopped"
	TopicSessionPaused    Topic = "session-paused"
	TopicSessionResumed   Topic = "session-resumed"
	TopicFilterUpdated    Topic = "filter-updated"
	TopicCertGenerated    Topic = "cert-generated"
	TopicCertTrustChanged Topic = "cert-trust-changed"
	TopicReplayCompleted  Topic = "replay-completed"
	TopicReplayDeleted    Topic = "replay-deleted"
)

// Event is the envelope delivered to bus subscribers.
type Event struct {
	Topic     Topic     `json:"topic"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// CaptureError is the payload of an error event.
type CaptureError struct {
	Message string `json:"message"`
	Source  string `json:"source"` // "stderr" or "process"
}
