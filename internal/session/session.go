package session

import "time"

// Phase represents the lifecycle phase of a capture session.
type Phase string

const (
	PhaseAwaitingPermission Phase = "awaiting_permission"
	PhaseCapturing          Phase = "capturing"
	PhaseViewing            Phase = "viewing"
)

// Session holds the externally visible state of one simulator instance.
type Session struct {
	ID              string    `json:"id"`
	Phase           Phase     `json:"phase"`
	CameraReady     bool      `json:"cameraReady"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	CaptureCount    int       `json:"captureCount"`
	ProgressPercent int       `json:"progressPercent"`
	CreatedAt       time.Time `json:"createdAt"`
	Label           string    `json:"label,omitempty"`
}

// EventType distinguishes the session events replayed to late subscribers.
type EventType string

const (
	EventProgress EventType = "progress"
	EventCapture  EventType = "capture"
	EventPhase    EventType = "phase"
)

// Event is a single notable occurrence within a session: a progress change,
// a capture, or a phase transition.
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Percent   int       `json:"percent,omitempty"`
	Ordinal   int       `json:"ordinal,omitempty"`
	Count     int       `json:"count,omitempty"`
	Auto      bool      `json:"auto,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
