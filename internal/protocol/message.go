package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeSessionUpdate  = "session.update"
	TypeProgressUpdate = "progress.update"
	TypeCaptureTaken   = "capture.taken"
	TypeCameraStop     = "camera.stop"
	TypePanoramaReady  = "panorama.ready"
	TypePanoramaRender = "panorama.render"
	TypeSessionFault   = "session.fault"
	TypeError          = "error"
)

// Client → Server message types.
const (
	TypeSessionStart      = "session.start"
	TypePermissionResult  = "permission.result"
	TypeCameraFrame       = "camera.frame"
	TypeOrientationSample = "orientation.sample"
	TypeCaptureManual     = "capture.manual"
	TypeCaptureFinish     = "capture.finish"
	TypeOverlayToggle     = "overlay.toggle"
	TypeSessionReset      = "session.reset"
	TypeSessionClose      = "session.close"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrWrongPhase      = "WRONG_PHASE"
	ErrNotEnoughImages = "NOT_ENOUGH_IMAGES"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrComposeFailed   = "COMPOSE_FAILED"
)

// Server → Client payloads.

type SessionUpdatePayload struct {
	ID              string `json:"id"`
	Phase           string `json:"phase"`
	CameraReady     bool   `json:"cameraReady"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	CaptureCount    int    `json:"captureCount"`
	ProgressPercent int    `json:"progressPercent"`
	CreatedAt       string `json:"createdAt"`
}

type ProgressUpdatePayload struct {
	SessionID string `json:"sessionId"`
	Percent   int    `json:"percent"`
}

// Cue describes the best-effort feedback the client should attempt after a
// capture. Vibration or audio failures on the client are swallowed there.
type Cue struct {
	Vibrate bool `json:"vibrate"`
	Sound   bool `json:"sound"`
}

type CaptureTakenPayload struct {
	SessionID string `json:"sessionId"`
	Ordinal   int    `json:"ordinal"`
	Count     int    `json:"count"`
	Auto      bool   `json:"auto"`
	Cue       Cue    `json:"cue"`
}

type CameraStopPayload struct {
	SessionID string `json:"sessionId"`
}

type PanoramaReadyPayload struct {
	SessionID      string `json:"sessionId"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Data           string `json:"data"` // base64 JPEG
	OverlayEnabled bool   `json:"overlayEnabled"`
}

type PanoramaRenderPayload struct {
	SessionID      string `json:"sessionId"`
	Data           string `json:"data"` // base64 JPEG
	OverlayEnabled bool   `json:"overlayEnabled"`
}

type SessionFaultPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionStartPayload struct {
	Label string `json:"label,omitempty"`
}

type PermissionResultPayload struct {
	SessionID          string `json:"sessionId"`
	OrientationGranted bool   `json:"orientationGranted"`
	CameraGranted      bool   `json:"cameraGranted"`
	Reason             string `json:"reason,omitempty"`
}

type CameraFramePayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"` // base64 JPEG
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// OrientationSamplePayload carries one device-orientation reading. Angles
// are pointers because the platform reports null before the sensor warms up.
type OrientationSamplePayload struct {
	SessionID string   `json:"sessionId"`
	Alpha     *float64 `json:"alpha"`
	Beta      *float64 `json:"beta"`
	Gamma     *float64 `json:"gamma"`
}

type OverlayTogglePayload struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}
