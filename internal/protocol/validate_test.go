package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	payload := SessionUpdatePayload{
		ID:    "test-id",
		Phase: "capturing",
	}

	msg, err := NewMessage(TypeSessionUpdate, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypeSessionUpdate {
		t.Errorf("expected type %s, got %s", TypeSessionUpdate, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p SessionUpdatePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got %s", p.ID)
	}
}

func clientMsg(t *testing.T, msgType string, payload map[string]interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal test message: %v", err)
	}
	return data
}

func TestValidateClientMessage_Valid(t *testing.T) {
	tests := []struct {
		msgType string
		payload map[string]interface{}
	}{
		{TypeSessionStart, map[string]interface{}{"label": "demo"}},
		{TypeSessionStart, map[string]interface{}{}},
		{TypePermissionResult, map[string]interface{}{"sessionId": "abc", "orientationGranted": true, "cameraGranted": true}},
		{TypeCameraFrame, map[string]interface{}{"sessionId": "abc", "data": "aGVsbG8=", "width": 1280, "height": 720}},
		{TypeOrientationSample, map[string]interface{}{"sessionId": "abc", "gamma": 12.5}},
		{TypeOrientationSample, map[string]interface{}{"sessionId": "abc", "gamma": nil}},
		{TypeCaptureManual, map[string]interface{}{"sessionId": "abc"}},
		{TypeCaptureFinish, map[string]interface{}{"sessionId": "abc"}},
		{TypeOverlayToggle, map[string]interface{}{"sessionId": "abc", "enabled": true}},
		{TypeSessionReset, map[string]interface{}{"sessionId": "abc"}},
		{TypeSessionClose, map[string]interface{}{"sessionId": "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			result, err := ValidateClientMessage(clientMsg(t, tt.msgType, tt.payload))
			if err != nil {
				t.Fatalf("expected valid message, got error: %v", err)
			}
			if result.Type != tt.msgType {
				t.Errorf("expected type %s, got %s", tt.msgType, result.Type)
			}
		})
	}
}

func TestValidateClientMessage_MissingSessionID(t *testing.T) {
	types := []string{
		TypePermissionResult,
		TypeCameraFrame,
		TypeOrientationSample,
		TypeCaptureManual,
		TypeCaptureFinish,
		TypeOverlayToggle,
		TypeSessionReset,
		TypeSessionClose,
	}

	for _, msgType := range types {
		t.Run(msgType, func(t *testing.T) {
			payload := map[string]interface{}{"data": "aGVsbG8="}
			if _, err := ValidateClientMessage(clientMsg(t, msgType, payload)); err == nil {
				t.Errorf("expected error for %s without sessionId", msgType)
			}
		})
	}
}

func TestValidateClientMessage_FrameWithoutData(t *testing.T) {
	payload := map[string]interface{}{"sessionId": "abc", "width": 640, "height": 480}
	if _, err := ValidateClientMessage(clientMsg(t, TypeCameraFrame, payload)); err == nil {
		t.Error("expected error for camera.frame without data")
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	if _, err := ValidateClientMessage([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	data, _ := json.Marshal(map[string]interface{}{"payload": map[string]interface{}{}})
	if _, err := ValidateClientMessage(data); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	if _, err := ValidateClientMessage(clientMsg(t, "session.unknown", map[string]interface{}{})); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestValidateClientMessage_ServerTypeRejected(t *testing.T) {
	// Server-originated types are not valid from clients.
	if _, err := ValidateClientMessage(clientMsg(t, TypeSessionUpdate, map[string]interface{}{"id": "abc"})); err == nil {
		t.Error("expected error for server-originated type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	data, _ := json.Marshal(map[string]interface{}{"type": TypeSessionStart})
	if _, err := ValidateClientMessage(data); err == nil {
		t.Error("expected error for missing payload")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrWrongPhase, "cannot finish while awaiting permission")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Code != ErrWrongPhase {
		t.Errorf("expected code %s, got %s", ErrWrongPhase, p.Code)
	}
}
