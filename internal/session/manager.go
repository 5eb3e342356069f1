package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"vision-sim/internal/capture"
	"vision-sim/internal/panorama"
	"vision-sim/internal/tracker"
	"vision-sim/internal/trigger"
)

const (
	defaultRingBufCapacity  = 256
	defaultSubscriberBufCap = 100
)

var (
	// ErrNotFound means no session exists with the given ID.
	ErrNotFound = errors.New("session not found")
	// ErrMaxSessions means the concurrent-session limit was reached.
	ErrMaxSessions = errors.New("maximum session limit reached")
	// ErrWrongPhase means the operation is not valid in the session's
	// current phase.
	ErrWrongPhase = errors.New("operation not valid in current phase")
	// ErrNotEnoughImages means finish was requested before the minimum
	// number of captures existed.
	ErrNotEnoughImages = errors.New("not enough captured images")
)

// Manager owns all active capture sessions and drives their state machines.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*managedSession
	maxSessions int
	cooldown    time.Duration
}

// managedSession bundles a session with the pipeline components it owns.
// Every mutating event runs under mu, so orientation samples, frames, and
// capture requests serialize in lock-acquisition order. Ordinals are
// assigned under the same lock.
type managedSession struct {
	mu sync.Mutex

	Session *Session
	tracker *tracker.Tracker
	trigger *trigger.Trigger
	frames  *capture.Store
	images  []*capture.Image

	pano           *panorama.Panorama
	overlayEnabled bool
	overlayRender  []byte

	ringBuf     *RingBuffer
	subscribers map[string]chan Event
	subMu       sync.RWMutex
}

// CaptureResult describes one successful capture.
type CaptureResult struct {
	Ordinal int
	Count   int
	Auto    bool
}

// NewManager creates a new session manager.
func NewManager(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[string]*managedSession),
		maxSessions: maxSessions,
		cooldown:    trigger.Cooldown,
	}
}

// Create opens a new capture session in the awaiting-permission phase.
func (m *Manager) Create(label string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, m.maxSessions)
	}

	id := uuid.New().String()
	sess := &Session{
		ID:        id,
		Phase:     PhaseAwaitingPermission,
		CreatedAt: time.Now().UTC(),
		Label:     label,
	}

	ms := &managedSession{
		Session:     sess,
		tracker:     tracker.New(),
		trigger:     trigger.New(),
		frames:      capture.NewStore(),
		ringBuf:     NewRingBuffer(defaultRingBufCapacity),
		subscribers: make(map[string]chan Event),
	}
	m.sessions[id] = ms

	return snapshot(sess), nil
}

// PermissionResult applies the client's permission outcome. A denial keeps
// the session in awaiting-permission with a message the user can act on;
// retry is allowed indefinitely. Both grants transition to capturing.
func (m *Manager) PermissionResult(id string, orientationGranted, cameraGranted bool, reason string) (*Session, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseAwaitingPermission {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, ms.Session.Phase)
	}

	switch {
	case !orientationGranted:
		ms.Session.ErrorMessage = denialMessage("motion sensor access denied", reason)
	case !cameraGranted:
		ms.Session.ErrorMessage = denialMessage("camera access denied", reason)
	default:
		ms.Session.ErrorMessage = ""
		ms.Session.Phase = PhaseCapturing
		ms.Session.CameraReady = false
		ms.Session.ProgressPercent = 0
		ms.tracker.Reset()
		ms.trigger.Reset()
		ms.frames = capture.NewStore()
		m.emit(ms, Event{Type: EventPhase, Phase: PhaseCapturing})
	}

	return snapshot(ms.Session), nil
}

func denialMessage(fallback, reason string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

// HandleFrame stores the latest preview frame. The first frame that probes
// as decodable flips cameraReady, which arms the tracker and trigger.
// Frames arriving outside the capturing phase are dropped.
func (m *Manager) HandleFrame(id string, f capture.Frame) (cameraReadyNow bool, err error) {
	ms, err := m.get(id)
	if err != nil {
		return false, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseCapturing {
		return false, nil
	}

	ms.frames.Put(f)

	if !ms.Session.CameraReady {
		w, h, perr := capture.Probe(f.Data)
		if perr != nil || w == 0 || h == 0 {
			return false, nil
		}
		ms.Session.CameraReady = true
		return true, nil
	}
	return false, nil
}

// HandleOrientation processes one orientation sample. Returns the current
// progress percent and, when an automatic capture fired, its result. The
// tracker and trigger are active only while capturing with a ready camera;
// samples outside that window are ignored.
func (m *Manager) HandleOrientation(id string, s tracker.Sample) (percent int, res *CaptureResult, err error) {
	ms, err := m.get(id)
	if err != nil {
		return 0, nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseCapturing || !ms.Session.CameraReady {
		return ms.Session.ProgressPercent, nil, nil
	}

	percent, changed := ms.tracker.Observe(s)
	ms.Session.ProgressPercent = percent
	if changed {
		m.emit(ms, Event{Type: EventProgress, Percent: percent})
	}

	threshold, fire := ms.trigger.Eval(percent, len(ms.images))
	if !fire {
		return percent, nil, nil
	}

	ms.trigger.Arm(threshold)
	// The lock releases after the cooldown whether or not the grab
	// succeeded, matching the per-attempt silent-skip policy.
	time.AfterFunc(m.cooldown, func() {
		ms.mu.Lock()
		ms.trigger.Release()
		ms.mu.Unlock()
	})

	res = m.grab(ms, true)
	return percent, res, nil
}

// CaptureManual performs a user-initiated capture. At the image cap it is a
// silent no-op, not an error.
func (m *Manager) CaptureManual(id string) (*CaptureResult, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseCapturing || !ms.Session.CameraReady {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, ms.Session.Phase)
	}
	if !ms.trigger.AllowManual(len(ms.images)) {
		return nil, nil
	}

	return m.grab(ms, false), nil
}

// grab snapshots the current frame and appends it to the image sequence.
// Failures are logged and skipped; nothing is appended. Caller holds ms.mu.
func (m *Manager) grab(ms *managedSession, auto bool) *CaptureResult {
	img, err := ms.frames.Grab(len(ms.images))
	if err != nil {
		log.Printf("session %s: capture skipped: %v", ms.Session.ID, err)
		return nil
	}

	ms.images = append(ms.images, img)
	ms.Session.CaptureCount = len(ms.images)

	res := &CaptureResult{
		Ordinal: img.Ordinal,
		Count:   len(ms.images),
		Auto:    auto,
	}
	m.emit(ms, Event{Type: EventCapture, Ordinal: res.Ordinal, Count: res.Count, Auto: auto})
	return res
}

// Finish composes the panorama and transitions to viewing. The live feed is
// released as part of the transition: the frame store is dropped and the
// caller must direct the client to stop its camera tracks.
func (m *Manager) Finish(id string) (*panorama.Panorama, *Session, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseCapturing {
		return nil, nil, fmt.Errorf("%w: %s", ErrWrongPhase, ms.Session.Phase)
	}
	if len(ms.images) < panorama.MinImages {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughImages, len(ms.images), panorama.MinImages)
	}

	pano, err := panorama.Compose(ms.images)
	if err != nil {
		return nil, nil, fmt.Errorf("compose panorama: %w", err)
	}

	ms.pano = pano
	ms.overlayEnabled = false
	ms.overlayRender = nil
	ms.Session.Phase = PhaseViewing
	ms.Session.CameraReady = false
	ms.frames.Drop()
	m.emit(ms, Event{Type: EventPhase, Phase: PhaseViewing})

	return pano, snapshot(ms.Session), nil
}

// ToggleOverlay switches the low-vision overlay and returns the render the
// client should display. The overlaid render is computed once and cached;
// the panorama itself is never modified.
func (m *Manager) ToggleOverlay(id string, enabled bool) ([]byte, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.Session.Phase != PhaseViewing || ms.pano == nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPhase, ms.Session.Phase)
	}

	ms.overlayEnabled = enabled
	if !enabled {
		return ms.pano.Data, nil
	}

	if ms.overlayRender == nil {
		render, rerr := panorama.RenderOverlay(ms.pano)
		if rerr != nil {
			return nil, fmt.Errorf("render overlay: %w", rerr)
		}
		ms.overlayRender = render
	}
	return ms.overlayRender, nil
}

// Panorama returns the finished panorama for a viewing session.
func (m *Manager) Panorama(id string) (*panorama.Panorama, bool, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, false, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.pano == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrWrongPhase, ms.Session.Phase)
	}
	return ms.pano, ms.overlayEnabled, nil
}

// Reset tears down all session state and returns to awaiting-permission.
func (m *Manager) Reset(id string) (*Session, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	teardown(ms)
	m.emit(ms, Event{Type: EventPhase, Phase: PhaseAwaitingPermission})
	return snapshot(ms.Session), nil
}

// Close tears down a session and removes it from the manager. Idempotent
// with respect to the camera: the frame store drop repeats harmlessly.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	ms.mu.Lock()
	teardown(ms)
	ms.mu.Unlock()

	ms.subMu.Lock()
	for subID, ch := range ms.subscribers {
		close(ch)
		delete(ms.subscribers, subID)
	}
	ms.subMu.Unlock()

	return nil
}

// teardown clears every piece of session state: images, panorama, progress,
// reference angle, camera-ready flag, and error. Caller holds ms.mu.
func teardown(ms *managedSession) {
	ms.images = nil
	ms.pano = nil
	ms.overlayEnabled = false
	ms.overlayRender = nil
	ms.tracker.Reset()
	ms.trigger.Reset()
	ms.frames.Drop()
	ms.ringBuf.Clear()

	ms.Session.Phase = PhaseAwaitingPermission
	ms.Session.CameraReady = false
	ms.Session.ErrorMessage = ""
	ms.Session.CaptureCount = 0
	ms.Session.ProgressPercent = 0
}

// Get returns a copy of a session's visible state.
func (m *Manager) Get(id string) (*Session, error) {
	ms, err := m.get(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return snapshot(ms.Session), nil
}

// List returns copies of all sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	managed := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		managed = append(managed, ms)
	}
	m.mu.RUnlock()

	result := make([]*Session, 0, len(managed))
	for _, ms := range managed {
		ms.mu.Lock()
		result = append(result, snapshot(ms.Session))
		ms.mu.Unlock()
	}
	return result
}

// Subscribe creates a channel that receives events for a session. Returns
// the subscription ID, the channel, and buffered history for catch-up.
func (m *Manager) Subscribe(id string) (string, <-chan Event, []Event, error) {
	ms, err := m.get(id)
	if err != nil {
		return "", nil, nil, err
	}

	subID := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	// Get buffered history before subscribing to avoid a gap.
	history := ms.ringBuf.ReadAll()

	ms.subMu.Lock()
	ms.subscribers[subID] = ch
	ms.subMu.Unlock()

	return subID, ch, history, nil
}

// Unsubscribe removes a subscriber from a session.
func (m *Manager) Unsubscribe(sessionID, subID string) {
	ms, err := m.get(sessionID)
	if err != nil {
		return
	}

	ms.subMu.Lock()
	if ch, exists := ms.subscribers[subID]; exists {
		close(ch)
		delete(ms.subscribers, subID)
	}
	ms.subMu.Unlock()
}

// Shutdown closes all sessions.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
}

// emit records an event and fans it out to subscribers. Caller holds ms.mu.
func (m *Manager) emit(ms *managedSession, ev Event) {
	ev.SessionID = ms.Session.ID
	ev.Timestamp = time.Now().UTC()
	ms.ringBuf.Write(ev)

	ms.subMu.RLock()
	defer ms.subMu.RUnlock()
	for _, ch := range ms.subscribers {
		select {
		case ch <- ev:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}

func (m *Manager) get(id string) (*managedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms, nil
}

func snapshot(s *Session) *Session {
	copied := *s
	return &copied
}
