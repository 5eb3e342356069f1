package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"vision-sim/internal/capture"
	"vision-sim/internal/protocol"
	"vision-sim/internal/session"
	"vision-sim/internal/tracker"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	// maxFrameMessage bounds incoming messages; preview frames dominate.
	maxFrameMessage = 4 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server manages WebSocket connections and routes simulator messages
// between clients and the session manager.
type Server struct {
	sessionMgr *session.Manager
	content    ContentProvider
	clients    map[*client]bool
	clientsMu  sync.RWMutex
	staticDir  string

	// subscriptions tracks which session-event subscriptions exist per
	// client. key: client, value: map[sessionID]subscriptionID
	subscriptions   map[*client]map[string]string
	subscriptionsMu sync.Mutex

	// dispatchHook, when set, runs inside the fault boundary before a
	// message is dispatched.
	dispatchHook func(*protocol.Message)
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	sendMu sync.Mutex
	closed bool
}

// trySend queues data for the write pump unless the client is gone.
// Non-blocking: a full buffer drops the message.
func (c *client) trySend(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend marks the client gone and closes the send channel. Event
// forwarders may still be draining their channels; their sends become no-ops
// instead of hitting a closed channel.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// New creates a new realtime server.
func New(sessionMgr *session.Manager, content ContentProvider, staticDir string) *Server {
	return &Server{
		sessionMgr:    sessionMgr,
		content:       content,
		clients:       make(map[*client]bool),
		staticDir:     staticDir,
		subscriptions: make(map[*client]map[string]string),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /api/news", s.handleNews)
	mux.HandleFunc("GET /api/videos", s.handleVideos)
	mux.HandleFunc("GET /api/profile", s.handleProfile)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.subscriptionsMu.Lock()
	s.subscriptions[c] = make(map[string]string)
	s.subscriptionsMu.Unlock()

	// Send current session list to new client.
	s.sendSessionList(c)

	// Subscribe new client to all active sessions' events so a reconnect
	// mid-session catches up via the replay buffer.
	s.subscribeClientToActiveSessions(c)

	go c.writePump()
	go c.readPump()
}

// sendSessionList sends the current session state to a client.
func (s *Server) sendSessionList(c *client) {
	for _, sess := range s.sessionMgr.List() {
		s.sendMessage(c, protocol.TypeSessionUpdate, updatePayload(sess))
	}
}

func updatePayload(sess *session.Session) protocol.SessionUpdatePayload {
	return protocol.SessionUpdatePayload{
		ID:              sess.ID,
		Phase:           string(sess.Phase),
		CameraReady:     sess.CameraReady,
		ErrorMessage:    sess.ErrorMessage,
		CaptureCount:    sess.CaptureCount,
		ProgressPercent: sess.ProgressPercent,
		CreatedAt:       sess.CreatedAt.Format(time.RFC3339Nano),
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameMessage)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	// Unsubscribe from all session events.
	s.subscriptionsMu.Lock()
	subs := s.subscriptions[c]
	delete(s.subscriptions, c)
	s.subscriptionsMu.Unlock()

	for sessionID, subID := range subs {
		s.sessionMgr.Unsubscribe(sessionID, subID)
	}

	c.closeSend()
}

// handleMessage validates and dispatches a client message. It is the fault
// boundary for the simulator: a panic anywhere in a handler is recovered
// here, the session is force-reset, and the client is told to recover
// rather than the whole server going down.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.recoverFault(c, msg, r)
		}
	}()

	if s.dispatchHook != nil {
		s.dispatchHook(msg)
	}

	switch msg.Type {
	case protocol.TypeSessionStart:
		s.handleWSSessionStart(c, msg)
	case protocol.TypePermissionResult:
		s.handleWSPermissionResult(c, msg)
	case protocol.TypeCameraFrame:
		s.handleWSCameraFrame(c, msg)
	case protocol.TypeOrientationSample:
		s.handleWSOrientationSample(c, msg)
	case protocol.TypeCaptureManual:
		s.handleWSCaptureManual(c, msg)
	case protocol.TypeCaptureFinish:
		s.handleWSCaptureFinish(c, msg)
	case protocol.TypeOverlayToggle:
		s.handleWSOverlayToggle(c, msg)
	case protocol.TypeSessionReset:
		s.handleWSSessionReset(c, msg)
	case protocol.TypeSessionClose:
		s.handleWSSessionClose(c, msg)
	}
}

// recoverFault handles a panic raised while dispatching a simulator
// message: full session teardown, a generic failure notice, and a stopped
// camera. The rest of the server is unaffected.
func (s *Server) recoverFault(c *client, msg *protocol.Message, cause interface{}) {
	log.Printf("recovered fault handling %s: %v", msg.Type, cause)

	var p protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &p)

	// Without a session there is nothing to reset, but the client still
	// gets told the attempt failed.
	if p.SessionID != "" {
		if _, err := s.sessionMgr.Reset(p.SessionID); err != nil {
			log.Printf("fault reset for session %s failed: %v", p.SessionID, err)
		}
		s.sendMessage(c, protocol.TypeCameraStop, protocol.CameraStopPayload{SessionID: p.SessionID})
	}
	s.sendMessage(c, protocol.TypeSessionFault, protocol.SessionFaultPayload{
		SessionID: p.SessionID,
		Message:   "something went wrong in the simulator; it has been reset",
	})
}

func (s *Server) handleWSSessionStart(c *client, msg *protocol.Message) {
	var payload protocol.SessionStartPayload
	json.Unmarshal(msg.Payload, &payload)

	sess, err := s.sessionMgr.Create(payload.Label)
	if err != nil {
		s.sendError(c, protocol.ErrMaxSessions, err.Error())
		return
	}

	s.broadcast(protocol.TypeSessionUpdate, updatePayload(sess))
	s.subscribeAllClients(sess.ID)
}

func (s *Server) handleWSPermissionResult(c *client, msg *protocol.Message) {
	var payload protocol.PermissionResultPayload
	json.Unmarshal(msg.Payload, &payload)

	sess, err := s.sessionMgr.PermissionResult(payload.SessionID, payload.OrientationGranted, payload.CameraGranted, payload.Reason)
	if err != nil {
		s.sendSessionError(c, err)
		return
	}

	s.broadcast(protocol.TypeSessionUpdate, updatePayload(sess))
}

func (s *Server) handleWSCameraFrame(c *client, msg *protocol.Message) {
	var payload protocol.CameraFramePayload
	json.Unmarshal(msg.Payload, &payload)

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, "frame data is not valid base64")
		return
	}

	// The payload's width/height are advisory only; the session probes the
	// bytes itself.
	readyNow, err := s.sessionMgr.HandleFrame(payload.SessionID, capture.Frame{Data: data})
	if err != nil {
		s.sendSessionError(c, err)
		return
	}

	if readyNow {
		if sess, gerr := s.sessionMgr.Get(payload.SessionID); gerr == nil {
			s.broadcast(protocol.TypeSessionUpdate, updatePayload(sess))
		}
	}
}

func (s *Server) handleWSOrientationSample(c *client, msg *protocol.Message) {
	var payload protocol.OrientationSamplePayload
	json.Unmarshal(msg.Payload, &payload)

	// Progress and capture notifications flow through the event
	// subscription, so nothing more to send here.
	_, _, err := s.sessionMgr.HandleOrientation(payload.SessionID, tracker.Sample{
		Alpha: payload.Alpha,
		Beta:  payload.Beta,
		Gamma: payload.Gamma,
	})
	if err != nil {
		s.sendSessionError(c, err)
	}
}

func (s *Server) handleWSCaptureManual(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	// A nil result without error is the over-cap silent no-op.
	if _, err := s.sessionMgr.CaptureManual(payload.SessionID); err != nil {
		s.sendSessionError(c, err)
	}
}

func (s *Server) handleWSCaptureFinish(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	pano, sess, err := s.sessionMgr.Finish(payload.SessionID)
	if err != nil {
		s.sendSessionError(c, err)
		return
	}

	// The capturing client must stop its camera tracks now.
	s.sendMessage(c, protocol.TypeCameraStop, protocol.CameraStopPayload{SessionID: sess.ID})
	s.sendMessage(c, protocol.TypePanoramaReady, protocol.PanoramaReadyPayload{
		SessionID:      sess.ID,
		Width:          pano.Width,
		Height:         pano.Height,
		Data:           base64.StdEncoding.EncodeToString(pano.Data),
		OverlayEnabled: false,
	})
	s.broadcast(protocol.TypeSessionUpdate, updatePayload(sess))
}

func (s *Server) handleWSOverlayToggle(c *client, msg *protocol.Message) {
	var payload protocol.OverlayTogglePayload
	json.Unmarshal(msg.Payload, &payload)

	render, err := s.sessionMgr.ToggleOverlay(payload.SessionID, payload.Enabled)
	if err != nil {
		s.sendSessionError(c, err)
		return
	}

	s.sendMessage(c, protocol.TypePanoramaRender, protocol.PanoramaRenderPayload{
		SessionID:      payload.SessionID,
		Data:           base64.StdEncoding.EncodeToString(render),
		OverlayEnabled: payload.Enabled,
	})
}

func (s *Server) handleWSSessionReset(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	sess, err := s.sessionMgr.Reset(payload.SessionID)
	if err != nil {
		s.sendSessionError(c, err)
		return
	}

	// Camera tracks must be stopped regardless of the phase the reset
	// arrived in; the stop is idempotent on the client.
	s.sendMessage(c, protocol.TypeCameraStop, protocol.CameraStopPayload{SessionID: sess.ID})
	s.broadcast(protocol.TypeSessionUpdate, updatePayload(sess))
}

func (s *Server) handleWSSessionClose(c *client, msg *protocol.Message) {
	var payload protocol.SessionIDPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.sessionMgr.Close(payload.SessionID); err != nil {
		s.sendSessionError(c, err)
		return
	}

	s.sendMessage(c, protocol.TypeCameraStop, protocol.CameraStopPayload{SessionID: payload.SessionID})
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.trySend(data)
	}
}

// subscribeAllClients subscribes all connected clients to a session's events.
func (s *Server) subscribeAllClients(sessionID string) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		s.subscribeClient(c, sessionID)
	}
}

// subscribeClientToActiveSessions subscribes a single client to all sessions.
// Called when a new WebSocket connection is established so the client
// catches up on sessions that were created before this connection.
func (s *Server) subscribeClientToActiveSessions(c *client) {
	for _, sess := range s.sessionMgr.List() {
		s.subscribeClient(c, sess.ID)
	}
}

// subscribeClient subscribes a single client to a session's events.
func (s *Server) subscribeClient(c *client, sessionID string) {
	s.subscriptionsMu.Lock()
	if _, exists := s.subscriptions[c][sessionID]; exists {
		s.subscriptionsMu.Unlock()
		return // Already subscribed.
	}
	s.subscriptionsMu.Unlock()

	subID, ch, history, err := s.sessionMgr.Subscribe(sessionID)
	if err != nil {
		return
	}

	s.subscriptionsMu.Lock()
	if s.subscriptions[c] == nil {
		s.subscriptions[c] = make(map[string]string)
	}
	s.subscriptions[c][sessionID] = subID
	s.subscriptionsMu.Unlock()

	// Send history, then forward new events.
	for _, event := range history {
		s.sendSessionEvent(c, event)
	}

	go func() {
		for event := range ch {
			s.sendSessionEvent(c, event)
		}
	}()
}

// sendSessionEvent converts a session event into its protocol message.
func (s *Server) sendSessionEvent(c *client, event session.Event) {
	switch event.Type {
	case session.EventProgress:
		s.sendMessage(c, protocol.TypeProgressUpdate, protocol.ProgressUpdatePayload{
			SessionID: event.SessionID,
			Percent:   event.Percent,
		})

	case session.EventCapture:
		s.sendMessage(c, protocol.TypeCaptureTaken, protocol.CaptureTakenPayload{
			SessionID: event.SessionID,
			Ordinal:   event.Ordinal,
			Count:     event.Count,
			Auto:      event.Auto,
			Cue:       protocol.Cue{Vibrate: true, Sound: true},
		})

	case session.EventPhase:
		if sess, err := s.sessionMgr.Get(event.SessionID); err == nil {
			s.sendMessage(c, protocol.TypeSessionUpdate, updatePayload(sess))
		}
	}
}

func (s *Server) sendMessage(c *client, msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendSessionError maps manager errors to protocol error codes.
func (s *Server) sendSessionError(c *client, err error) {
	code := protocol.ErrSessionNotFound
	switch {
	case errors.Is(err, session.ErrWrongPhase):
		code = protocol.ErrWrongPhase
	case errors.Is(err, session.ErrNotEnoughImages):
		code = protocol.ErrNotEnoughImages
	case errors.Is(err, session.ErrMaxSessions):
		code = protocol.ErrMaxSessions
	case errors.Is(err, session.ErrNotFound):
		code = protocol.ErrSessionNotFound
	default:
		code = protocol.ErrComposeFailed
	}
	s.sendError(c, code, err.Error())
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	c.trySend(data)
}
