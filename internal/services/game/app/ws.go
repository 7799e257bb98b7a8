package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oakline/venturesim/internal/services/game/orchestrator"
	"golang.org/x/net/websocket"
)

const (
	tokenCookieName = "vs_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type joinPayload struct {
	SessionID string `json:"session_id"`
}

type joinedPayload struct {
	SessionID  string `json:"session_id,omitempty"`
	Room       string `json:"room"`
	ServerTime string `json:"server_time"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

type sessionRoom struct {
	mu          sync.Mutex
	sessionID   string
	subscribers map[*wsPeer]struct{}
}

func newSessionRoom(sessionID string) *sessionRoom {
	return &sessionRoom{
		sessionID:   sessionID,
		subscribers: make(map[*wsPeer]struct{}),
	}
}

func (r *sessionRoom) join(peer *wsPeer) {
	r.mu.Lock()
	r.subscribers[peer] = struct{}{}
	r.mu.Unlock()
}

func (r *sessionRoom) leave(peer *wsPeer) {
	r.mu.Lock()
	delete(r.subscribers, peer)
	r.mu.Unlock()
}

func (r *sessionRoom) snapshot() []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	subscribers := make([]*wsPeer, 0, len(r.subscribers))
	for subscriber := range r.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	return subscribers
}

// roomHub fans realtime events out to session rooms and the facilitator
// dashboard room. It is the broadcast surface the session state machine
// pushes through.
type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*sessionRoom
	admin *sessionRoom
}

func newRoomHub() *roomHub {
	return &roomHub{
		rooms: make(map[string]*sessionRoom),
		admin: newSessionRoom("admin"),
	}
}

func (h *roomHub) room(sessionID string) *sessionRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if ok {
		return room
	}

	room = newSessionRoom(sessionID)
	h.rooms[sessionID] = room
	return room
}

// BroadcastToSession delivers an event to every subscriber of the session
// room. Write failures are dropped; a broken peer cleans itself up when its
// read loop exits.
func (h *roomHub) BroadcastToSession(sessionID string, event orchestrator.Event) {
	frame := wsFrame{Type: event.Type, Payload: mustJSON(event.Payload)}
	for _, subscriber := range h.room(sessionID).snapshot() {
		_ = subscriber.writeFrame(frame)
	}
}

// BroadcastToAdmins delivers an event to the facilitator dashboard room.
func (h *roomHub) BroadcastToAdmins(event orchestrator.Event) {
	frame := wsFrame{Type: event.Type, Payload: mustJSON(event.Payload)}
	for _, subscriber := range h.admin.snapshot() {
		_ = subscriber.writeFrame(frame)
	}
}

type wsConnSession struct {
	mu       sync.Mutex
	identity Identity
	peer     *wsPeer
	rooms    []*sessionRoom
}

func newWSConnSession(identity Identity, peer *wsPeer) *wsConnSession {
	return &wsConnSession{identity: identity, peer: peer}
}

func (s *wsConnSession) addRoom(room *sessionRoom) {
	s.mu.Lock()
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()
}

func (s *wsConnSession) leaveAll() {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = nil
	s.mu.Unlock()
	for _, room := range rooms {
		room.leave(s.peer)
	}
}

type wsIdentityContextKey struct{}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (s *Server) wsRoute() http.HandlerFunc {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		s.handleWSConn(conn)
	})

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if s.tokens.enabled() {
			accessToken := accessTokenFromRequest(r)
			if accessToken == "" {
				log.Printf("game: websocket unauthorized: missing vs_token for host=%q remote=%s", r.Host, r.RemoteAddr)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			identity, err := ValidateToken(accessToken, s.tokens)
			if err != nil {
				log.Printf("game: websocket unauthorized: token validation failed for host=%q remote=%s err=%v", r.Host, r.RemoteAddr, err)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
			r = r.WithContext(ctx)
		}

		wsHandler.ServeHTTP(w, r)
	}
}

func (s *Server) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	identity := Identity{UserID: "participant", Role: RoleParticipant}
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsIdentityContextKey{}).(Identity); ok {
			identity = resolved
		}
	}
	session := newWSConnSession(identity, peer)
	defer session.leaveAll()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "session.join":
			s.handleJoinFrame(session, frame)
		case "admin.join":
			s.handleAdminJoinFrame(session, frame)
		default:
			_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func (s *Server) handleJoinFrame(session *wsConnSession, frame wsFrame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		_ = writeWSError(session.peer, frame.RequestID, "INVALID_ARGUMENT", "session_id is required")
		return
	}

	room := s.hub.room(sessionID)
	room.join(session.peer)
	session.addRoom(room)

	_ = session.peer.writeFrame(wsFrame{
		Type:      "session.joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			SessionID:  sessionID,
			Room:       "session",
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func (s *Server) handleAdminJoinFrame(session *wsConnSession, frame wsFrame) {
	if s.tokens.enabled() && session.identity.Role != RoleFacilitator {
		_ = writeWSError(session.peer, frame.RequestID, "FORBIDDEN", "facilitator access required")
		return
	}

	s.hub.admin.join(session.peer)
	session.addRoom(s.hub.admin)

	_ = session.peer.writeFrame(wsFrame{
		Type:      "session.joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			Room:       "admin",
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "session.error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      code,
				Message:   message,
				Retryable: false,
			},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
