package http

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mathquest-live/internal/app"
	"mathquest-live/internal/events"
)

// Relay carries encoded frames between instances. One channel per session.
type Relay interface {
	Publish(accessCode string, payload []byte) error
	Subscribe(accessCode string, handler func(payload []byte)) (cancel func(), err error)
}

// relayFrame is what travels over the relay. Frames published by this hub
// come back through its own subscription and are dropped by origin.
type relayFrame struct {
	Origin string          `json:"origin"`
	Kind   app.RoomKind    `json:"kind,omitempty"`
	UserID string          `json:"userId,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Hub tracks which local sockets sit in which room and delivers encoded
// envelopes to them. It implements app.Broadcaster.
type Hub struct {
	id     string
	relay  Relay
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[app.Room]map[string]*client
	// sessions counts local memberships per access code to drive relay subscriptions.
	sessions map[string]int
	subs     map[string]func()
	closed   bool
}

func NewHub(relay Relay, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		id:       uuid.NewString(),
		relay:    relay,
		logger:   logger,
		rooms:    make(map[app.Room]map[string]*client),
		sessions: make(map[string]int),
		subs:     make(map[string]func()),
	}
}

// Join adds c to room. Joining twice is a no-op. The first local member of a
// session opens its relay subscription; that round trip happens outside the
// hub lock.
func (h *Hub) Join(c *client, room app.Room) {
	code := room.AccessCode
	if !h.join(c, room) || h.relay == nil {
		return
	}
	cancel, err := h.relay.Subscribe(code, func(payload []byte) { h.fromRelay(code, payload) })
	if err != nil {
		h.logger.Warn("relay subscribe failed", zap.String("access_code", code), zap.Error(err))
		return
	}
	h.mu.Lock()
	// Everyone may have left, or a racing join installed its own, meanwhile.
	if h.closed || h.sessions[code] == 0 || h.subs[code] != nil {
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[code] = cancel
	h.mu.Unlock()
}

// join records the membership and reports whether the session has no relay
// subscription yet.
func (h *Hub) join(c *client, room app.Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*client)
		h.rooms[room] = members
	}
	if _, ok := members[c.id]; ok {
		return false
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
	h.sessions[room.AccessCode]++
	return !h.closed && h.subs[room.AccessCode] == nil
}

// Leave removes c from room.
func (h *Hub) Leave(c *client, room app.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// Remove drops c from every room it joined.
func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) leaveLocked(c *client, room app.Room) {
	members := h.rooms[room]
	if _, ok := members[c.id]; !ok {
		return
	}
	delete(members, c.id)
	delete(c.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	h.sessions[room.AccessCode]--
	if h.sessions[room.AccessCode] > 0 {
		return
	}
	delete(h.sessions, room.AccessCode)
	if cancel, ok := h.subs[room.AccessCode]; ok {
		cancel()
		delete(h.subs, room.AccessCode)
	}
}

// Broadcast delivers to local members of room and publishes for other instances.
func (h *Hub) Broadcast(room app.Room, event string, payload any) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(room, "", frame)
	h.publish(room.AccessCode, relayFrame{Origin: h.id, Kind: room.Kind, Frame: frame})
}

// SendToUser delivers to every local socket of userID that sits in the
// session's game room, and to the remote ones through the relay.
func (h *Hub) SendToUser(accessCode, userID, event string, payload any) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		h.logger.Error("encode direct message", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(app.GameRoom(accessCode), userID, frame)
	h.publish(accessCode, relayFrame{Origin: h.id, Kind: app.RoomGame, UserID: userID, Frame: frame})
}

// Members reports how many local sockets are in room.
func (h *Hub) Members(room app.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) deliver(room app.Room, userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		if userID != "" && c.identity.UserID != userID {
			continue
		}
		if !c.enqueue(frame) {
			h.logger.Warn("dropping slow client", zap.String("client_id", c.id), zap.String("room", room.String()))
		}
	}
}

func (h *Hub) publish(accessCode string, f relayFrame) {
	if h.relay == nil {
		return
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := h.relay.Publish(accessCode, raw); err != nil {
		h.logger.Warn("relay publish failed", zap.String("access_code", accessCode), zap.Error(err))
	}
}

func (h *Hub) fromRelay(accessCode string, payload []byte) {
	var f relayFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		h.logger.Warn("malformed relay frame", zap.String("access_code", accessCode), zap.Error(err))
		return
	}
	if f.Origin == h.id {
		return
	}
	h.deliver(app.Room{Kind: f.Kind, AccessCode: accessCode}, f.UserID, f.Frame)
}

// Close cancels every relay subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for code, cancel := range h.subs {
		cancel()
		delete(h.subs, code)
	}
}
