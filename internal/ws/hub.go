package ws

import (
	"log"
	"sync"

	"messaging-service/internal/models"
)

// Hub tracks active sessions, indexed per user for participant fan-out and
// per conversation room for read-receipt scoping. Room membership is a
// delivery-scoping construct only; message authorization happens at the
// store.
type Hub struct {
	mu           sync.RWMutex
	userSessions map[int]map[*Session]bool
	rooms        map[int]map[*Session]bool
	sessionRooms map[*Session]map[int]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		userSessions: make(map[int]map[*Session]bool),
		rooms:        make(map[int]map[*Session]bool),
		sessionRooms: make(map[*Session]map[int]bool),
	}
}

// AddSession registers an authenticated session.
func (h *Hub) AddSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := s.UserID()
	if _, ok := h.userSessions[userID]; !ok {
		h.userSessions[userID] = make(map[*Session]bool)
	}
	h.userSessions[userID][s] = true
}

// RemoveSession drops the session from the user index and every room it
// joined.
func (h *Hub) RemoveSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) {
	userID := s.UserID()
	if sessions, ok := h.userSessions[userID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.userSessions, userID)
		}
	}
	for roomID := range h.sessionRooms[s] {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, s)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.sessionRooms, s)
}

// JoinRoom adds the session to a conversation room.
func (h *Hub) JoinRoom(conversationID int, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Session]bool)
	}
	h.rooms[conversationID][s] = true
	if _, ok := h.sessionRooms[s]; !ok {
		h.sessionRooms[s] = make(map[int]bool)
	}
	h.sessionRooms[s][conversationID] = true
}

// LeaveRoom removes the session from a conversation room.
func (h *Hub) LeaveRoom(conversationID int, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if rooms, ok := h.sessionRooms[s]; ok {
		delete(rooms, conversationID)
	}
}

// BroadcastToUsers delivers an event to every live session of the given
// users. Delivery is best-effort: a failed write closes and drops that
// session only.
func (h *Hub) BroadcastToUsers(userIDs []int, event models.ChatEvent) {
	h.mu.RLock()
	targets := make([]*Session, 0)
	for _, userID := range userIDs {
		for s := range h.userSessions[userID] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// BroadcastToAll delivers an event to every session except the origin.
// Used for presence events.
func (h *Hub) BroadcastToAll(event models.ChatEvent, except *Session) {
	h.mu.RLock()
	targets := make([]*Session, 0)
	for _, sessions := range h.userSessions {
		for s := range sessions {
			if s != except {
				targets = append(targets, s)
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// BroadcastToRoom delivers an event to sessions currently joined to the
// conversation room, except the origin.
func (h *Hub) BroadcastToRoom(conversationID int, event models.ChatEvent, except *Session) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[conversationID]))
	for s := range h.rooms[conversationID] {
		if s != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

func (h *Hub) deliver(targets []*Session, event models.ChatEvent) {
	for _, s := range targets {
		if err := s.Send(event); err != nil {
			log.Printf("websocket write error: %v", err)
			_ = s.Close()
			h.RemoveSession(s)
		}
	}
}

// SessionCount reports the number of tracked sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, sessions := range h.userSessions {
		count += len(sessions)
	}
	return count
}
