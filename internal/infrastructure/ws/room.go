package ws

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrRoomNotFound   = errors.New("room has no connected clients")
	ErrClientNotFound = errors.New("client not found")
)

type WSRoom struct {
	ID      string
	Clients map[string]*Client
}

// RoomManager tracks the connected clients of each room. Rooms exist only
// while at least one client is connected.
type RoomManager struct {
	rooms map[string]*WSRoom // roomID → WSRoom
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*WSRoom),
	}
}

func (rm *RoomManager) AddClient(cl *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[cl.RoomID]
	if !ok {
		room = &WSRoom{
			ID:      cl.RoomID,
			Clients: make(map[string]*Client),
		}
		rm.rooms[cl.RoomID] = room
	}

	if _, exists := room.Clients[cl.ID]; !exists {
		room.Clients[cl.ID] = cl
	}
}

// RemoveClient drops cl and closes its outbound queue. It reports whether
// the client was registered.
func (rm *RoomManager) RemoveClient(cl *Client) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[cl.RoomID]
	if !ok {
		return false
	}
	if _, ok := room.Clients[cl.ID]; !ok {
		return false
	}

	delete(room.Clients, cl.ID)
	close(cl.Message)

	if len(room.Clients) == 0 {
		delete(rm.rooms, cl.RoomID)
	}
	return true
}

// Usernames lists the distinct users connected to roomID, sorted.
func (rm *RoomManager) Usernames(roomID string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	users := []string{}
	room, ok := rm.rooms[roomID]
	if !ok {
		return users
	}

	seen := make(map[string]struct{}, len(room.Clients))
	for _, cl := range room.Clients {
		if _, dup := seen[cl.Username]; dup {
			continue
		}
		seen[cl.Username] = struct{}{}
		users = append(users, cl.Username)
	}
	sort.Strings(users)
	return users
}

// BroadcastToRoom queues msg for every client in msg.RoomID. Clients with a
// full queue miss the message; their ids are returned.
func (rm *RoomManager) BroadcastToRoom(msg *WSMessage) (dropped []string, err error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[msg.RoomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	for _, cl := range room.Clients {
		select {
		case cl.Message <- msg:
		default:
			dropped = append(dropped, cl.ID)
		}
	}
	return dropped, nil
}

func (rm *RoomManager) SendToClient(roomID, clientID string, msg *WSMessage) error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	cl, ok := room.Clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case cl.Message <- msg:
		return nil
	default:
		return errors.New("client queue full")
	}
}

// CloseAll disconnects every client.
func (rm *RoomManager) CloseAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, room := range rm.rooms {
		for _, cl := range room.Clients {
			close(cl.Message)
		}
		delete(rm.rooms, id)
	}
}
