package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/stockchat/internal/domain"
)

// Oldest messages are evicted per room when capacity is exceeded.
type messageRepository struct {
	messages map[string][]domain.Message // roomID -> []Message, oldest first
	capacity uint
	mu       *sync.RWMutex
}

func NewMessageRepository(capacity uint) domain.MessageRepository {
	if capacity == 0 {
		capacity = 1000
	}
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]domain.Message),
		mu:       &sync.RWMutex{},
	}
}

func (r *messageRepository) AddMessage(ctx context.Context, message *domain.Message) (*domain.Message, error) {
	if message == nil || message.RoomID == "" {
		return nil, fmt.Errorf("%w: message and room are required", domain.ErrInvalidInput)
	}

	saved := *message
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomMsgs := append(r.messages[saved.RoomID], saved)

	if len(roomMsgs) > int(r.capacity) {
		excess := len(roomMsgs) - int(r.capacity)
		roomMsgs = append([]domain.Message(nil), roomMsgs[excess:]...)
	}

	r.messages[saved.RoomID] = roomMsgs

	return &saved, nil
}

func (r *messageRepository) GetLastMessages(ctx context.Context, count int, roomID string) ([]domain.Message, error) {
	if count <= 0 {
		return []domain.Message{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var msgs []domain.Message
	if roomID != "" {
		msgs = r.messages[roomID]
	} else {
		for _, roomMsgs := range r.messages {
			msgs = append(msgs, roomMsgs...)
		}
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})
	}

	if len(msgs) > count {
		msgs = msgs[len(msgs)-count:]
	}

	// Return a copy to prevent external mutation
	cpy := make([]domain.Message, len(msgs))
	copy(cpy, msgs)

	return cpy, nil
}
