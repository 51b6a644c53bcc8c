package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hilthontt/stockchat/internal/domain"
)

type roomRepository struct {
	rooms map[string]domain.Room // ID -> Room
	mu    *sync.RWMutex
}

func NewRoomRepository(seed ...domain.Room) domain.RoomRepository {
	r := &roomRepository{
		rooms: make(map[string]domain.Room, len(seed)),
		mu:    &sync.RWMutex{},
	}
	for _, room := range seed {
		r.rooms[room.ID] = room
	}
	return r
}

func (r *roomRepository) List(ctx context.Context) ([]domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if room.IsActive {
			rooms = append(rooms, room)
		}
	}

	sort.Slice(rooms, func(i, j int) bool {
		return strings.ToLower(rooms[i].Name) < strings.ToLower(rooms[j].Name)
	})

	return rooms, nil
}

func (r *roomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok || !room.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	return &room, nil
}

func (r *roomRepository) Save(ctx context.Context, room *domain.Room) error {
	if room == nil {
		return fmt.Errorf("%w: room is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateRoomID(room.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms[room.ID] = *room
	return nil
}
