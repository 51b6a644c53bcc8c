package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// GetterSetter holds bucket state. Implementations must report an absent
// or expired key as ErrCacheMiss.
type GetterSetter interface {
	Get(key string) (int, error)
	Set(key string, value int) error
	SetWithExpiration(key string, value int, expiration time.Duration) error
	Close() error
}

const defaultSweepInterval = time.Minute

type memoryEntry struct {
	value     int
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local GetterSetter. Expiry follows the same
// clock as the limiter using it; a background sweep drops stale buckets
// until Close.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	cancel    context.CancelFunc
	swept     chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore starts a store whose sweep runs every interval. A nil now
// uses time.Now; a non-positive interval uses one minute.
func NewMemoryStore(now func() time.Time, interval time.Duration) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
		cancel:  cancel,
		swept:   make(chan struct{}),
	}
	go s.sweepEvery(ctx, interval)

	return s
}

func (s *MemoryStore) Get(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, ErrCacheMiss
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return 0, ErrCacheMiss
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(key string, value int) error {
	return s.SetWithExpiration(key, value, 0)
}

func (s *MemoryStore) SetWithExpiration(key string, value int, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if expiration > 0 {
		entry.expiresAt = s.now().Add(expiration)
	}
	s.entries[key] = entry
	return nil
}

// Len counts stored entries, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepEvery(ctx context.Context, interval time.Duration) {
	defer close(s.swept)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

// Close stops the sweep and waits for it to exit. Safe to call repeatedly.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.swept
	return nil
}
