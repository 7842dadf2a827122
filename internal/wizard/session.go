package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTTL is how long an idle review session is kept.
const SessionTTL = 24 * time.Hour

var ErrSessionNotFound = errors.New("review session not found")

// SessionStore keeps review snapshots between HTTP calls, keyed by the
// response id the review will submit under.
type SessionStore interface {
	Load(ctx context.Context, id string) (ReviewSnapshot, error)
	Save(ctx context.Context, id string, snap ReviewSnapshot) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemorySessionStore is used when no Redis is configured. Snapshots are
// stored encoded so callers never share maps with the store.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemorySessionStore) Load(ctx context.Context, id string) (ReviewSnapshot, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if ok && m.now().After(entry.expiresAt) {
		delete(m.entries, id)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return ReviewSnapshot{}, ErrSessionNotFound
	}
	var snap ReviewSnapshot
	if err := json.Unmarshal(entry.data, &snap); err != nil {
		return ReviewSnapshot{}, fmt.Errorf("decoding session: %w", err)
	}
	return snap, nil
}

func (m *MemorySessionStore) Save(ctx context.Context, id string, snap ReviewSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{data: data, expiresAt: m.now().Add(SessionTTL)}
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// RedisSessionStore shares sessions between API replicas.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(id string) string {
	return "review-session:" + id
}

func (r *RedisSessionStore) Load(ctx context.Context, id string) (ReviewSnapshot, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ReviewSnapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return ReviewSnapshot{}, err
	}
	var snap ReviewSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt session is dropped and the reviewer starts over
		r.client.Del(ctx, sessionKey(id))
		return ReviewSnapshot{}, ErrSessionNotFound
	}
	return snap, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, id string, snap ReviewSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return r.client.Set(ctx, sessionKey(id), data, SessionTTL).Err()
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}
