package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasiran/admin/internal/domain"
)

// ErrCorruptRecord marks a stored record that exists but cannot be decoded.
// Rehydrate discards such records; every other Load error is returned.
var ErrCorruptRecord = errors.New("unreadable session record")

// Storage persists one session record per browser key. The record is always
// the JSON encoding of domain.Session; there are no other keys to keep in sync.
type Storage interface {
	Load(ctx context.Context, key string) (domain.Session, bool, error)
	Save(ctx context.Context, key string, session domain.Session) error
	Delete(ctx context.Context, key string) error
}

type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) (domain.Session, bool, error) {
	m.mu.RLock()
	raw, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return domain.Session{}, false, nil
	}
	return decodeRecord(raw)
}

func (m *MemoryStorage) Save(_ context.Context, key string, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// FileStorage keeps every record in one JSON file. It suits a single-user
// desk deployment where the dashboard runs next to the browser.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load(_ context.Context, key string) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.readLocked()
	if err != nil {
		return domain.Session{}, false, err
	}
	raw, ok := records[key]
	if !ok {
		return domain.Session{}, false, nil
	}
	return decodeRecord(raw)
}

func (f *FileStorage) Save(_ context.Context, key string, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.readLocked()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	records[key] = raw
	return f.writeLocked(records)
}

func (f *FileStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.readLocked()
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return f.writeLocked(records)
}

func (f *FileStorage) readLocked() (map[string]json.RawMessage, error) {
	records := map[string]json.RawMessage{}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(raw) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode session file: %w: %w", ErrCorruptRecord, err)
	}
	return records, nil
}

func (f *FileStorage) writeLocked(records map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &RedisStorage{client: client, ttl: ttl}
}

func (r *RedisStorage) Load(ctx context.Context, key string) (domain.Session, bool, error) {
	val, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return decodeRecord(val)
}

// Save keeps the record until the session token expires, or for the default
// TTL when the token carries no expiry.
func (r *RedisStorage) Save(ctx context.Context, key string, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ttl := r.ttl
	if !session.ExpiresAt.IsZero() {
		if remaining := time.Until(session.ExpiresAt); remaining > 0 {
			ttl = remaining
		}
	}
	return r.client.Set(ctx, redisKey(key), payload, ttl).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

func redisKey(key string) string {
	return "kasiran:session:" + key
}

func decodeRecord(raw []byte) (domain.Session, bool, error) {
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, false, fmt.Errorf("decode session record: %w: %w", ErrCorruptRecord, err)
	}
	return session, true, nil
}
