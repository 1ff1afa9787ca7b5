package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"kasiran/admin/internal/domain"
)

var ErrNoSession = errors.New("no active session")

// Store is the single owner of one browser's login state. Every read goes
// through it; storage is only touched by Rehydrate, Login, Logout and
// SwitchOutlet.
type Store struct {
	mu      sync.RWMutex
	key     string
	storage Storage
	auth    Authenticator
	ttl     time.Duration
	current domain.Session
	active  bool
	now     func() time.Time
}

// NewStore binds a store to one storage key. A positive ttl stamps an expiry
// on sessions whose authenticator did not set one.
func NewStore(key string, storage Storage, auth Authenticator, ttl time.Duration) *Store {
	return &Store{
		key:     key,
		storage: storage,
		auth:    auth,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) Key() string {
	return s.key
}

// Rehydrate restores the persisted session when every required field is
// present and it has not expired. It always reflects the stored record, so
// calling it again with unchanged storage gives the same result. A corrupt
// record counts as absent; a storage failure is returned and leaves the
// in-memory state alone.
func (s *Store) Rehydrate(ctx context.Context) (domain.Session, bool, error) {
	stored, ok, err := s.storage.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrCorruptRecord) {
			return domain.Session{}, false, fmt.Errorf("load session: %w", err)
		}
		log.Printf("[session] WARN: discarding unreadable record key=%s: %v", s.key, err)
		ok = false
	}
	if ok && (!stored.Complete() || s.expired(stored)) {
		ok = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.current = domain.Session{}
		s.active = false
		return domain.Session{}, false, nil
	}
	s.current = stored
	s.active = true
	return stored, true, nil
}

func (s *Store) Login(ctx context.Context, email string, password string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Session{}, ErrInvalidCredentials
	}

	session, err := s.auth.Authenticate(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	if session.ExpiresAt.IsZero() && s.ttl > 0 {
		session.ExpiresAt = s.now().UTC().Add(s.ttl)
	}
	if err := s.storage.Save(ctx, s.key, session); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	s.current = session
	s.active = true
	s.mu.Unlock()
	return session, nil
}

// Logout clears memory first so the browser is logged out even when the
// storage delete fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.current = domain.Session{}
	s.active = false
	s.mu.Unlock()

	return s.storage.Delete(ctx, s.key)
}

func (s *Store) Current() (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.active
}

func (s *Store) SwitchOutlet(ctx context.Context, outletID string) (domain.Session, error) {
	s.mu.RLock()
	next, active := s.current, s.active
	s.mu.RUnlock()
	if !active {
		return domain.Session{}, ErrNoSession
	}

	next.OutletID = strings.TrimSpace(outletID)
	if err := s.storage.Save(ctx, s.key, next); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

func (s *Store) expired(session domain.Session) bool {
	return !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(s.now())
}
