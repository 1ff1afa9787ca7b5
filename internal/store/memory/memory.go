package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"kasiran/admin/internal/domain"
	"kasiran/admin/internal/store"
	"kasiran/admin/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	auditLogs []domain.AuditLog
}

func New() *Store {
	return &Store{auditLogs: make([]domain.AuditLog, 0, 128)}
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if err := store.ValidateAuditLog(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if filter.CompanyID != "" && entry.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	limit := filter.Limit
	if limit < 1 {
		limit = store.DefaultAuditLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetAuditLog(_ context.Context, id string) (*domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.auditLogs {
		if entry.ID == id {
			found := entry
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}
