package store

import (
	"context"
	"errors"
	"time"

	"kasiran/admin/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// AuditFilter narrows an audit query. Zero times leave that side open.
type AuditFilter struct {
	CompanyID string
	Resource  string
	From      time.Time
	To        time.Time
	Limit     int
}

// AuditRepository records the writes made through the dashboard. The rows the
// writes touch live upstream; only who did what is kept here.
type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, error)
	GetAuditLog(ctx context.Context, id string) (*domain.AuditLog, error)
}

const DefaultAuditLimit = 100

func ValidateAuditLog(entry domain.AuditLog) error {
	if entry.CompanyID == "" || entry.Action == "" || entry.Resource == "" {
		return ErrInvalidEntry
	}
	return nil
}
