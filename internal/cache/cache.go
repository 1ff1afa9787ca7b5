package cache

import (
	"context"
	"fmt"
	"time"

	"kasiran/admin/internal/domain"
)

type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.SalesSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesSummary, ttl time.Duration) error
}

// SummaryKey identifies one dashboard card set. Outlet may be empty for the
// company-wide view.
func SummaryKey(companyID string, outletID string, dateRange domain.DateRange) string {
	return fmt.Sprintf("kasiran:summary:%s:%s:%s:%s", companyID, outletID, dateRange.Start, dateRange.End)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.SalesSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.SalesSummary, _ time.Duration) error {
	return nil
}
