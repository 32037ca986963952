package policy

import (
	"context"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

// CancellationPolicy is what a cancellation costs the customer. The engine
// reports it; enforcement and refunds live in billing.
type CancellationPolicy struct {
	MinNoticeHours int    `json:"min_notice_hours"`
	RefundTier     string `json:"refund_tier"`
}

// Provider resolves the cancellation policy in effect for a service. The
// static provider reads the snapshot on the service row; a billing-backed
// provider can override it per business.
type Provider interface {
	CancellationPolicy(ctx context.Context, businessID string, svc model.Service) (CancellationPolicy, error)
}

type staticProvider struct{}

func NewStaticProvider() Provider {
	return staticProvider{}
}

func (staticProvider) CancellationPolicy(_ context.Context, _ string, svc model.Service) (CancellationPolicy, error) {
	return CancellationPolicy{
		MinNoticeHours: svc.CancelMinNoticeHours,
		RefundTier:     svc.RefundTier,
	}, nil
}
