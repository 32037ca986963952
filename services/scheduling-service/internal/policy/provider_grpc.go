//go:build protogen

package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/bookline/schedcore/libs/grpcx"
	billingv1 "github.com/bookline/schedcore/protos/gen/billing/v1"
	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

type grpcProvider struct {
	client billingv1.BillingServiceClient
}

// NewBusinessPolicyProvider prefers the billing service's per-business
// policy, falling back to the service-row snapshot when billing is down or
// no address is configured.
func NewBusinessPolicyProvider(logger *slog.Logger, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc policy provider unavailable, using static policy", "err", err)
		return NewStaticProvider(), nil
	}

	logger.Info("grpc policy provider enabled", "addr", addr)
	return &grpcProvider{client: billingv1.NewBillingServiceClient(conn)}, nil
}

func (p *grpcProvider) CancellationPolicy(ctx context.Context, businessID string, svc model.Service) (CancellationPolicy, error) {
	resp, err := p.client.GetCancellationPolicy(ctx, &billingv1.CancellationPolicyRequest{BusinessId: businessID})
	if err != nil {
		return CancellationPolicy{}, err
	}
	pol := CancellationPolicy{
		MinNoticeHours: int(resp.GetMinNoticeHours()),
		RefundTier:     resp.GetRefundTier(),
	}
	if pol.RefundTier == "" {
		pol.RefundTier = svc.RefundTier
	}
	if pol.MinNoticeHours == 0 {
		pol.MinNoticeHours = svc.CancelMinNoticeHours
	}
	return pol, nil
}
