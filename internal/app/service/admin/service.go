package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service implements support-desk overrides. Overrides only touch the local
// ledger: deactivating a paid subscription here does NOT cancel billing at the
// provider, which is recorded in the audit trail so support knows a refund or
// provider-side cancellation is still on them.
type Service struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	ledger *ledger.Service
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, ledgerSvc *ledger.Service) *Service {
	return &Service{cfg: cfg, log: log, ledger: ledgerSvc}
}

type OverrideRequest struct {
	UserID string `json:"user_id" binding:"required"`
	// HasActiveSubscription is the desired state.
	HasActiveSubscription bool `json:"has_active_subscription"`
	// TierID applies to activation; empty falls back to the configured
	// default stand-in tier.
	TierID string `json:"tier_id"`
	// EndDate applies to activation; nil derives it from the tier duration.
	EndDate    *time.Time `json:"end_date"`
	OperatorID string     `json:"-"`
}

// OverrideSubscription applies one admin override through the regular ledger
// transition, so it obeys the same invariants and lands in the same audit log
// as every other change.
func (s *Service) OverrideSubscription(ctx context.Context, req *OverrideRequest) (*models.UserSubscription, error) {
	if req.HasActiveSubscription {
		return s.activate(ctx, req)
	}
	return s.deactivate(ctx, req)
}

func (s *Service) activate(ctx context.Context, req *OverrideRequest) (*models.UserSubscription, error) {
	tierID := req.TierID
	if tierID == "" {
		tierID = s.cfg.Admin.DefaultTierID
	}
	tier := s.cfg.GetTierByID(tierID)
	if tier == nil {
		return nil, fmt.Errorf("%w: unknown tier %q", apperr.ErrValidation, tierID)
	}

	now := time.Now()
	var end time.Time
	switch {
	case req.EndDate != nil:
		if !req.EndDate.After(now) {
			return nil, fmt.Errorf("%w: end_date must be in the future", apperr.ErrValidation)
		}
		end = *req.EndDate
	case tier.DurationMonths > 0:
		end = now.AddDate(0, tier.DurationMonths, 0)
	default:
		return nil, fmt.Errorf("%w: tier %q has no duration and no end_date was given", apperr.ErrValidation, tierID)
	}

	return s.ledger.ApplyTransition(ctx, &ledger.TransitionDraft{
		UserID:       req.UserID,
		TierID:       tierID,
		Status:       types.SubscriptionStatusActive,
		ProviderKind: types.ProviderKindNone,
		StartDate:    now,
		EndDate:      end,
		Reason:       types.SubscriptionChangeReasonAdmin,
		Extra: map[string]interface{}{
			"operator_id": req.OperatorID,
			"trigger":     "admin_override",
		},
	})
}

func (s *Service) deactivate(ctx context.Context, req *OverrideRequest) (*models.UserSubscription, error) {
	active, err := s.ledger.GetActiveSubscription(ctx, req.UserID, time.Now())
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("%w: user %s has no active subscription", apperr.ErrValidation, req.UserID)
	}

	extra := map[string]interface{}{
		"operator_id": req.OperatorID,
		"trigger":     "admin_override",
	}
	if active.Paid() {
		// The provider keeps charging until someone cancels it there.
		extra["provider_billing_untouched"] = true
		logctx.FromCtx(ctx, s.log).Warnf("admin deactivation leaves provider billing running, user_id=%s provider=%s", req.UserID, active.ProviderKind)
	}

	return s.ledger.ApplyTransition(ctx, &ledger.TransitionDraft{
		UserID:                 req.UserID,
		Status:                 types.SubscriptionStatusInactive,
		ProviderKind:           active.ProviderKind,
		ProviderSubscriptionID: active.ProviderSubscriptionID,
		Reason:                 types.SubscriptionChangeReasonAdmin,
		Extra:                  extra,
	})
}

// SendFreeGrant hands out a provider-less subscription, e.g. as goodwill after
// an incident.
func (s *Service) SendFreeGrant(ctx context.Context, userID, tierID, operatorID string) (*models.UserSubscription, error) {
	if userID == "" || tierID == "" {
		return nil, fmt.Errorf("%w: user_id and tier_id are required", apperr.ErrValidation)
	}
	return s.activate(ctx, &OverrideRequest{
		UserID:                userID,
		HasActiveSubscription: true,
		TierID:                tierID,
		OperatorID:            operatorID,
	})
}

var Module = fx.Options(
	fx.Provide(NewService),
)
