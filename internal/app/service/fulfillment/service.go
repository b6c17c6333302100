package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/prepmed/billing/internal/app/service/eventlog"
	"github.com/prepmed/billing/internal/app/service/ledger"
	"github.com/prepmed/billing/internal/models"
	"github.com/prepmed/billing/internal/platform/identity"
	"github.com/prepmed/billing/internal/platform/notify"
	"github.com/prepmed/billing/internal/provider"
	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/metrics"
	"github.com/prepmed/billing/pkg/types"

	"go.uber.org/zap"
)

// AdapterResolver resolves the payment adapter for a provider kind.
type AdapterResolver interface {
	Get(kind types.ProviderKind) (provider.Adapter, error)
}

// Service orchestrates the paid flows end to end: account creation, provider
// checkout, and folding provider signals into the subscription ledger. It owns
// the ordering and rollback rules; money math and state transitions live in
// the adapters and the ledger respectively.
type Service struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	ledger    *ledger.Service
	providers AdapterResolver
	directory identity.Directory
	notifier  notify.Notifier
	events    *eventlog.Service
}

func NewService(
	cfg *config.Config,
	log *zap.SugaredLogger,
	ledgerSvc *ledger.Service,
	providers AdapterResolver,
	directory identity.Directory,
	notifier notify.Notifier,
	events *eventlog.Service,
) *Service {
	return &Service{
		cfg:       cfg,
		log:       log,
		ledger:    ledgerSvc,
		providers: providers,
		directory: directory,
		notifier:  notifier,
		events:    events,
	}
}

type SignupRequest struct {
	Email           string             `json:"email" binding:"required,email"`
	Name            string             `json:"name" binding:"required"`
	Password        string             `json:"password" binding:"required,min=8"`
	TierID          string             `json:"tier_id" binding:"required"`
	Provider        types.ProviderKind `json:"provider" binding:"required"`
	PaymentMethodID string             `json:"payment_method_id"`
}

type SignupResult struct {
	UserID                 string                   `json:"user_id"`
	Status                 provider.CheckoutStatus  `json:"status"`
	ProviderSubscriptionID string                   `json:"provider_subscription_id,omitempty"`
	ContinuationToken      string                   `json:"continuation_token,omitempty"`
	CheckoutURL            string                   `json:"checkout_url,omitempty"`
	Subscription           *models.UserSubscription `json:"subscription,omitempty"`
}

// SignupCheckout runs the combined signup-and-subscribe flow. The account is
// created first because the provider objects need an owner; if payment then
// fails outright the account is rolled back so the email is not burned.
// A requires_action or pending_activation outcome keeps the account: the
// purchase is still in flight.
func (s *Service) SignupCheckout(ctx context.Context, req *SignupRequest) (*SignupResult, error) {
	tier := s.cfg.GetTierByID(req.TierID)
	if tier == nil {
		return nil, fmt.Errorf("%w: unknown tier %q", apperr.ErrValidation, req.TierID)
	}
	if !tier.SupportsProvider(req.Provider) {
		return nil, fmt.Errorf("%w: tier %q not purchasable on %s", apperr.ErrValidation, req.TierID, req.Provider)
	}
	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.Provider == types.ProviderKindStripe && req.PaymentMethodID == "" {
		return nil, fmt.Errorf("%w: payment_method_id is required for stripe", apperr.ErrValidation)
	}

	user, err := s.directory.CreateUser(ctx, req.Email, req.Name, req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	customerID, err := adapter.CreateCustomer(ctx, user.ID, req.Email)
	if err != nil {
		s.rollbackUser(ctx, user.ID, "create customer failed")
		return nil, err
	}

	checkout, err := adapter.StartSubscription(ctx, &provider.StartSubscriptionRequest{
		UserID:          user.ID,
		TierID:          req.TierID,
		CustomerID:      customerID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		s.rollbackUser(ctx, user.ID, "start subscription failed")
		return nil, err
	}

	result := &SignupResult{
		UserID:                 user.ID,
		Status:                 checkout.Status,
		ProviderSubscriptionID: checkout.ProviderSubscriptionID,
		ContinuationToken:      checkout.ContinuationToken,
		CheckoutURL:            checkout.CheckoutURL,
	}

	switch checkout.Status {
	case provider.CheckoutStatusConfirmed:
		sub, err := s.applyEvent(ctx, checkout.Event, "signup_checkout")
		if err != nil {
			// Payment went through but the ledger write failed: the account
			// must survive so support can reconcile against the provider.
			return nil, err
		}
		result.Subscription = sub
		return result, nil
	case provider.CheckoutStatusRequiresAction, provider.CheckoutStatusPendingActivation:
		logctx.FromCtx(ctx, s.log).Infof("signup checkout deferred, user_id=%s provider=%s status=%s", user.ID, req.Provider, checkout.Status)
		return result, nil
	default:
		s.rollbackUser(ctx, user.ID, "payment failed")
		return nil, fmt.Errorf("%w: payment was not accepted", apperr.ErrProvider)
	}
}

type ActivateRequest struct {
	Provider               types.ProviderKind `json:"provider" binding:"required"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" binding:"required"`
}

// ActivateCheckout finishes a deferred checkout: the stripe requires_action
// continuation or the razorpay payment-page callback. The caller only names
// the subscription; ownership and billing state come from the provider's
// canonical record.
func (s *Service) ActivateCheckout(ctx context.Context, req *ActivateRequest) (*models.UserSubscription, error) {
	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	event, err := adapter.Activate(ctx, req.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.applyEvent(ctx, event, "checkout_activation")
}

// applyEvent folds a normalized provider event into the ledger and emits the
// downstream notification. An activation signal that cannot be recorded is a
// reconciliation gap: the provider has the money, the ledger has nothing.
func (s *Service) applyEvent(ctx context.Context, event *provider.Event, trigger string) (*models.UserSubscription, error) {
	draft := draftFromEvent(event, trigger)
	sub, err := s.ledger.ApplyTransition(ctx, draft)
	if err != nil {
		if event.Kind == provider.EventKindCanceled {
			return nil, err
		}
		return nil, s.reportReconciliationGap(ctx, event, err)
	}

	routingKey := notify.KeySubscriptionActivated
	if event.Kind == provider.EventKindCanceled {
		routingKey = notify.KeySubscriptionCanceled
	}
	if err := s.notifier.Publish(ctx, routingKey, map[string]interface{}{
		"user_id":                  event.UserID,
		"tier_id":                  event.TierID,
		"provider":                 event.Provider,
		"provider_subscription_id": event.ProviderSubscriptionID,
		"kind":                     event.Kind,
	}); err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to publish %s: %v", routingKey, err)
	}
	return sub, nil
}

func draftFromEvent(event *provider.Event, trigger string) *ledger.TransitionDraft {
	subID := event.ProviderSubscriptionID
	draft := &ledger.TransitionDraft{
		UserID:                 event.UserID,
		TierID:                 event.TierID,
		ProviderKind:           event.Provider,
		ProviderSubscriptionID: &subID,
		ProviderCustomerID:     event.ProviderCustomerID,
		ProviderStatus:         event.ProviderStatus,
		StartDate:              event.PeriodStart,
		EndDate:                event.PeriodEnd,
		Extra: map[string]interface{}{
			"trigger":       trigger,
			"period_source": event.PeriodSource,
		},
	}
	switch event.Kind {
	case provider.EventKindRenewed:
		draft.Status = types.SubscriptionStatusActive
		draft.Reason = types.SubscriptionChangeReasonRenew
	case provider.EventKindCanceled:
		draft.Status = types.SubscriptionStatusInactive
		draft.Reason = types.SubscriptionChangeReasonCancel
	default:
		draft.Status = types.SubscriptionStatusActive
		draft.Reason = types.SubscriptionChangeReasonPurchase
	}
	return draft
}

// reportReconciliationGap records that money moved without a matching ledger
// write. The gap is surfaced to ops (metric + event) and to the caller as a
// typed error; it is never silently swallowed.
func (s *Service) reportReconciliationGap(ctx context.Context, event *provider.Event, cause error) error {
	metrics.IncBillingEvent("reconciliation_gap", string(event.Provider))
	logctx.FromCtx(ctx, s.log).Errorf("reconciliation gap: provider=%s subscription=%s user=%s cause=%v",
		event.Provider, event.ProviderSubscriptionID, event.UserID, cause)
	if err := s.notifier.Publish(ctx, notify.KeyReconciliationGap, map[string]interface{}{
		"user_id":                  event.UserID,
		"provider":                 event.Provider,
		"provider_subscription_id": event.ProviderSubscriptionID,
		"cause":                    cause.Error(),
		"occurred_at":              time.Now(),
	}); err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to publish reconciliation gap event: %v", err)
	}
	return fmt.Errorf("%w: subscription %s/%s paid but not recorded: %v",
		apperr.ErrReconciliationGap, event.Provider, event.ProviderSubscriptionID, cause)
}

// rollbackUser undoes the account created for a checkout that failed outright.
// A failed rollback is loud: the orphaned account blocks the email address.
func (s *Service) rollbackUser(ctx context.Context, userID, why string) {
	if err := s.directory.DeleteUser(ctx, userID); err != nil {
		metrics.IncBillingEvent("signup_rollback", "failed")
		logctx.FromCtx(ctx, s.log).Errorf("failed to roll back account %s after %s: %v", userID, why, err)
		return
	}
	logctx.FromCtx(ctx, s.log).Infof("rolled back account %s: %s", userID, why)
}
