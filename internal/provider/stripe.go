package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
)

// StripeAdapter drives the synchronous checkout flow: payment is confirmed
// (or challenged) within the signup request itself.
type StripeAdapter struct {
	cfg *config.Config
	log *zap.SugaredLogger
	sc  *client.API
}

func NewStripeAdapter(cfg *config.Config, log *zap.SugaredLogger) *StripeAdapter {
	return &StripeAdapter{
		cfg: cfg,
		log: log,
		sc:  client.New(cfg.Stripe.SecretKey, nil),
	}
}

func (a *StripeAdapter) Kind() types.ProviderKind {
	return types.ProviderKindStripe
}

func (a *StripeAdapter) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	cust, err := a.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: stripe create customer: %v", apperr.ErrProvider, err)
	}
	return cust.ID, nil
}

func (a *StripeAdapter) StartSubscription(ctx context.Context, req *StartSubscriptionRequest) (*CheckoutResult, error) {
	tier := a.cfg.GetTierByID(req.TierID)
	if tier == nil || tier.StripePriceID == "" {
		return nil, fmt.Errorf("%w: tier %s not purchasable on stripe", apperr.ErrValidation, req.TierID)
	}

	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(req.CustomerID),
	}
	attachParams.Context = ctx
	if _, err := a.sc.PaymentMethods.Attach(req.PaymentMethodID, attachParams); err != nil {
		return nil, fmt.Errorf("%w: stripe attach payment method: %v", apperr.ErrProvider, err)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(tier.StripePriceID)},
		},
		DefaultPaymentMethod: stripe.String(req.PaymentMethodID),
		// allow_incomplete so a declined or challenged first invoice comes back
		// as a subscription object instead of an opaque error.
		PaymentBehavior: stripe.String("allow_incomplete"),
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("tier_id", req.TierID)
	sub, err := a.sc.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe create subscription: %v", apperr.ErrProvider, err)
	}

	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		event, err := a.eventFromSubscription(sub, EventKindActivated)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{
			Status:                 CheckoutStatusConfirmed,
			ProviderSubscriptionID: sub.ID,
			Event:                  event,
		}, nil
	case stripe.SubscriptionStatusIncomplete:
		pi := a.paymentIntentOf(sub)
		if pi != nil && pi.Status == stripe.PaymentIntentStatusRequiresAction {
			return &CheckoutResult{
				Status:                 CheckoutStatusRequiresAction,
				ProviderSubscriptionID: sub.ID,
				ContinuationToken:      pi.ClientSecret,
			}, nil
		}
		a.log.Warnw("stripe checkout not confirmed",
			"subscription_id", sub.ID,
			"subscription_status", sub.Status,
		)
		return &CheckoutResult{
			Status:                 CheckoutStatusFailed,
			ProviderSubscriptionID: sub.ID,
		}, nil
	default:
		return &CheckoutResult{
			Status:                 CheckoutStatusFailed,
			ProviderSubscriptionID: sub.ID,
		}, nil
	}
}

// Activate re-fetches the subscription after the client completed a
// requires_action challenge.
func (a *StripeAdapter) Activate(ctx context.Context, providerSubscriptionID string) (*Event, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.Get(providerSubscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe fetch subscription: %v", apperr.ErrProvider, err)
	}
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return nil, fmt.Errorf("%w: subscription %s not active (%s)", apperr.ErrValidation, sub.ID, sub.Status)
	}
	return a.eventFromSubscription(sub, EventKindActivated)
}

// CancelSubscription cancels provider billing immediately. Not wired to admin
// deactivation, which only changes the local ledger.
func (a *StripeAdapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.sc.Subscriptions.Cancel(providerSubscriptionID, params); err != nil {
		return fmt.Errorf("%w: stripe cancel subscription: %v", apperr.ErrProvider, err)
	}
	return nil
}

func (a *StripeAdapter) ParseWebhook(ctx context.Context, body []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(body, signature, a.cfg.Stripe.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe signature: %v", apperr.ErrAuthenticity, err)
	}

	var kind EventKind
	switch event.Type {
	case "customer.subscription.created":
		kind = EventKindActivated
	case "customer.subscription.updated", "invoice.payment_succeeded":
		kind = EventKindRenewed
	case "customer.subscription.deleted":
		kind = EventKindCanceled
	default:
		return nil, nil
	}
	if event.Type == "invoice.payment_succeeded" {
		return a.eventFromInvoice(ctx, &event)
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: stripe event payload: %v", apperr.ErrValidation, err)
	}
	return a.eventFromSubscription(&sub, kind)
}

func (a *StripeAdapter) eventFromInvoice(ctx context.Context, event *stripe.Event) (*Event, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: stripe invoice payload: %v", apperr.ErrValidation, err)
	}
	if inv.Subscription == nil {
		// One-off invoice, not a subscription cycle.
		return nil, nil
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := a.sc.Subscriptions.Get(inv.Subscription.ID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe fetch subscription: %v", apperr.ErrProvider, err)
	}
	return a.eventFromSubscription(sub, EventKindRenewed)
}

// eventFromSubscription maps a stripe subscription to the normalized event.
// Ownership comes from the metadata stamped at checkout creation, never from
// caller input.
func (a *StripeAdapter) eventFromSubscription(sub *stripe.Subscription, kind EventKind) (*Event, error) {
	userID := sub.Metadata["user_id"]
	tierID := sub.Metadata["tier_id"]
	if userID == "" || tierID == "" {
		return nil, fmt.Errorf("%w: subscription %s missing ownership metadata", apperr.ErrValidation, sub.ID)
	}
	tier := a.cfg.GetTierByID(tierID)
	if tier == nil {
		return nil, fmt.Errorf("%w: subscription %s references unknown tier %s", apperr.ErrValidation, sub.ID, tierID)
	}

	start := time.Unix(sub.CurrentPeriodStart, 0)
	var providerEnd time.Time
	if sub.CurrentPeriodEnd > 0 {
		providerEnd = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	end, source := resolvePeriodEnd(a.log, tier, start, providerEnd)

	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return &Event{
		Kind:                   kind,
		Provider:               types.ProviderKindStripe,
		UserID:                 userID,
		TierID:                 tierID,
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     customerID,
		ProviderStatus:         string(sub.Status),
		PeriodStart:            start,
		PeriodEnd:              end,
		PeriodSource:           source,
	}, nil
}

func (a *StripeAdapter) paymentIntentOf(sub *stripe.Subscription) *stripe.PaymentIntent {
	if sub.LatestInvoice == nil {
		return nil
	}
	return sub.LatestInvoice.PaymentIntent
}
