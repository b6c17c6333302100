package provider

import (
	"context"
	"time"

	"github.com/prepmed/billing/pkg/types"
)

type EventKind string

const (
	EventKindActivated EventKind = "activated"
	EventKindRenewed   EventKind = "renewed"
	EventKindCanceled  EventKind = "canceled"
)

// PeriodSource records where an event's period end came from, so the
// tier-duration fallback is distinguishable from authoritative provider dates
// in logs and audit rows.
type PeriodSource string

const (
	PeriodSourceProvider     PeriodSource = "provider"
	PeriodSourceTierDuration PeriodSource = "tier_duration"
)

// Event is the normalized activation signal both providers are mapped to
// before anything touches the ledger. It is ephemeral; only the webhook event
// log keeps the raw payload.
type Event struct {
	Kind                   EventKind          `json:"kind"`
	Provider               types.ProviderKind `json:"provider"`
	UserID                 string             `json:"user_id"`
	TierID                 string             `json:"tier_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	ProviderCustomerID     string             `json:"provider_customer_id"`
	ProviderStatus         string             `json:"provider_status"`
	PeriodStart            time.Time          `json:"period_start"`
	PeriodEnd              time.Time          `json:"period_end"`
	PeriodSource           PeriodSource       `json:"period_source"`
}

type CheckoutStatus string

const (
	// CheckoutStatusConfirmed means the provider confirmed payment
	// synchronously and the result carries an activation event.
	CheckoutStatusConfirmed CheckoutStatus = "confirmed"
	// CheckoutStatusRequiresAction means the provider wants further customer
	// authentication; the continuation token is handed back to the client.
	// Neither success nor failure.
	CheckoutStatusRequiresAction CheckoutStatus = "requires_action"
	// CheckoutStatusPendingActivation means the provider activates
	// asynchronously; the client finishes on the checkout URL and activation
	// arrives via callback or webhook.
	CheckoutStatusPendingActivation CheckoutStatus = "pending_activation"
	CheckoutStatusFailed            CheckoutStatus = "failed"
)

type StartSubscriptionRequest struct {
	UserID          string
	TierID          string
	CustomerID      string
	PaymentMethodID string
}

type CheckoutResult struct {
	Status                 CheckoutStatus `json:"status"`
	ProviderSubscriptionID string         `json:"provider_subscription_id,omitempty"`
	// ContinuationToken lets the client complete a requires_action challenge.
	ContinuationToken string `json:"continuation_token,omitempty"`
	// CheckoutURL is the provider-hosted page for pending_activation flows.
	CheckoutURL string `json:"checkout_url,omitempty"`
	// Event is set only for confirmed checkouts.
	Event *Event `json:"-"`
}

// Adapter hides one provider's checkout and activation shapes. Implementations
// must not be trusted to be fast: every method is a network call and callers
// hold no locks across them.
type Adapter interface {
	Kind() types.ProviderKind
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	StartSubscription(ctx context.Context, req *StartSubscriptionRequest) (*CheckoutResult, error)
	// Activate confirms an asynchronous checkout. The canonical subscription
	// state is re-fetched from the provider; the caller's input is never
	// trusted for billing dates.
	Activate(ctx context.Context, providerSubscriptionID string) (*Event, error)
	// CancelSubscription stops provider billing. Admin deactivation does NOT
	// call this; the ledger change is local and the billing gap is logged.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
	// ParseWebhook verifies the delivery signature (fail closed) and maps the
	// payload to an Event. A nil event with nil error means the event kind is
	// not one this engine consumes.
	ParseWebhook(ctx context.Context, body []byte, signature string) (*Event, error)
}
