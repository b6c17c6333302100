package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"go.uber.org/zap"
)

// RazorpayAdapter drives the asynchronous checkout flow: signup only creates
// the provider-side subscription, and activation arrives later via the client
// callback or a webhook. The SDK hands back untyped maps, so every field the
// engine relies on is checked at this boundary.
type RazorpayAdapter struct {
	cfg *config.Config
	log *zap.SugaredLogger
	rc  *razorpay.Client
}

func NewRazorpayAdapter(cfg *config.Config, log *zap.SugaredLogger) *RazorpayAdapter {
	return &RazorpayAdapter{
		cfg: cfg,
		log: log,
		rc:  razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret),
	}
}

func (a *RazorpayAdapter) Kind() types.ProviderKind {
	return types.ProviderKindRazorpay
}

func (a *RazorpayAdapter) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	data := map[string]interface{}{
		"email":         email,
		"fail_existing": "0",
		"notes": map[string]interface{}{
			"user_id": userID,
		},
	}
	cust, err := a.rc.Customer.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: razorpay create customer: %v", apperr.ErrProvider, err)
	}
	id, ok := stringField(cust, "id")
	if !ok {
		return "", fmt.Errorf("%w: razorpay customer response missing id", apperr.ErrProvider)
	}
	return id, nil
}

func (a *RazorpayAdapter) StartSubscription(ctx context.Context, req *StartSubscriptionRequest) (*CheckoutResult, error) {
	tier := a.cfg.GetTierByID(req.TierID)
	if tier == nil || tier.RazorpayPlanID == "" {
		return nil, fmt.Errorf("%w: tier %s not purchasable on razorpay", apperr.ErrValidation, req.TierID)
	}
	data := map[string]interface{}{
		"plan_id":         tier.RazorpayPlanID,
		"customer_id":     req.CustomerID,
		"total_count":     12,
		"customer_notify": 1,
		"notes": map[string]interface{}{
			"user_id": req.UserID,
			"tier_id": req.TierID,
		},
	}
	sub, err := a.rc.Subscription.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: razorpay create subscription: %v", apperr.ErrProvider, err)
	}
	id, ok := stringField(sub, "id")
	if !ok {
		return nil, fmt.Errorf("%w: razorpay subscription response missing id", apperr.ErrProvider)
	}
	shortURL, _ := stringField(sub, "short_url")
	return &CheckoutResult{
		Status:                 CheckoutStatusPendingActivation,
		ProviderSubscriptionID: id,
		CheckoutURL:            shortURL,
	}, nil
}

// Activate handles the client-side payment callback. The callback only names
// the subscription; the state that matters is re-fetched from the provider so
// a forged callback cannot activate anything the provider did not charge.
func (a *RazorpayAdapter) Activate(ctx context.Context, providerSubscriptionID string) (*Event, error) {
	sub, err := a.rc.Subscription.Fetch(providerSubscriptionID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: razorpay fetch subscription: %v", apperr.ErrProvider, err)
	}
	status, _ := stringField(sub, "status")
	switch status {
	case "authenticated", "active":
	default:
		return nil, fmt.Errorf("%w: subscription %s not active (%s)", apperr.ErrValidation, providerSubscriptionID, status)
	}
	return a.eventFromEntity(sub, EventKindActivated)
}

// CancelSubscription cancels provider billing at the end of the current cycle.
// Not wired to admin deactivation, which only changes the local ledger.
func (a *RazorpayAdapter) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	data := map[string]interface{}{
		"cancel_at_cycle_end": 1,
	}
	if _, err := a.rc.Subscription.Cancel(providerSubscriptionID, data, nil); err != nil {
		return fmt.Errorf("%w: razorpay cancel subscription: %v", apperr.ErrProvider, err)
	}
	return nil
}

func (a *RazorpayAdapter) ParseWebhook(ctx context.Context, body []byte, signature string) (*Event, error) {
	if !utils.VerifyWebhookSignature(string(body), signature, a.cfg.Razorpay.WebhookSecret) {
		return nil, fmt.Errorf("%w: razorpay webhook signature mismatch", apperr.ErrAuthenticity)
	}

	var payload struct {
		Event   string `json:"event"`
		Payload struct {
			Subscription struct {
				Entity map[string]interface{} `json:"entity"`
			} `json:"subscription"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: razorpay webhook payload: %v", apperr.ErrValidation, err)
	}

	var kind EventKind
	switch payload.Event {
	case "subscription.activated", "subscription.authenticated":
		kind = EventKindActivated
	case "subscription.charged":
		kind = EventKindRenewed
	case "subscription.cancelled", "subscription.completed", "subscription.halted":
		kind = EventKindCanceled
	default:
		return nil, nil
	}
	if payload.Payload.Subscription.Entity == nil {
		return nil, fmt.Errorf("%w: razorpay webhook %s missing subscription entity", apperr.ErrValidation, payload.Event)
	}
	return a.eventFromEntity(payload.Payload.Subscription.Entity, kind)
}

// eventFromEntity maps an untyped subscription entity to the normalized
// event. Ownership comes from the notes stamped at checkout creation.
func (a *RazorpayAdapter) eventFromEntity(entity map[string]interface{}, kind EventKind) (*Event, error) {
	id, ok := stringField(entity, "id")
	if !ok {
		return nil, fmt.Errorf("%w: razorpay subscription entity missing id", apperr.ErrValidation)
	}
	planID, ok := stringField(entity, "plan_id")
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s missing plan_id", apperr.ErrValidation, id)
	}
	status, _ := stringField(entity, "status")

	notes, _ := entity["notes"].(map[string]interface{})
	userID, _ := stringField(notes, "user_id")
	tierID, _ := stringField(notes, "tier_id")
	if userID == "" || tierID == "" {
		return nil, fmt.Errorf("%w: subscription %s missing ownership notes", apperr.ErrValidation, id)
	}

	tier, err := a.cfg.GetTierByProviderPlanID(types.ProviderKindRazorpay, planID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s: %v", apperr.ErrValidation, id, err)
	}
	if tier.ID != tierID {
		a.log.Warnw("razorpay plan/tier note mismatch, trusting plan",
			"subscription_id", id,
			"plan_tier_id", tier.ID,
			"note_tier_id", tierID,
		)
	}

	start, ok := timeField(entity, "current_start")
	if !ok {
		start = time.Now()
	}
	providerEnd, _ := timeField(entity, "current_end")
	end, source := resolvePeriodEnd(a.log, tier, start, providerEnd)

	customerID, _ := stringField(entity, "customer_id")
	return &Event{
		Kind:                   kind,
		Provider:               types.ProviderKindRazorpay,
		UserID:                 userID,
		TierID:                 tier.ID,
		ProviderSubscriptionID: id,
		ProviderCustomerID:     customerID,
		ProviderStatus:         status,
		PeriodStart:            start,
		PeriodEnd:              end,
		PeriodSource:           source,
	}, nil
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok && s != ""
}

// timeField reads a unix-seconds field; JSON numbers arrive as float64.
func timeField(m map[string]interface{}, key string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	switch v := m[key].(type) {
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(v), 0), true
	case json.Number:
		sec, err := v.Int64()
		if err != nil || sec <= 0 {
			return time.Time{}, false
		}
		return time.Unix(sec, 0), true
	default:
		return time.Time{}, false
	}
}
