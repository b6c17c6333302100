package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prepmed/billing/pkg/apperr"
	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Tiers: []*types.SubscriptionTier{
			{
				ID:             "tier_quarterly",
				Name:           "Quarterly",
				PriceCents:     4900,
				Currency:       "usd",
				DurationMonths: 3,
				StripePriceID:  "price_q",
				RazorpayPlanID: "plan_q",
			},
			{
				ID:             "tier_free",
				Name:           "Free Month",
				DurationMonths: 1,
			},
		},
	}
}

func TestResolvePeriodEnd(t *testing.T) {
	log := zap.NewNop().Sugar()
	tier := &types.SubscriptionTier{ID: "tier_quarterly", DurationMonths: 3}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("provider date wins", func(t *testing.T) {
		providerEnd := start.AddDate(0, 0, 91)
		end, source := resolvePeriodEnd(log, tier, start, providerEnd)
		assert.Equal(t, providerEnd, end)
		assert.Equal(t, PeriodSourceProvider, source)
	})

	t.Run("missing provider date falls back to tier duration", func(t *testing.T) {
		end, source := resolvePeriodEnd(log, tier, start, time.Time{})
		assert.Equal(t, start.AddDate(0, 3, 0), end)
		assert.Equal(t, PeriodSourceTierDuration, source)
	})

	t.Run("provider date before start falls back", func(t *testing.T) {
		end, source := resolvePeriodEnd(log, tier, start, start.Add(-time.Hour))
		assert.Equal(t, start.AddDate(0, 3, 0), end)
		assert.Equal(t, PeriodSourceTierDuration, source)
	})
}

func TestRazorpayEventFromEntity(t *testing.T) {
	a := &RazorpayAdapter{cfg: testConfig(), log: zap.NewNop().Sugar()}

	entity := func() map[string]interface{} {
		return map[string]interface{}{
			"id":            "sub_123",
			"plan_id":       "plan_q",
			"status":        "active",
			"customer_id":   "cust_123",
			"current_start": float64(1780000000),
			"current_end":   float64(1788000000),
			"notes": map[string]interface{}{
				"user_id": "u-1",
				"tier_id": "tier_quarterly",
			},
		}
	}

	t.Run("well-formed entity", func(t *testing.T) {
		event, err := a.eventFromEntity(entity(), EventKindActivated)
		require.NoError(t, err)
		assert.Equal(t, EventKindActivated, event.Kind)
		assert.Equal(t, types.ProviderKindRazorpay, event.Provider)
		assert.Equal(t, "u-1", event.UserID)
		assert.Equal(t, "tier_quarterly", event.TierID)
		assert.Equal(t, "sub_123", event.ProviderSubscriptionID)
		assert.Equal(t, time.Unix(1788000000, 0), event.PeriodEnd)
		assert.Equal(t, PeriodSourceProvider, event.PeriodSource)
	})

	t.Run("missing ownership notes", func(t *testing.T) {
		e := entity()
		delete(e, "notes")
		_, err := a.eventFromEntity(e, EventKindActivated)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("unknown plan", func(t *testing.T) {
		e := entity()
		e["plan_id"] = "plan_unknown"
		_, err := a.eventFromEntity(e, EventKindActivated)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("no billing dates yet uses tier duration", func(t *testing.T) {
		e := entity()
		delete(e, "current_start")
		delete(e, "current_end")
		event, err := a.eventFromEntity(e, EventKindActivated)
		require.NoError(t, err)
		assert.Equal(t, PeriodSourceTierDuration, event.PeriodSource)
		assert.Equal(t, event.PeriodStart.AddDate(0, 3, 0), event.PeriodEnd)
	})

	t.Run("id must be a string", func(t *testing.T) {
		e := entity()
		e["id"] = 12345
		_, err := a.eventFromEntity(e, EventKindActivated)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})
}

func TestStripeEventFromSubscription(t *testing.T) {
	a := &StripeAdapter{cfg: testConfig(), log: zap.NewNop().Sugar()}

	sub := &stripe.Subscription{
		ID:                 "sub_abc",
		Status:             stripe.SubscriptionStatusActive,
		CurrentPeriodStart: 1780000000,
		CurrentPeriodEnd:   1788000000,
		Customer:           &stripe.Customer{ID: "cus_abc"},
		Metadata: map[string]string{
			"user_id": "u-1",
			"tier_id": "tier_quarterly",
		},
	}

	event, err := a.eventFromSubscription(sub, EventKindRenewed)
	require.NoError(t, err)
	assert.Equal(t, EventKindRenewed, event.Kind)
	assert.Equal(t, "u-1", event.UserID)
	assert.Equal(t, "cus_abc", event.ProviderCustomerID)
	assert.Equal(t, "active", event.ProviderStatus)
	assert.Equal(t, PeriodSourceProvider, event.PeriodSource)

	t.Run("missing metadata is rejected", func(t *testing.T) {
		bare := *sub
		bare.Metadata = nil
		_, err := a.eventFromSubscription(&bare, EventKindActivated)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})
}

func TestStripeParseWebhook_InvoiceRefetchHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.Stripe.WebhookSecret = "whsec_test"
	a := NewStripeAdapter(cfg, zap.NewNop().Sugar())

	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{"id":"in_1","subscription":"sub_abc"}}}`)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(cfg.Stripe.WebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	// The renewal path re-fetches the subscription; a dead request context has
	// to stop that call before it goes anywhere.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.ParseWebhook(ctx, payload, sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProvider))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&StripeAdapter{}, &RazorpayAdapter{})

	adapter, err := r.Get(types.ProviderKindStripe)
	require.NoError(t, err)
	assert.Equal(t, types.ProviderKindStripe, adapter.Kind())

	_, err = r.Get(types.ProviderKind("paypal"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
