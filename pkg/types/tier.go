package types

// SubscriptionTier is a purchasable plan from the config-resident catalog.
// Tiers are created and edited by admins through the catalog tooling; the
// engine only reads them.
type SubscriptionTier struct {
	ID             string `json:"id" mapstructure:"id"`
	Name           string `json:"name" mapstructure:"name"`
	PriceCents     int64  `json:"price_cents" mapstructure:"price_cents"`
	Currency       string `json:"currency" mapstructure:"currency"`
	DurationMonths int    `json:"duration_months" mapstructure:"duration_months"`
	// Provider-specific plan identifiers. A tier may support zero, one, or
	// both providers; an empty value means the tier is not purchasable there.
	StripePriceID  string `json:"stripe_price_id" mapstructure:"stripe_price_id"`
	RazorpayPlanID string `json:"razorpay_plan_id" mapstructure:"razorpay_plan_id"`
}

func (t *SubscriptionTier) SupportsProvider(p ProviderKind) bool {
	switch p {
	case ProviderKindStripe:
		return t.StripePriceID != ""
	case ProviderKindRazorpay:
		return t.RazorpayPlanID != ""
	case ProviderKindNone:
		return true
	}
	return false
}
