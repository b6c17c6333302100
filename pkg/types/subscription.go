package types

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

type ProviderKind string

const (
	ProviderKindNone     ProviderKind = "none"
	ProviderKindStripe   ProviderKind = "stripe"
	ProviderKindRazorpay ProviderKind = "razorpay"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonPurchase    SubscriptionChangeReason = "purchase"
	SubscriptionChangeReasonRenew       SubscriptionChangeReason = "renew"
	SubscriptionChangeReasonCancel      SubscriptionChangeReason = "cancel"
	SubscriptionChangeReasonExpire      SubscriptionChangeReason = "expire"
	SubscriptionChangeReasonRewardGrant SubscriptionChangeReason = "reward_grant"
	SubscriptionChangeReasonAdmin       SubscriptionChangeReason = "admin"
)
