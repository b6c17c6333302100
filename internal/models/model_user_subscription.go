package models

import (
	"time"

	"github.com/prepmed/billing/pkg/types"
)

// UserSubscription is one subscription instance. A user accumulates rows over
// time; rows are never hard-deleted so the table doubles as purchase history.
// At most one row per user may be active at any instant; the ledger service is
// the only writer and enforces this inside its transaction.
type UserSubscription struct {
	ID     string                   `gorm:"column:id;type:uuid;primary_key;index:idx_user_sub_user_id,priority:2,sort:desc" json:"id"`
	UserID string                   `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_sub_user_id,priority:1" json:"user_id"`
	TierID string                   `gorm:"column:tier_id;type:varchar(64);not null" json:"tier_id"`
	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	// ProviderKind is "none" for reward grants and admin stand-ins.
	ProviderKind types.ProviderKind `gorm:"column:provider_kind;type:varchar(64);not null;uniqueIndex:unique_provider_subscription,priority:1" json:"provider_kind"`
	// ProviderSubscriptionID is the provider's subscription object id, unique
	// per provider. It is the dedup key for repeated delivery of the same
	// purchase; nil for provider-less rows.
	ProviderSubscriptionID *string `gorm:"column:provider_subscription_id;type:varchar(128);uniqueIndex:unique_provider_subscription,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string  `gorm:"column:provider_customer_id;type:varchar(128)" json:"provider_customer_id"`
	// ProviderStatus mirrors the provider's own status string for audit.
	ProviderStatus string    `gorm:"column:provider_status;type:varchar(64)" json:"provider_status"`
	StartDate      time.Time `gorm:"column:start_date;not null" json:"start_date"`
	EndDate        time.Time `gorm:"column:end_date;not null" json:"end_date"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserSubscription) TableName() string {
	return "user_subscription"
}

// ActiveAt reports whether the row grants access at t.
func (s *UserSubscription) ActiveAt(t time.Time) bool {
	return s != nil && s.Status == types.SubscriptionStatusActive && s.EndDate.After(t)
}

// Paid reports whether the row came from an external provider rather than a
// reward grant or admin stand-in.
func (s *UserSubscription) Paid() bool {
	return s != nil && s.ProviderKind != types.ProviderKindNone
}

// SameProviderSubscription reports whether the row and the incoming
// (provider, subscription id) pair describe the same external purchase.
func (s *UserSubscription) SameProviderSubscription(kind types.ProviderKind, providerSubscriptionID *string) bool {
	if s == nil || s.ProviderKind != kind {
		return false
	}
	if s.ProviderSubscriptionID == nil || providerSubscriptionID == nil {
		return false
	}
	return *s.ProviderSubscriptionID == *providerSubscriptionID
}
