package models

import "time"

// UserAccessFlag is the denormalized "does this user currently have access"
// boolean used for cheap UI gating. It is a cache derived from
// UserSubscription rows and is recomputed in the same transaction as every
// ledger transition; billing decisions must read the ledger, not this flag.
type UserAccessFlag struct {
	ID                    string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID                string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	HasActiveSubscription bool      `gorm:"column:has_active_subscription;not null" json:"has_active_subscription"`
	RecomputedAt          time.Time `gorm:"column:recomputed_at" json:"recomputed_at"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (UserAccessFlag) TableName() string {
	return "user_access_flag"
}
