package models

import (
	"time"

	"github.com/prepmed/billing/pkg/types"

	"gorm.io/datatypes"
)

// SubscriptionLog records changes to user subscription rows.
// Use case: troubleshooting and admin audit.
type SubscriptionLog struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);index:idx_sub_log_user_id_id,priority:1;not null"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null"`
	// Before stores the row before the change in JSON format; null for inserts.
	Before datatypes.JSONType[*UserSubscription] `gorm:"column:before;type:jsonb;default:'null'"`
	// After stores the row after the change in JSON format.
	After datatypes.JSONType[*UserSubscription] `gorm:"column:after;type:jsonb;default:'null'"`
	// Extra stores additional context such as the operator id and trigger source.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
