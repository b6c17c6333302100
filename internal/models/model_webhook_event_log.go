package models

import (
	"time"

	"github.com/prepmed/billing/pkg/types"

	"gorm.io/datatypes"
)

type WebhookEventLogStatus string

const (
	WebhookEventLogStatusReceived     WebhookEventLogStatus = "received"
	WebhookEventLogStatusRejected     WebhookEventLogStatus = "rejected"
	WebhookEventLogStatusHandled      WebhookEventLogStatus = "handled"
	WebhookEventLogStatusHandleFailed WebhookEventLogStatus = "handle_failed"
)

// WebhookEventLog keeps every provider delivery (and its outcome) for audit.
// Rejected rows are signature failures and are treated as security events.
type WebhookEventLog struct {
	ID                     string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderKind           types.ProviderKind    `gorm:"column:provider_kind;type:varchar(64);not null" json:"provider_kind"`
	EventKind              string                `gorm:"column:event_kind;type:varchar(64)" json:"event_kind"`
	UserID                 *string               `gorm:"column:user_id;type:varchar(64)" json:"user_id"`
	TraceID                string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	ProviderSubscriptionID string                `gorm:"column:provider_subscription_id;type:varchar(128)" json:"provider_subscription_id"`
	ReceivedAt             time.Time             `gorm:"column:received_at" json:"received_at"`
	Data                   datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Result                 *datatypes.JSON       `gorm:"column:result;type:jsonb" json:"result"`
	Status                 WebhookEventLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt              time.Time             `json:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at"`
}

func (WebhookEventLog) TableName() string { return "webhook_event_log" }
