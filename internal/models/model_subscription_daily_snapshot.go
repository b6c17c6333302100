package models

import "time"

// SubscriptionDailySnapshot is a per-day aggregate of the ledger for the
// admin statistics screens, written by the nightly scheduler job.
type SubscriptionDailySnapshot struct {
	ID string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	// SnapshotDate is the day the counts describe, formatted YYYY-MM-DD.
	SnapshotDate string `gorm:"column:snapshot_date;type:varchar(10);uniqueIndex" json:"snapshot_date"`
	ActiveCount  int64  `gorm:"column:active_count;type:bigint;not null" json:"active_count"`
	// NewCount is the number of subscription rows that started on that day.
	NewCount  int64     `gorm:"column:new_count;type:bigint;not null" json:"new_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SubscriptionDailySnapshot) TableName() string {
	return "subscription_daily_snapshot"
}
