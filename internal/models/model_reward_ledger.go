package models

import "time"

// RewardLedger accumulates daily-quiz points per registered user. TotalPoints
// is monotonically non-decreasing except for explicit admin resets.
type RewardLedger struct {
	ID          string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID      string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	TotalPoints int64  `gorm:"column:total_points;type:bigint;not null;default:0" json:"total_points"`
	// LastAwardAt is when the last free grant was issued; nil if never.
	LastAwardAt *time.Time `gorm:"column:last_award_at;default:null" json:"last_award_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (RewardLedger) TableName() string {
	return "reward_ledger"
}
