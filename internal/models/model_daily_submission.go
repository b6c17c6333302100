package models

import (
	"fmt"
	"strings"
	"time"
)

// DailySubmission is one answer per identity per daily question. The unique
// (daily_question_id, identity_key) index is the idempotency boundary for the
// reward path: a second attempt must surface the prior result, never a fresh
// score.
type DailySubmission struct {
	ID              string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	DailyQuestionID string `gorm:"column:daily_question_id;type:uuid;not null;uniqueIndex:unique_question_identity,priority:1" json:"daily_question_id"`
	// IdentityKey is "user:<id>" for registered users or
	// "guest:<lowercased email>" for guests.
	IdentityKey    string    `gorm:"column:identity_key;type:varchar(192);not null;uniqueIndex:unique_question_identity,priority:2" json:"identity_key"`
	UserID         *string   `gorm:"column:user_id;type:varchar(64);index" json:"user_id"`
	GuestName      string    `gorm:"column:guest_name;type:varchar(128)" json:"guest_name"`
	GuestEmail     string    `gorm:"column:guest_email;type:varchar(128)" json:"guest_email"`
	SelectedOption int       `gorm:"column:selected_option;not null" json:"selected_option"`
	IsCorrect      bool      `gorm:"column:is_correct;not null" json:"is_correct"`
	PointsAwarded  int64     `gorm:"column:points_awarded;type:bigint;not null" json:"points_awarded"`
	CreatedAt      time.Time `json:"created_at"`
}

func (DailySubmission) TableName() string {
	return "daily_submission"
}

// UserIdentityKey builds the identity key for a registered user.
func UserIdentityKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// GuestIdentityKey builds the identity key for a guest submission.
func GuestIdentityKey(email string) string {
	return fmt.Sprintf("guest:%s", strings.ToLower(strings.TrimSpace(email)))
}
