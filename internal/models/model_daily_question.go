package models

import "time"

// DailyQuestion is the question-of-the-day. Owned by the content subsystem;
// the engine only reads it to score submissions.
type DailyQuestion struct {
	ID            string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Prompt        string    `gorm:"column:prompt;type:text" json:"prompt"`
	CorrectOption int       `gorm:"column:correct_option;not null" json:"-"`
	Points        int64     `gorm:"column:points;type:bigint" json:"points"`
	PublishOn     string    `gorm:"column:publish_on;type:varchar(10);index" json:"publish_on"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (DailyQuestion) TableName() string {
	return "daily_question"
}
