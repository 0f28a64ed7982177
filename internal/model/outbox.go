package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage holds a serialized TransactionEvent until the relay job hands
// it to Kafka. MessageKey is the account id so events of one account stay on
// one partition.
type OutboxMessage struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey   string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic        string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload      string    `gorm:"type:text;not null" json:"payload"`
	Status       string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount   int       `gorm:"not null;default:0" json:"retry_count"`
	RedriveCount int       `gorm:"not null;default:0" json:"redrive_count"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
