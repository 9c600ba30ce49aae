package models

import (
	"time"
)

const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
	MessageTypeFile   = "file"
)

type Message struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID int64     `json:"conversation_id" db:"conversation_id"`
	SenderID       int64     `json:"sender_id" db:"sender_id"`
	Text           string    `json:"message_text" db:"message_text"`
	Type           string    `json:"message_type" db:"message_type"`
	IsDeleted      bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
