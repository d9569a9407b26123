package model

import "time"

// Session is a conversation container. Name is auto-generated from the first
// turn once both a user and an AI message exist in it.
type Session struct {
	UUID        string    `json:"uuid"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	LastMessage string    `json:"last_message"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
