package model

import (
	"encoding/json"
	"time"
)

// SendType distinguishes who a message is "from" for history-loading
// purposes. A SUMMARY message supersedes all earlier messages in a session.
type SendType int

const (
	SendUser    SendType = 0
	SendAI      SendType = 1
	SendSummary SendType = 2
)

// Message is a single turn entry in a Session. Within a session, messages
// are totally ordered by CreatedAt.
type Message struct {
	UUID       string          `json:"uuid"`
	SessionID  string          `json:"session_id"`
	Content    string          `json:"content"`
	SendType   SendType        `json:"send_type"`
	SendID     string          `json:"send_id"`
	SendName   string          `json:"send_name"`
	SendAvatar string          `json:"send_avatar,omitempty"`
	ReceiveID  string          `json:"receive_id,omitempty"`
	FileType   *string         `json:"file_type,omitempty"`
	FileName   *string         `json:"file_name,omitempty"`
	FileSize   *int64          `json:"file_size,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	SendAt     time.Time       `json:"send_at"`
}

// MessageExtra is the shape of Message.Extra for AI messages: cited
// documents and, when show_thinking was requested, the reasoning trace.
type MessageExtra struct {
	FileURL         string         `json:"file_url,omitempty"`
	ParsedContent   string         `json:"parsed_content,omitempty"`
	Location        string         `json:"location,omitempty"`
	ThoughtChainID  string         `json:"thought_chain_id,omitempty"`
	Documents       []DocumentRef  `json:"documents,omitempty"`
	Thoughts        []string       `json:"thoughts,omitempty"`
	Actions         []string       `json:"actions,omitempty"`
	Observations    []string       `json:"observations,omitempty"`
	LikeCount       int            `json:"like_count,omitempty"`
	DislikeCount    int            `json:"dislike_count,omitempty"`
}

// DocumentRef is the minimal document pointer carried in message/chain extras
// and emitted in the `documents` SSE event.
type DocumentRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}
