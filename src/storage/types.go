package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONStringArray is a custom type for handling JSON arrays stored as strings in the database
type JSONStringArray []string

// Scan implements the sql.Scanner interface for JSONStringArray
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = []string{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "" || v == "[]" {
			*j = []string{}
			return nil
		}
		return json.Unmarshal([]byte(v), j)
	case []byte:
		if len(v) == 0 || string(v) == "[]" {
			*j = []string{}
			return nil
		}
		return json.Unmarshal(v, j)
	default:
		return fmt.Errorf("cannot scan type %T into JSONStringArray", value)
	}
}

// Value implements the driver.Valuer interface for JSONStringArray.
// The value is a string so postgres stores it as text rather than bytea.
func (j JSONStringArray) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONMap stores free-form metadata as a JSON object
type JSONMap map[string]any

// Scan implements the sql.Scanner interface for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan type %T into JSONMap", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Value implements the driver.Valuer interface for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// TurnStatus is the lifecycle state of a turn row.
type TurnStatus string

const (
	TurnPending  TurnStatus = "pending"
	TurnComplete TurnStatus = "complete"
	TurnError    TurnStatus = "error"
)

// MessageStatus is the lifecycle state of a message row.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageStreaming MessageStatus = "streaming"
	MessageComplete  MessageStatus = "complete"
	MessageError     MessageStatus = "error"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Chat is a conversation, created lazily on its first turn.
type Chat struct {
	ID        string  `json:"id" db:"id"`
	Title     *string `json:"title,omitempty" db:"title"`
	UserID    string  `json:"user_id" db:"user_id"`
	Metadata  JSONMap `json:"metadata" db:"metadata"`
	CreatedTs int64   `json:"created_ts" db:"created_ts"`
	UpdatedTs int64   `json:"updated_ts" db:"updated_ts"`
}

// Turn is one request/response cycle within a chat.
type Turn struct {
	ChatID       string          `json:"chat_id" db:"chat_id"`
	TurnID       int64           `json:"turn_id" db:"turn_id"`
	Model        string          `json:"model" db:"model"`
	Temperature  *float64        `json:"temperature,omitempty" db:"temperature"`
	TopP         *float64        `json:"top_p,omitempty" db:"top_p"`
	Status       TurnStatus      `json:"status" db:"status"`
	FinishReason string          `json:"finish_reason" db:"finish_reason"`
	LatencyMs    *int64          `json:"latency_ms,omitempty" db:"latency_ms"`
	Warnings     JSONStringArray `json:"warnings" db:"warnings"`
	Errors       JSONStringArray `json:"errors" db:"errors"`
	Metadata     JSONMap         `json:"metadata" db:"metadata"`
	CreatedTs    int64           `json:"created_ts" db:"created_ts"`
	FinishedTs   *int64          `json:"finished_ts,omitempty" db:"finished_ts"`
}

// TurnCompletion carries the terminal fields written when a turn ends.
type TurnCompletion struct {
	ChatID       string
	TurnID       int64
	Status       TurnStatus
	FinishReason string
	LatencyMs    *int64
	Warnings     JSONStringArray
	Errors       JSONStringArray
	FinishedTs   int64
}

// Message is one text, tool call or tool result row within a turn.
type Message struct {
	ID           int64         `json:"id" db:"id"`
	ChatID       string        `json:"chat_id" db:"chat_id"`
	TurnID       int64         `json:"turn_id" db:"turn_id"`
	MessageOrder int64         `json:"message_order" db:"message_order"`
	Role         string        `json:"role" db:"role"`
	Content      *string       `json:"content,omitempty" db:"content"`
	ToolName     *string       `json:"tool_name,omitempty" db:"tool_name"`
	ToolCallID   *string       `json:"tool_call_id,omitempty" db:"tool_call_id"`
	Status       MessageStatus `json:"status" db:"status"`
	CreatedTs    int64         `json:"created_ts" db:"created_ts"`
	UpdatedTs    int64         `json:"updated_ts" db:"updated_ts"`
}

// MessageUpdate changes the mutable fields of a message. Nil fields are left untouched.
type MessageUpdate struct {
	ID        int64
	Content   *string
	Status    *MessageStatus
	UpdatedTs int64
}

// TokenUsage is the single usage row recorded for a finished turn.
type TokenUsage struct {
	ID               int64  `json:"id" db:"id"`
	ChatID           string `json:"chat_id" db:"chat_id"`
	TurnID           int64  `json:"turn_id" db:"turn_id"`
	PromptTokens     int64  `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens" db:"total_tokens"`
	CreatedTs        int64  `json:"created_ts" db:"created_ts"`
}

// UsageTotals aggregates token usage rows.
type UsageTotals struct {
	Turns            int64 `json:"turns" db:"turns"`
	PromptTokens     int64 `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens" db:"total_tokens"`
}
