package transcript

import (
	"context"
	"time"
)

// Sender values for transcript messages.
const (
	SenderUser    = "user"
	SenderAdvisor = "ai"
)

// Message is one line of a session transcript. Transcripts are display
// state, separate from billing: losing one never affects the ledger.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps per-session transcripts.
type Store interface {
	Append(ctx context.Context, sessionID string, msg Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
}
