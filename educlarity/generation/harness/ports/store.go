package harnessports

import (
	"context"
	"time"
)

// Turn is one persisted exchange of a coaching or support conversation.
type Turn struct {
	Role      string // "user" | "model" | "tool"
	Content   string
	UseCase   string // "coach", "support", ...
	CreatedAt time.Time
}

// ConversationStore persists conversation history and tool artifacts.
type ConversationStore interface {
	SaveTurn(ctx context.Context, conversationID string, turn Turn) error
	LoadContext(ctx context.Context, conversationID string, k int) ([]Turn, error) // last-k turns, oldest first
	AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error
}
