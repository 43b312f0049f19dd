package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// LibSQLConversationStore persists conversation turns in the conversation_turns
// table created by the db migrations.
type LibSQLConversationStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLConversationStore creates a store over an already migrated database.
func NewLibSQLConversationStore(db *sql.DB) *LibSQLConversationStore {
	return &LibSQLConversationStore{db: db, now: time.Now}
}

type storedTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UseCase   string    `json:"use_case,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveTurn appends a turn to the conversation.
func (s *LibSQLConversationStore) SaveTurn(ctx context.Context, conversationID string, turn ports.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(storedTurn(turn))
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (conversation_id, turn_data, created_at) VALUES (?, ?, ?)`,
		conversationID, string(data), turn.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return nil
}

// LoadContext returns the last k turns, oldest first. k <= 0 loads everything.
func (s *LibSQLConversationStore) LoadContext(ctx context.Context, conversationID string, k int) ([]ports.Turn, error) {
	if k <= 0 {
		k = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_data FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?`, conversationID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.Turn
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var st storedTurn
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, ports.Turn(st))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AppendToolArtifact records a capability result as a tool turn.
func (s *LibSQLConversationStore) AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error {
	return s.SaveTurn(ctx, conversationID, ports.Turn{
		Role:    "tool",
		Content: fmt.Sprintf("%s: %s", name, payload),
		UseCase: "action",
	})
}

var _ ports.ConversationStore = (*LibSQLConversationStore)(nil)
