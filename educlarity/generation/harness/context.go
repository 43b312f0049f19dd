package harness

import (
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
)

// Budget bounds how much history and context goes into one prompt.
type Budget struct {
	MaxContextTokens int
	MaxTurns         int
}

// ContextAssembler windows conversation history and packs context lines.
type ContextAssembler struct {
	budget         Budget
	TokenEstimator func(s string) int
}

// NewContextAssembler creates an assembler. A nil estimator uses ~4 chars per token.
func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = func(s string) int {
			if len(s) == 0 {
				return 0
			}
			return (len(s) + 3) / 4
		}
	}
	if b.MaxContextTokens <= 0 {
		b.MaxContextTokens = 8000
	}
	if b.MaxTurns <= 0 {
		b.MaxTurns = 20
	}
	return &ContextAssembler{budget: b, TokenEstimator: est}
}

// Window converts the newest history turns that fit the budget into provider
// contents, oldest first. The caller's slice is never modified. Leading model
// turns are dropped so the window opens with a user turn.
func (a *ContextAssembler) Window(history []learning.Turn) []ports.Content {
	remaining := a.budget.MaxContextTokens
	start := len(history)
	for i := len(history) - 1; i >= 0 && len(history)-i <= a.budget.MaxTurns; i-- {
		cost := a.TokenEstimator(history[i].Text)
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}

	out := make([]ports.Content, 0, len(history)-start)
	for _, t := range history[start:] {
		text := normalize(t.Text)
		if text == "" {
			continue
		}
		role := ports.RoleUser
		if t.Role == learning.RoleModel {
			role = ports.RoleModel
		}
		if len(out) == 0 && role == ports.RoleModel {
			continue
		}
		out = append(out, ports.TextContent(role, text))
	}
	return out
}

// Pack keeps lines in order until the token budget is spent.
func (a *ContextAssembler) Pack(lines []string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = a.budget.MaxContextTokens
	}
	packed := make([]string, 0, len(lines))
	for _, l := range lines {
		l = normalize(l)
		cost := a.TokenEstimator(l)
		if cost > maxTokens {
			break
		}
		packed = append(packed, l)
		maxTokens -= cost
	}
	return packed
}
