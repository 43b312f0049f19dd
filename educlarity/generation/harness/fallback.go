package harness

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

const (
	// OverloadedMessage is returned when the remote model is exhausted and
	// the message is not a recognizable command.
	OverloadedMessage = "The AI service is overloaded right now. Please try again shortly."
	// OfflineNotice annotates results produced without the remote model.
	OfflineNotice = "[Offline mode] The AI service is at capacity, so this request was handled locally."

	DefaultFallbackAttendance = "0%"
	DefaultFallbackStatus     = "Stable"
)

var (
	fallbackRemovePattern = regexp.MustCompile(`(?i)\b(?:delete|remove)\s+(?:the\s+)?(?:student\s+)?(?:(?:named|called)\s+)?(.+?)\s*(?:\bfrom\s+(?:the\s+|my\s+)?(?:class|roster|list)\b)?\s*[.!?]*\s*$`)
	fallbackAddPattern    = regexp.MustCompile(`(?i)\badd\s+(?:a\s+)?(?:new\s+)?(?:student|entity)?\s*(?:(?:named|called)\s+)?(.+?)\s*,?\s+(?:with\s+)?(?:a\s+)?grade\s*(?:of\s+|:\s*|=\s*)?([A-F][+-]?|\d{1,3})(?:[^A-Za-z0-9]|$)`)
	fallbackAttendance    = regexp.MustCompile(`(?i)attendance\s*(?:of\s+|:\s*|=\s*)?(\d{1,3}(?:\.\d+)?)\s*%?`)
	fallbackStatus        = regexp.MustCompile(`(?i)\b(at[\s-]risk|stable|excelling)\b`)
)

// FallbackMatcher interprets roster commands locally when the remote model
// cannot be reached.
type FallbackMatcher struct {
	logger zerolog.Logger
}

// NewFallbackMatcher creates a matcher.
func NewFallbackMatcher(logger zerolog.Logger) *FallbackMatcher {
	return &FallbackMatcher{logger: logger}
}

// Match extracts a command from message without executing it.
func (m *FallbackMatcher) Match(message string) (ActionRequest, ports.EntityFields, bool) {
	msg := strings.TrimSpace(message)

	if sub := fallbackRemovePattern.FindStringSubmatch(msg); sub != nil {
		if name := cleanName(sub[1]); name != "" {
			return ActionRequest{Kind: ActionRemove, Payload: name}, ports.EntityFields{Name: name}, true
		}
	}

	if sub := fallbackAddPattern.FindStringSubmatch(msg); sub != nil {
		name := cleanName(sub[1])
		if name == "" {
			return ActionRequest{}, ports.EntityFields{}, false
		}
		fields := ports.EntityFields{
			Name:       name,
			Grade:      strings.ToUpper(sub[2]),
			Attendance: DefaultFallbackAttendance,
			Status:     DefaultFallbackStatus,
		}
		if a := fallbackAttendance.FindStringSubmatch(msg); a != nil {
			fields.Attendance = a[1] + "%"
		}
		if s := fallbackStatus.FindStringSubmatch(msg); s != nil {
			fields.Status = canonicalStatus(s[1])
		}
		return ActionRequest{Kind: ActionAdd, Payload: name}, fields, true
	}

	return ActionRequest{}, ports.EntityFields{}, false
}

// Handle runs the matched command against caps and annotates the result.
func (m *FallbackMatcher) Handle(ctx context.Context, message string, caps ports.Capabilities) string {
	if caps == nil {
		return OverloadedMessage
	}
	action, fields, ok := m.Match(message)
	if !ok {
		m.logger.Info().Msg("offline fallback found no command")
		return OverloadedMessage
	}

	var result string
	switch action.Kind {
	case ActionRemove:
		result = caps.RemoveEntity(ctx, fields.Name)
	case ActionAdd:
		result = caps.AddEntity(ctx, fields)
	}
	m.logger.Info().
		Str("action", string(action.Kind)).
		Str("name", fields.Name).
		Msg("offline fallback executed command")
	return result + "\n\n" + OfflineNotice
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`")
	return strings.TrimSpace(strings.TrimRight(s, ".,!?"))
}

func canonicalStatus(s string) string {
	switch strings.ToLower(strings.ReplaceAll(s, "-", " ")) {
	case "at risk":
		return "At Risk"
	case "excelling":
		return "Excelling"
	default:
		return "Stable"
	}
}
