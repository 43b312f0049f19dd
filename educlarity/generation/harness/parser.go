package harness

import (
	"encoding/json"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

	// Missing separators the model tends to drop between adjacent values.
	missingCommaPatterns = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`\}\s*\{`), "},{"},
		{regexp.MustCompile(`\]\s*\[`), "],["},
		// a value followed directly by the next `"key":`, on one line or across lines
		{regexp.MustCompile(`("|\d|true|false|null|\}|\])(\s*)("[^"\\]*"\s*:)`), "$1,$2$3"},
	}
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseJSON extracts a T from noisy model text. Stages run in order: fence
// strip, direct parse, comma repair, outermost bracket slice. If every stage
// fails the fallback is returned unchanged. It never panics.
func ParseJSON[T any](text string, fallback T) T {
	if v, ok := TryParseJSON[T](text); ok {
		return v
	}
	return fallback
}

// TryParseJSON runs the ParseJSON stages and reports whether any succeeded.
func TryParseJSON[T any](text string) (T, bool) {
	v, _, ok := parseCandidate[T](text)
	return v, ok
}

// parseCandidate is TryParseJSON that also returns the JSON text that decoded.
func parseCandidate[T any](text string) (out T, candidate string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, candidate, ok = zero, "", false
		}
	}()

	body := strings.TrimSpace(text)
	if body == "" {
		return out, "", false
	}
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}

	candidates := []string{body, repairCommas(body)}
	for _, slice := range bracketSlices(body) {
		candidates = append(candidates, slice, repairCommas(slice))
	}
	for _, c := range candidates {
		if v, ok := decodeAs[T](c); ok {
			return v, strings.TrimSpace(c), true
		}
	}
	return out, "", false
}

func decodeAs[T any](s string) (T, bool) {
	var v T
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return v, false
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

func repairCommas(s string) string {
	for _, p := range missingCommaPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// bracketSlices returns candidate slices from the first opener to the last
// matching closer, earliest opener first.
func bracketSlices(s string) []string {
	type pair struct {
		start, end int
	}
	var pairs []pair
	for _, br := range [][2]string{{"[", "]"}, {"{", "}"}} {
		start := strings.Index(s, br[0])
		end := strings.LastIndex(s, br[1])
		if start >= 0 && end > start {
			pairs = append(pairs, pair{start, end})
		}
	}
	if len(pairs) == 2 && pairs[1].start < pairs[0].start {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, s[p.start:p.end+1])
	}
	return out
}

// ActionKind identifies a mutation requested by the model.
type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionRemove ActionKind = "remove"
)

// ActionRequest is a detected mutation request. Payload is raw JSON for adds
// and a plain name for removes.
type ActionRequest struct {
	Kind    ActionKind
	Payload string
	CallID  string // set when the request came from a function call
	Name    string // tool name for function calls
}

const (
	sentinelAdd    = "ACTION_ADD:"
	sentinelRemove = "ACTION_REMOVE:"
)

// OutputParser extracts tool calls and legacy action sentinels from model text.
type OutputParser struct {
	toolCallPatterns []*regexp.Regexp
}

// NewOutputParser creates a parser with patterns for the common inline tool call forms.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		toolCallPatterns: []*regexp.Regexp{
			// [{"name": "tool", "arguments": {...}}]
			regexp.MustCompile(`(?s)\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`),
			// tool_name({"arg": "value"})
			regexp.MustCompile(`(?s)(\w+)\s*\(\s*(\{.*?\})\s*\)`),
		},
	}
}

// ParseToolCalls extracts tool calls written inline in response text.
func (p *OutputParser) ParseToolCalls(text string) []ports.ToolCall {
	var calls []ports.ToolCall
	seen := map[string]bool{}

	for _, pattern := range p.toolCallPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			name := strings.TrimSpace(match[1])
			argsStr := strings.TrimSpace(match[2])
			if !json.Valid([]byte(argsStr)) {
				argsStr = fixJSON(argsStr)
				if !json.Valid([]byte(argsStr)) {
					continue
				}
			}
			key := name + argsStr
			if seen[key] {
				continue
			}
			seen[key] = true
			calls = append(calls, ports.ToolCall{Name: name, Args: json.RawMessage(argsStr)})
		}
	}
	return calls
}

// ParseAction finds the first ACTION_ADD or ACTION_REMOVE sentinel in text.
func (p *OutputParser) ParseAction(text string) (ActionRequest, bool) {
	addAt := strings.Index(text, sentinelAdd)
	removeAt := strings.Index(text, sentinelRemove)

	switch {
	case addAt >= 0 && (removeAt < 0 || addAt < removeAt):
		rest := strings.TrimSpace(text[addAt+len(sentinelAdd):])
		if m := fencePattern.FindStringSubmatch(rest); m != nil {
			rest = strings.TrimSpace(m[1])
		}
		payload := rest
		if start := strings.Index(rest, "{"); start >= 0 {
			if end := strings.LastIndex(rest, "}"); end > start {
				payload = rest[start : end+1]
			}
		}
		return ActionRequest{Kind: ActionAdd, Payload: payload}, true

	case removeAt >= 0:
		rest := text[removeAt+len(sentinelRemove):]
		if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
			rest = rest[:nl]
		}
		name := strings.Trim(strings.TrimSpace(rest), `"'.`+"`")
		return ActionRequest{Kind: ActionRemove, Payload: name}, true
	}
	return ActionRequest{}, false
}

// StripSentinels removes sentinel lines so leftover prose can be shown.
func StripSentinels(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.Contains(l, sentinelAdd) || strings.Contains(l, sentinelRemove) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// fixJSON repairs unquoted keys, single quotes and trailing commas.
func fixJSON(s string) string {
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	s = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`).ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}
