package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// Guardrails checks tool calls and model output before they reach callers.
type Guardrails struct {
	mu            sync.RWMutex
	allowlist     map[string]bool
	outputFilters []*regexp.Regexp
	maxToolCalls  int
	validator     *JSONValidator
}

// NewGuardrails creates guardrails with secret redaction and an empty allowlist.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		allowlist: make(map[string]bool),
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
			regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		},
		maxToolCalls: 8,
		validator:    NewJSONValidator(),
	}
}

// AllowTool adds name to the allowlist.
func (g *Guardrails) AllowTool(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowlist[name] = true
}

// SetMaxToolCalls bounds how many calls a single model reply may request.
func (g *Guardrails) SetMaxToolCalls(n int) {
	if n > 0 {
		g.maxToolCalls = n
	}
}

// MaxToolCalls returns the per-reply bound.
func (g *Guardrails) MaxToolCalls() int { return g.maxToolCalls }

// ValidateToolCall rejects unknown tools and malformed arguments.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall) error {
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	g.mu.RLock()
	allowed := g.allowlist[call.Name]
	g.mu.RUnlock()
	if !allowed {
		return fmt.Errorf("tool %s is not in allowlist", call.Name)
	}
	if len(call.Args) > 0 && !json.Valid(call.Args) {
		return fmt.Errorf("tool arguments are not valid JSON")
	}
	return nil
}

// SanitizeOutput masks credentials the model may have echoed.
func (g *Guardrails) SanitizeOutput(output string) string {
	for _, filter := range g.outputFilters {
		output = filter.ReplaceAllString(output, "[REDACTED]")
	}
	return output
}

// ValidateStructured checks the JSON text the model returned against schema.
// It runs before decoding so missing required keys are not hidden by zero values.
func (g *Guardrails) ValidateStructured(data []byte, schema *ports.Schema) error {
	return g.validator.Validate(data, schema)
}

// JSONValidator validates documents against compiled gateway schemas.
type JSONValidator struct {
	mu       sync.Mutex
	compiled map[*ports.Schema]*gojsonschema.Schema
}

// NewJSONValidator creates a validator with an empty compile cache.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{compiled: make(map[*ports.Schema]*gojsonschema.Schema)}
}

// Validate checks data against schema.
func (v *JSONValidator) Validate(data []byte, schema *ports.Schema) error {
	if schema == nil {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return err
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func (v *JSONValidator) compile(schema *ports.Schema) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.compiled[schema]; ok {
		return c, nil
	}
	c, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema.ToJSONSchema()))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.compiled[schema] = c
	return c, nil
}
