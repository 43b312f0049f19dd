package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// Tool names as declared to the model.
const (
	AddStudentName    = "addStudent"
	RemoveStudentName = "removeStudent"
)

// ErrInvalidArguments is returned when the model's arguments cannot be decoded.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// AddStudentTool adds a roster record through the caller's capabilities.
type AddStudentTool struct {
	caps ports.Capabilities
}

// NewAddStudentTool creates the tool.
func NewAddStudentTool(caps ports.Capabilities) *AddStudentTool {
	return &AddStudentTool{caps: caps}
}

func (t *AddStudentTool) Name() string { return AddStudentName }

func (t *AddStudentTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        AddStudentName,
		Description: "Add a new student to the class roster.",
		Parameters: &ports.Schema{
			Type: ports.TypeObject,
			Properties: map[string]*ports.Schema{
				"name":       {Type: ports.TypeString, Description: "Full name of the student"},
				"grade":      {Type: ports.TypeString, Description: "Current grade, e.g. A, B+, C"},
				"attendance": {Type: ports.TypeString, Description: "Attendance percentage, e.g. 92%"},
				"status":     {Type: ports.TypeString, Description: "Academic status", Enum: []string{"At Risk", "Stable", "Excelling"}},
			},
			Required: []string{"name"},
		},
	}
}

// Invoke decodes the fields and forwards them. The capability never fails;
// only undecodable arguments produce an error.
func (t *AddStudentTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	fields, err := DecodeEntityFields(args)
	if err != nil {
		return "", err
	}
	return t.caps.AddEntity(ctx, fields), nil
}

// DecodeEntityFields decodes add arguments, accepting numbers for string fields.
func DecodeEntityFields(raw json.RawMessage) (ports.EntityFields, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ports.EntityFields{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if m == nil {
		return ports.EntityFields{}, fmt.Errorf("%w: empty payload", ErrInvalidArguments)
	}
	str := func(keys ...string) string {
		for _, k := range keys {
			switch v := m[k].(type) {
			case string:
				return strings.TrimSpace(v)
			case float64:
				return fmt.Sprint(v)
			}
		}
		return ""
	}
	return ports.EntityFields{
		Name:       str("name", "studentName"),
		Grade:      str("grade"),
		Attendance: str("attendance"),
		Status:     str("status"),
	}, nil
}

// RemoveStudentTool removes a roster record by name.
type RemoveStudentTool struct {
	caps ports.Capabilities
}

// NewRemoveStudentTool creates the tool.
func NewRemoveStudentTool(caps ports.Capabilities) *RemoveStudentTool {
	return &RemoveStudentTool{caps: caps}
}

func (t *RemoveStudentTool) Name() string { return RemoveStudentName }

func (t *RemoveStudentTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        RemoveStudentName,
		Description: "Remove a student from the class roster by name.",
		Parameters: &ports.Schema{
			Type: ports.TypeObject,
			Properties: map[string]*ports.Schema{
				"studentName": {Type: ports.TypeString, Description: "Name of the student to remove"},
			},
			Required: []string{"studentName"},
		},
	}
}

func (t *RemoveStudentTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		StudentName string `json:"studentName"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	name := strings.TrimSpace(in.StudentName)
	if name == "" {
		name = strings.TrimSpace(in.Name)
	}
	if name == "" {
		return "", fmt.Errorf("%w: studentName is required", ErrInvalidArguments)
	}
	return t.caps.RemoveEntity(ctx, name), nil
}

// RosterTools returns both roster tools bound to caps.
func RosterTools(caps ports.Capabilities) []ports.Tool {
	return []ports.Tool{NewAddStudentTool(caps), NewRemoveStudentTool(caps)}
}

var (
	_ ports.Tool = (*AddStudentTool)(nil)
	_ ports.Tool = (*RemoveStudentTool)(nil)
)
