package harnessports

import "context"

// EntityFields are the attributes the model may supply when adding a record.
// Empty strings mean "not specified".
type EntityFields struct {
	Name       string `json:"name"`
	Grade      string `json:"grade"`
	Attendance string `json:"attendance"`
	Status     string `json:"status"`
}

// Capabilities are caller-supplied mutations the gateway may perform on the
// model's behalf. Implementations own persistence and must never fail: errors
// are reported through the returned text.
type Capabilities interface {
	AddEntity(ctx context.Context, fields EntityFields) string
	RemoveEntity(ctx context.Context, name string) string
}

// CapabilityFuncs adapts plain functions to Capabilities.
type CapabilityFuncs struct {
	Add    func(ctx context.Context, fields EntityFields) string
	Remove func(ctx context.Context, name string) string
}

func (f CapabilityFuncs) AddEntity(ctx context.Context, fields EntityFields) string {
	if f.Add == nil {
		return "Error: adding records is not available."
	}
	return f.Add(ctx, fields)
}

func (f CapabilityFuncs) RemoveEntity(ctx context.Context, name string) string {
	if f.Remove == nil {
		return "Error: removing records is not available."
	}
	return f.Remove(ctx, name)
}

var _ Capabilities = CapabilityFuncs{}
