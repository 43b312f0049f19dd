package roster

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

// Capabilities exposes the roster to the assistant. Results are always text.
type Capabilities struct {
	svc *Service
}

// NewCapabilities wraps svc.
func NewCapabilities(svc *Service) *Capabilities {
	return &Capabilities{svc: svc}
}

var _ ports.Capabilities = (*Capabilities)(nil)

func (c *Capabilities) AddEntity(ctx context.Context, f ports.EntityFields) string {
	st := Student{Name: f.Name, Grade: f.Grade, Attendance: f.Attendance}
	if f.Status != "" {
		st.Status = ParseStatus(f.Status)
	}
	added := c.svc.Add(ctx, st)
	return fmt.Sprintf("Successfully added student: %s (ID: %s).", added.Name, added.ID)
}

func (c *Capabilities) RemoveEntity(ctx context.Context, name string) string {
	target, ok := c.svc.FindByName(ctx, name)
	if !ok {
		return fmt.Sprintf("Error: Could not find any student named %q. Please check the spelling.", name)
	}
	c.svc.Remove(ctx, target.ID)
	return fmt.Sprintf("Successfully removed student: %s.", target.Name)
}

// ContextLines renders the current roster for the support prompt.
func (c *Capabilities) ContextLines(ctx context.Context) []string {
	return ContextLines(c.svc.List(ctx))
}
