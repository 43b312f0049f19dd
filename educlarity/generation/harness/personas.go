package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
)

// ErrPersonaNameRequired is returned when creating a persona without a name.
var ErrPersonaNameRequired = errors.New("persona name is required")

const (
	defaultPersonaIcon        = "🤖"
	defaultPersonaPersonality = "Friendly"
)

// BuiltinPersonas are the study bots available out of the box.
func BuiltinPersonas() []learning.Persona {
	return []learning.Persona{
		{ID: "1", Name: "History Buddy", Subject: "History", Personality: "Storyteller", Icon: "📜"},
		{ID: "2", Name: "Code Ninja", Subject: "Computer Science", Personality: "Strict & Efficient", Icon: "💻"},
		{ID: "3", Name: "Ayurveda Expert", Subject: "Health & Wellness", Personality: "Calm & Holistic", Icon: "🌿"},
	}
}

// PersonaCatalog holds study-bot personas in insertion order.
type PersonaCatalog struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]learning.Persona
}

// NewPersonaCatalog creates a catalog seeded with personas.
func NewPersonaCatalog(seed ...learning.Persona) *PersonaCatalog {
	c := &PersonaCatalog{byID: make(map[string]learning.Persona)}
	for _, p := range seed {
		_, _ = c.Create(p)
	}
	return c
}

type personaFile struct {
	Personas []learning.Persona `yaml:"personas"`
}

// LoadPersonas reads a YAML catalog of the form `personas: [{id, name, subject, personality, icon}]`.
func LoadPersonas(r io.Reader) ([]learning.Persona, error) {
	var f personaFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return f.Personas, nil
}

// LoadPersonasFile reads a YAML catalog from path.
func LoadPersonasFile(path string) ([]learning.Persona, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open personas file: %w", err)
	}
	defer fh.Close()
	return LoadPersonas(fh)
}

// Create adds a persona, filling id, icon and personality defaults. An
// existing id is replaced in place.
func (c *PersonaCatalog) Create(p learning.Persona) (learning.Persona, error) {
	if p.Name == "" {
		return learning.Persona{}, ErrPersonaNameRequired
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Icon == "" {
		p.Icon = defaultPersonaIcon
	}
	if p.Personality == "" {
		p.Personality = defaultPersonaPersonality
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.byID[p.ID] = p
	return p, nil
}

// Get returns the persona with id.
func (c *PersonaCatalog) Get(id string) (learning.Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Delete removes the persona with id.
func (c *PersonaCatalog) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// List returns all personas in insertion order.
func (c *PersonaCatalog) List() []learning.Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]learning.Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Greeting is the opening line a persona uses when a chat starts.
func Greeting(p learning.Persona) string {
	return fmt.Sprintf("Hello! I am %s, your %s assistant. How can I help you today?", p.Name, p.Subject)
}
