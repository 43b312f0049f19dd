package roster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It also serves as the local mirror
// behind Service.
type MemoryStore struct {
	mu       sync.RWMutex
	students []Student // newest first
}

// NewMemoryStore creates a store seeded with students, kept in the given order.
func NewMemoryStore(seed ...Student) *MemoryStore {
	return &MemoryStore{students: append([]Student(nil), seed...)}
}

func (m *MemoryStore) List(ctx context.Context) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Student(nil), m.students...), nil
}

// Insert prepends s, assigning an id and creation time when missing. An
// existing id is replaced.
func (m *MemoryStore) Insert(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = removeByID(m.students, s.ID)
	m.students = append([]Student{s}, m.students...)
	return s, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, u Update) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.students {
		if s.ID == id {
			m.students[i] = u.apply(s)
			return m.students[i], nil
		}
	}
	return Student{}, ErrNotFound
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.students)
	m.students = removeByID(m.students, id)
	if len(m.students) == before {
		return ErrNotFound
	}
	return nil
}

// replace overwrites the mirror with a fresh listing.
func (m *MemoryStore) replace(students []Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append([]Student(nil), students...)
}

// upsert stores s in place, or prepends it when absent.
func (m *MemoryStore) upsert(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.students {
		if m.students[i].ID == s.ID {
			m.students[i] = s
			return
		}
	}
	m.students = append([]Student{s}, m.students...)
}

func removeByID(students []Student, id string) []Student {
	out := students[:0]
	for _, s := range students {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
