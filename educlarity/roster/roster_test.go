package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/educlarity/educlarity/db"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

var errBackendDown = errors.New("backend unreachable")

// mockStore implements Store with testify/mock.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) List(ctx context.Context) ([]Student, error) {
	args := m.Called()
	students, _ := args.Get(0).([]Student)
	return students, args.Error(1)
}

func (m *mockStore) Insert(ctx context.Context, s Student) (Student, error) {
	args := m.Called(s)
	return args.Get(0).(Student), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, id string, u Update) (Student, error) {
	args := m.Called(id, u)
	return args.Get(0).(Student), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func ptr[T any](v T) *T { return &v }

func TestService_FabricatesOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	store.On("Insert", mock.Anything).Return(Student{}, errBackendDown)
	store.On("List").Return(nil, errBackendDown)
	store.On("Update", "missing", mock.Anything).Return(Student{}, errBackendDown)
	store.On("Delete", mock.Anything).Return(errBackendDown)

	svc := NewService(store, zerolog.Nop())
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	added := svc.Add(ctx, Student{Name: "Priya", Grade: "B"})
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, Student{ID: added.ID, Name: "Priya", Grade: "B", Attendance: "0%", Status: StatusStable, CreatedAt: created}, added)

	// The mirror keeps the fabricated record for listing.
	assert.Equal(t, []Student{added}, svc.List(ctx))

	updated := svc.Update(ctx, "missing", Update{Grade: ptr("A")})
	assert.Equal(t, Student{ID: "missing", Grade: "A"}, updated)

	assert.True(t, svc.Remove(ctx, added.ID))
	assert.Empty(t, svc.List(ctx))
	store.AssertExpectations(t)
}

func TestService_MirrorsSuccessfulWrites(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	svc := NewService(primary, zerolog.Nop())

	first := svc.Add(ctx, Student{Name: "Rahul Sharma", Grade: "A", Attendance: "95%", Status: StatusExcelling})
	second := svc.Add(ctx, Student{Name: "Arjun Verma"})

	students := svc.List(ctx)
	require.Len(t, students, 2)
	assert.Equal(t, second.ID, students[0].ID, "newest first")

	got := svc.Update(ctx, first.ID, Update{Status: ptr(StatusAtRisk)})
	assert.Equal(t, StatusAtRisk, got.Status)
	assert.Equal(t, "Rahul Sharma", got.Name)

	found, ok := svc.FindByName(ctx, "arjun")
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)
	_, ok = svc.FindByName(ctx, "  ")
	assert.False(t, ok)
}

func TestCapabilities(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, zerolog.Nop())
	caps := NewCapabilities(svc)

	msg := caps.AddEntity(ctx, ports.EntityFields{Name: "Rahul", Grade: "A", Status: "excelling"})
	assert.Regexp(t, `^Successfully added student: Rahul \(ID: [0-9a-f-]{36}\)\.$`, msg)

	msg = caps.AddEntity(ctx, ports.EntityFields{})
	assert.Contains(t, msg, "Successfully added student: Unknown Student")

	students := svc.List(ctx)
	require.Len(t, students, 2)
	assert.False(t, students[1].CreatedAt.IsZero())
	assert.Equal(t, Student{ID: students[1].ID, Name: "Rahul", Grade: "A", Attendance: "0%", Status: StatusExcelling, CreatedAt: students[1].CreatedAt}, students[1])
	assert.Equal(t, "C", students[0].Grade)

	assert.Equal(t, "Successfully removed student: Rahul.", caps.RemoveEntity(ctx, "RAH"))
	assert.Equal(t, `Error: Could not find any student named "Arjun Verma". Please check the spelling.`, caps.RemoveEntity(ctx, "Arjun Verma"))
	assert.Len(t, caps.ContextLines(ctx), 1)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusAtRisk, ParseStatus("at-risk"))
	assert.Equal(t, StatusAtRisk, ParseStatus(" At Risk "))
	assert.Equal(t, StatusExcelling, ParseStatus("EXCELLING"))
	assert.Equal(t, StatusStable, ParseStatus("unknown"))
}

func TestExportRegister(t *testing.T) {
	var buf bytes.Buffer
	err := ExportRegister(&buf, []Student{
		{ID: "1", Name: "Rahul Sharma", Grade: "A", Attendance: "95%", Status: StatusExcelling},
		{ID: "2", Name: "Verma, Arjun", Grade: "C", Attendance: "60%", Status: StatusAtRisk},
	})
	require.NoError(t, err)
	assert.Equal(t, "Student ID,Name,Current Grade,Attendance,Academic Status\n"+
		"1,Rahul Sharma,A,95%,Excelling\n"+
		"2,\"Verma, Arjun\",C,60%,At Risk\n", buf.String())
}

func TestContextLine(t *testing.T) {
	s := Student{ID: "7", Name: "Neha", Grade: "B+", Attendance: "88%", Status: StatusStable}
	assert.Equal(t, "Neha (ID: 7), Grade B+, Attendance 88%, Status Stable", s.ContextLine())
}

func TestLibSQLStore(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "roster.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := NewLibSQLStore(conn)
	clock := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	a, err := store.Insert(ctx, Student{Name: "Rahul", Grade: "A", Attendance: "90%", Status: StatusStable})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 1, 0, time.UTC), a.CreatedAt)
	b, err := store.Insert(ctx, Student{ID: "fixed-id", Name: "Arjun", Grade: "C", Attendance: "70%", Status: StatusAtRisk})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", b.ID)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a, list[1])

	updated, err := store.Update(ctx, a.ID, Update{Grade: ptr("A+"), Status: ptr(StatusExcelling)})
	require.NoError(t, err)
	assert.Equal(t, "A+", updated.Grade)
	assert.Equal(t, StatusExcelling, updated.Status)
	assert.Equal(t, "90%", updated.Attendance)
	assert.Equal(t, a.CreatedAt, updated.CreatedAt)

	_, err = store.Update(ctx, "nope", Update{Grade: ptr("B")})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, a.ID))
	assert.ErrorIs(t, store.Delete(ctx, a.ID), ErrNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStudent_CreatedAtJSON(t *testing.T) {
	st := Student{ID: "7", Name: "Neha", CreatedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdAt":"2026-03-02T09:30:00Z"`)

	got, err := NewMemoryStore().Insert(context.Background(), Student{Name: "Neha"})
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
}
