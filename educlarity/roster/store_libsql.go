package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LibSQLStore persists students in the migrated students table.
type LibSQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLStore creates a store over db. Migrations must already be applied.
func NewLibSQLStore(db *sql.DB) *LibSQLStore {
	return &LibSQLStore{db: db, now: time.Now}
}

func (s *LibSQLStore) List(ctx context.Context) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, grade, attendance, status, created_at FROM students
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating students: %w", err)
	}
	return out, nil
}

func (s *LibSQLStore) Insert(ctx context.Context, st Student) (Student, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = s.now()
	}
	created := st.CreatedAt.UnixNano()
	st.CreatedAt = time.Unix(0, created).UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, name, grade, attendance, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, st.ID, st.Name, st.Grade, st.Attendance, string(st.Status), created)
	if err != nil {
		return Student{}, fmt.Errorf("failed to insert student: %w", err)
	}
	return st, nil
}

func (s *LibSQLStore) Update(ctx context.Context, id string, u Update) (Student, error) {
	var sets []string
	var args []any
	if u.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *u.Name)
	}
	if u.Grade != nil {
		sets, args = append(sets, "grade = ?"), append(args, *u.Grade)
	}
	if u.Attendance != nil {
		sets, args = append(sets, "attendance = ?"), append(args, *u.Attendance)
	}
	if u.Status != nil {
		sets, args = append(sets, "status = ?"), append(args, string(*u.Status))
	}

	if len(sets) > 0 {
		query := "UPDATE students SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		res, err := s.db.ExecContext(ctx, query, append(args, id)...)
		if err != nil {
			return Student{}, fmt.Errorf("failed to update student: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return Student{}, ErrNotFound
		}
	}

	st, err := scanStudent(s.db.QueryRowContext(ctx,
		`SELECT id, name, grade, attendance, status, created_at FROM students WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	if err != nil {
		return Student{}, fmt.Errorf("failed to load student: %w", err)
	}
	return st, nil
}

func (s *LibSQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanStudent reads a row selected as id, name, grade, attendance, status, created_at.
func scanStudent(row rowScanner) (Student, error) {
	var st Student
	var status string
	var created int64
	if err := row.Scan(&st.ID, &st.Name, &st.Grade, &st.Attendance, &status, &created); err != nil {
		return Student{}, err
	}
	st.Status = Status(status)
	st.CreatedAt = time.Unix(0, created).UTC()
	return st, nil
}

var _ Store = (*LibSQLStore)(nil)
