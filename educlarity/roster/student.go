// Package roster manages the teacher's class register.
package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"
)

// Status is a student's academic standing.
type Status string

const (
	StatusAtRisk    Status = "At Risk"
	StatusStable    Status = "Stable"
	StatusExcelling Status = "Excelling"
)

// Defaults applied when a new record is missing fields.
const (
	DefaultName       = "Unknown Student"
	DefaultGrade      = "C"
	DefaultAttendance = "0%"
	DefaultStatus     = StatusStable
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("student not found")

// Student is one roster record.
type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Grade      string    `json:"grade"`
	Attendance string    `json:"attendance"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// withDefaults fills empty fields.
func (s Student) withDefaults() Student {
	if s.Name == "" {
		s.Name = DefaultName
	}
	if s.Grade == "" {
		s.Grade = DefaultGrade
	}
	if s.Attendance == "" {
		s.Attendance = DefaultAttendance
	}
	if s.Status == "" {
		s.Status = DefaultStatus
	}
	return s
}

// ContextLine renders the record for prompt context.
func (s Student) ContextLine() string {
	return fmt.Sprintf("%s (ID: %s), Grade %s, Attendance %s, Status %s", s.Name, s.ID, s.Grade, s.Attendance, s.Status)
}

// Update is a partial change. Nil fields are left untouched.
type Update struct {
	Name       *string
	Grade      *string
	Attendance *string
	Status     *Status
}

func (u Update) apply(s Student) Student {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.Grade != nil {
		s.Grade = *u.Grade
	}
	if u.Attendance != nil {
		s.Attendance = *u.Attendance
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	return s
}

// Store persists roster records. List returns the newest first.
type Store interface {
	List(ctx context.Context) ([]Student, error)
	Insert(ctx context.Context, s Student) (Student, error)
	Update(ctx context.Context, id string, u Update) (Student, error)
	Delete(ctx context.Context, id string) error
}

// ContextLines renders every record for prompt context.
func ContextLines(students []Student) []string {
	lines := make([]string, 0, len(students))
	for _, s := range students {
		lines = append(lines, s.ContextLine())
	}
	return lines
}

// ExportRegister writes the full student register as CSV.
func ExportRegister(w io.Writer, students []Student) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Student ID", "Name", "Current Grade", "Attendance", "Academic Status"}); err != nil {
		return fmt.Errorf("write register header: %w", err)
	}
	for _, s := range students {
		if err := cw.Write([]string{s.ID, s.Name, s.Grade, s.Attendance, string(s.Status)}); err != nil {
			return fmt.Errorf("write register row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
