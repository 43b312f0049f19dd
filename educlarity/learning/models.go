// Package learning holds the learning-platform domain types exchanged with
// the gateway and the analytics computed over class performance data.
package learning

import (
	"bytes"
	"encoding/json"
)

// CoachMode selects between guided hints and direct answers.
type CoachMode string

const (
	ModeLearning CoachMode = "LEARNING"
	ModeAnswer   CoachMode = "ANSWER"
)

// Language is the reply language requested by the learner.
type Language string

const (
	English  Language = "English"
	Hindi    Language = "Hindi"
	Hinglish Language = "Hinglish"
	Tamil    Language = "Tamil"
	Telugu   Language = "Telugu"
	Urdu     Language = "Urdu"
)

// Languages lists every supported reply language.
func Languages() []Language {
	return []Language{English, Hindi, Hinglish, Tamil, Telugu, Urdu}
}

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry of a caller-owned conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// FlexID accepts identifiers the model emits either as strings or numbers.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexID(n.String())
	return nil
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	ID                 FlexID   `json:"id"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanation,omitempty"`
}

// NodeStatus is the progress state of a learning path node.
type NodeStatus string

const (
	NodeLocked     NodeStatus = "LOCKED"
	NodeUnlocked   NodeStatus = "UNLOCKED"
	NodeInProgress NodeStatus = "IN_PROGRESS"
	NodeMastered   NodeStatus = "MASTERED"
)

// Difficulty grades a learning path node.
type Difficulty string

const (
	Beginner     Difficulty = "Beginner"
	Intermediate Difficulty = "Intermediate"
	Advanced     Difficulty = "Advanced"
)

// LearningNode is a step of a generated learning path. Rationale explains
// why the node was assigned.
type LearningNode struct {
	ID          FlexID     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      NodeStatus `json:"status"`
	Difficulty  Difficulty `json:"difficulty"`
	Rationale   string     `json:"rationale"`
}

// TeacherInsight is a per-topic recommendation for the teacher console.
type TeacherInsight struct {
	Topic           string  `json:"topic"`
	AvgScore        float64 `json:"avgScore"`
	DifficultyLevel string  `json:"difficultyLevel"`
	Recommendation  string  `json:"recommendation"`
}

// OriginalityResult is the verdict of an originality check.
type OriginalityResult struct {
	Score    float64 `json:"score"`
	Analysis string  `json:"analysis"`
}

// Persona is a study-bot identity the coach can role-play.
type Persona struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Subject     string `json:"subject" yaml:"subject"`
	Personality string `json:"personality" yaml:"personality"`
	Icon        string `json:"icon" yaml:"icon"`
}

// VisualAid is the result of a visual explanation request. Image is empty
// when the provider returned only text.
type VisualAid struct {
	Text      string `json:"text,omitempty"`
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"imageMime,omitempty"`
}

// Empty reports whether the aid carries nothing to show.
func (v VisualAid) Empty() bool {
	return v.Text == "" && len(v.Image) == 0
}
