package harness

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
)

// JSONInstruction is embedded in every structured prompt, with or without a
// declared response schema.
const JSONInstruction = "Respond ONLY with valid JSON matching the requested structure. Do not wrap it in markdown or add commentary."

// PromptBuilder composes system instructions and task prompts.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// normalize trims whitespace and unifies newlines so identical inputs hash identically.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// CoachSystem builds the coach instruction. A persona replaces the default
// assistant identity; mode and language apply either way.
func (b *PromptBuilder) CoachSystem(mode learning.CoachMode, lang learning.Language, persona *learning.Persona) string {
	var sb strings.Builder
	if persona != nil && persona.Name != "" {
		fmt.Fprintf(&sb, "You are %s, a study assistant specialised in %s. ", persona.Name, orDefault(persona.Subject, "general studies"))
		fmt.Fprintf(&sb, "Stay in character: your personality is %s. ", orDefault(persona.Personality, "Friendly"))
		fmt.Fprintf(&sb, "If asked about topics outside %s, gently steer the learner back.\n", orDefault(persona.Subject, "your subject"))
	} else {
		sb.WriteString("You are Educlarity's AI Concept Coach, a patient tutor for school and college students.\n")
	}

	switch mode {
	case learning.ModeAnswer:
		sb.WriteString("Mode: ANSWER. Give the direct answer first, then a brief explanation of the key steps.\n")
	default:
		sb.WriteString("Mode: LEARNING. Do not give the final answer outright. Use the Socratic method: ask guiding questions and give hints so the learner reaches the answer themselves.\n")
	}

	if lang == "" {
		lang = learning.English
	}
	if lang == learning.Hinglish {
		sb.WriteString("Reply in Hinglish (Hindi written in Latin script mixed naturally with English).\n")
	} else {
		fmt.Fprintf(&sb, "Reply in %s.\n", lang)
	}
	sb.WriteString("Keep answers concise and use simple examples.")
	return normalize(sb.String())
}

// SupportSystem builds the support-bot instruction. In teacher mode the
// roster is included as context; useTools selects structured function calls
// over the legacy ACTION_ sentinels.
func (b *PromptBuilder) SupportSystem(teacherMode, useTools bool, roster []string) string {
	var sb strings.Builder
	sb.WriteString("You are the Educlarity support assistant. Help users with account, billing, feature and technical questions in a friendly, concise way.\n")
	if !teacherMode {
		sb.WriteString("You cannot modify any data. If asked to, explain that only authenticated teachers can manage students.")
		return normalize(sb.String())
	}

	sb.WriteString("The user is an authenticated teacher. You can manage the class roster.\n")
	if len(roster) > 0 {
		sb.WriteString("Current students:\n")
		for _, line := range roster {
			sb.WriteString("- ")
			sb.WriteString(normalize(line))
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("The roster is currently empty.\n")
	}

	if useTools {
		sb.WriteString("To add a student call addStudent; to remove one call removeStudent with their name. Only call a tool when the teacher clearly asks for a change.")
	} else {
		sb.WriteString("To add a student, reply with a single line: ACTION_ADD: {\"name\": \"...\", \"grade\": \"...\", \"attendance\": \"...\", \"status\": \"Stable\"}\n")
		sb.WriteString("To remove a student, reply with a single line: ACTION_REMOVE: <student name>\n")
		sb.WriteString("Only emit an action when the teacher clearly asks for a change.")
	}
	return normalize(sb.String())
}

// QuizPrompt asks for multiple-choice questions.
func (b *PromptBuilder) QuizPrompt(topic, difficulty string) string {
	return normalize(fmt.Sprintf(
		"Generate 5 multiple-choice quiz questions about %q at %s difficulty. "+
			"Each question has an id, question, exactly 4 options, the zero-based correctAnswerIndex and a short explanation.\n%s",
		topic, orDefault(difficulty, "Medium"), JSONInstruction))
}

// LearningPathPrompt asks for an ordered learning path.
func (b *PromptBuilder) LearningPathPrompt(subject string) string {
	return normalize(fmt.Sprintf(
		"Create a personalised learning path of 5 to 7 nodes for %q, ordered from fundamentals to advanced. "+
			"Each node has id, title, description, status (the first node UNLOCKED, the rest LOCKED), difficulty (Beginner, Intermediate or Advanced) "+
			"and rationale explaining why the node was assigned.\n%s",
		subject, JSONInstruction))
}

// InsightsPrompt asks for per-topic recommendations. summary may be empty.
func (b *PromptBuilder) InsightsPrompt(data, summary string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following class performance data and return one insight per topic with topic, avgScore, difficultyLevel and an actionable recommendation for the teacher.\n")
	sb.WriteString("Data: ")
	sb.WriteString(normalize(data))
	if summary != "" {
		sb.WriteString("\n")
		sb.WriteString(summary)
	}
	sb.WriteString("\n")
	sb.WriteString(JSONInstruction)
	return normalize(sb.String())
}

// OriginalityPrompt asks for an originality score of already truncated text.
func (b *PromptBuilder) OriginalityPrompt(text string) string {
	return normalize(fmt.Sprintf(
		"Assess how original the following student text is. Return score (0-100, higher is more original) and a short analysis of any AI-generated or copied patterns.\nText: %q\n%s",
		text, JSONInstruction))
}

// VisualAidPrompt asks for an explanatory diagram.
func (b *PromptBuilder) VisualAidPrompt(topic string) string {
	return normalize(fmt.Sprintf("Create a clear, labelled educational diagram that explains %s. If you cannot draw, explain it clearly in a few sentences.", topic))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
