package harness

import (
	"context"
	"strconv"
	"strings"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/tools"
	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
)

// User-facing fallback strings.
const (
	CoachUnavailableMessage   = "AI temporarily unavailable."
	SupportUnavailableMessage = "Support is temporarily unavailable. Please try again shortly."
	OriginalityErrorMessage   = "Error checking originality."
	NoResponseMessage         = "No response."
	EmptyCoachInputMessage    = "Please type a question or record a voice message."

	voiceInputPrompt       = "Process this audio"
	originalityInputLimit  = 500
	supportRosterMaxTokens = 2000
)

var (
	quizSchema = &ports.Schema{
		Type: ports.TypeArray,
		Items: &ports.Schema{
			Type: ports.TypeObject,
			Properties: map[string]*ports.Schema{
				"id":                 {Type: ports.TypeString, AllowNumber: true},
				"question":           {Type: ports.TypeString},
				"options":            {Type: ports.TypeArray, Items: &ports.Schema{Type: ports.TypeString}},
				"correctAnswerIndex": {Type: ports.TypeInteger},
				"explanation":        {Type: ports.TypeString},
			},
			Required: []string{"question", "options", "correctAnswerIndex"},
		},
	}

	learningPathSchema = &ports.Schema{
		Type: ports.TypeArray,
		Items: &ports.Schema{
			Type: ports.TypeObject,
			Properties: map[string]*ports.Schema{
				"id":          {Type: ports.TypeString, AllowNumber: true},
				"title":       {Type: ports.TypeString},
				"description": {Type: ports.TypeString},
				"status":      {Type: ports.TypeString, Enum: []string{"LOCKED", "UNLOCKED", "IN_PROGRESS", "MASTERED"}},
				"difficulty":  {Type: ports.TypeString, Enum: []string{"Beginner", "Intermediate", "Advanced"}},
				"rationale":   {Type: ports.TypeString},
			},
			Required: []string{"id", "title", "description", "status", "difficulty", "rationale"},
		},
	}

	teacherInsightsSchema = &ports.Schema{
		Type: ports.TypeArray,
		Items: &ports.Schema{
			Type: ports.TypeObject,
			Properties: map[string]*ports.Schema{
				"topic":           {Type: ports.TypeString},
				"avgScore":        {Type: ports.TypeNumber},
				"difficultyLevel": {Type: ports.TypeString},
				"recommendation":  {Type: ports.TypeString},
			},
			Required: []string{"topic", "avgScore", "difficultyLevel", "recommendation"},
		},
	}

	originalitySchema = &ports.Schema{
		Type: ports.TypeObject,
		Properties: map[string]*ports.Schema{
			"score":    {Type: ports.TypeNumber},
			"analysis": {Type: ports.TypeString},
		},
		Required: []string{"score", "analysis"},
	}
)

// CoachRequest is one coaching turn. History is read, never modified.
type CoachRequest struct {
	History        []learning.Turn
	Message        string
	Mode           learning.CoachMode
	Language       learning.Language
	Audio          *ports.Blob       // recorded voice input, used when audio is supported
	Persona        *learning.Persona // role-play persona, takes precedence over PersonaID
	PersonaID      string
	SpeakReply     bool // request spoken output when audio is supported
	ConversationID string
}

// CoachResponse is the coach's reply. Audio is set only for spoken replies.
type CoachResponse struct {
	Text      string
	Audio     []byte
	AudioMIME string
}

// CoachReply answers a learner. On failure the text is CoachUnavailableMessage.
func (g *Gateway) CoachReply(ctx context.Context, req CoachRequest) CoachResponse {
	audio := req.Audio
	if audio != nil && (!g.flags.SupportsAudio || len(audio.Data) == 0) {
		audio = nil
	}
	message := strings.TrimSpace(req.Message)
	if message == "" && audio == nil {
		return CoachResponse{Text: EmptyCoachInputMessage}
	}
	if message == "" {
		message = voiceInputPrompt
	}

	persona := req.Persona
	if persona == nil && req.PersonaID != "" {
		if p, ok := g.personas.Get(req.PersonaID); ok {
			persona = &p
		}
	}
	attrs := map[string]any{"mode": string(req.Mode), "language": string(req.Language), "audio_in": audio != nil}
	if persona != nil {
		attrs["persona"] = persona.Name
	}
	ctx, finish := g.tracer.StartSpan(ctx, "gateway.coach", attrs)

	userTurn := ports.Content{Role: ports.RoleUser, Parts: []ports.Part{{Text: message}}}
	if audio != nil {
		userTurn.Parts = append(userTurn.Parts, ports.Part{InlineData: audio})
	}
	contents := append(g.assembler.Window(req.History), userTurn)

	cfg := &ports.ContentConfig{SystemInstruction: g.prompts.CoachSystem(req.Mode, req.Language, persona)}
	model := g.models.Text
	if g.flags.SupportsAudio && (req.SpeakReply || audio != nil) {
		model = g.models.Audio
		if req.SpeakReply {
			cfg.ResponseModalities = []string{"AUDIO"}
		}
	}

	resp, err := g.generate(ctx, "coach", ports.GenerateContentRequest{Model: model, Contents: contents, Config: cfg})
	if err != nil {
		g.logger.Error().Err(err).Msg("coach reply failed")
		finish(err)
		return CoachResponse{Text: CoachUnavailableMessage}
	}
	finish(nil)

	out := CoachResponse{Text: g.guardrails.SanitizeOutput(strings.TrimSpace(resp.Text))}
	for _, blob := range resp.InlineData {
		if strings.HasPrefix(blob.MIMEType, "audio/") {
			out.Audio, out.AudioMIME = blob.Data, blob.MIMEType
			break
		}
	}
	if out.Text == "" && out.Audio == nil {
		out.Text = NoResponseMessage
	}

	g.saveTurns(ctx, req.ConversationID, "coach",
		ports.Turn{Role: ports.RoleUser, Content: message},
		ports.Turn{Role: ports.RoleModel, Content: out.Text})
	return out
}

// SupportRequest is one support-bot turn. Capabilities are supplied only in
// teacher mode; Roster lines describe the current class.
type SupportRequest struct {
	History        []learning.Turn
	Message        string
	Roster         []string
	Capabilities   ports.Capabilities
	ConversationID string
}

// SupportReply answers a support question and, in teacher mode, performs
// roster actions the model requests. When the remote model is out of quota
// the local fallback matcher handles roster commands.
func (g *Gateway) SupportReply(ctx context.Context, req SupportRequest) string {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return NoResponseMessage
	}
	teacherMode := req.Capabilities != nil
	useTools := teacherMode && g.flags.SupportsTools

	ctx, finish := g.tracer.StartSpan(ctx, "gateway.support", map[string]any{"teacher_mode": teacherMode, "tools": useTools})

	var roster []string
	if teacherMode {
		roster = g.assembler.Pack(req.Roster, supportRosterMaxTokens)
	}
	cfg := &ports.ContentConfig{SystemInstruction: g.prompts.SupportSystem(teacherMode, useTools, roster)}
	if useTools {
		cfg.Tools = rosterToolSpecs(req.Capabilities)
	}
	request := ports.GenerateContentRequest{
		Model:    g.models.Text,
		Contents: append(g.assembler.Window(req.History), ports.TextContent(ports.RoleUser, message)),
		Config:   cfg,
	}

	resp, err := g.generate(ctx, "support", request)
	if err != nil {
		finish(err)
		if teacherMode && IsQuotaExhausted(err) {
			g.logger.Warn().Err(err).Msg("support quota exhausted, using offline fallback")
			reply := g.fallback.Handle(ctx, message, req.Capabilities)
			g.saveTurns(ctx, req.ConversationID, "support",
				ports.Turn{Role: ports.RoleUser, Content: message},
				ports.Turn{Role: ports.RoleModel, Content: reply})
			return reply
		}
		g.logger.Error().Err(err).Msg("support reply failed")
		return SupportUnavailableMessage
	}

	result := g.dispatcher.Dispatch(ctx, DispatchInput{
		Request:        request,
		Reply:          resp,
		Capabilities:   req.Capabilities,
		ConversationID: req.ConversationID,
	})
	g.tracer.Event(ctx, "dispatch_done", map[string]any{"states": len(result.States), "actions": len(result.ActionResults)})
	finish(nil)

	text := result.Text
	if text == "" {
		text = NoResponseMessage
	}
	g.saveTurns(ctx, req.ConversationID, "support",
		ports.Turn{Role: ports.RoleUser, Content: message},
		ports.Turn{Role: ports.RoleModel, Content: text})
	return text
}

// GenerateQuiz returns multiple-choice questions, or an empty list on failure.
func (g *Gateway) GenerateQuiz(ctx context.Context, topic, difficulty string) []learning.QuizQuestion {
	qs, _ := generateStructured(ctx, g, "quiz", g.prompts.QuizPrompt(topic, difficulty), quizSchema, []learning.QuizQuestion{})
	for i := range qs {
		if qs[i].ID == "" {
			qs[i].ID = learning.FlexID(strconv.Itoa(i + 1))
		}
	}
	return qs
}

// GenerateLearningPath returns an ordered learning path, or an empty list on failure.
func (g *Gateway) GenerateLearningPath(ctx context.Context, subject string) []learning.LearningNode {
	nodes, _ := generateStructured(ctx, g, "learning_path", g.prompts.LearningPathPrompt(subject), learningPathSchema, []learning.LearningNode{})
	return nodes
}

// GenerateTeacherInsights analyzes raw class data. When data decodes as topic
// scores, a statistical summary is added to the prompt.
func (g *Gateway) GenerateTeacherInsights(ctx context.Context, data string) []learning.TeacherInsight {
	summary := ""
	if scores := ParseJSON(data, []learning.TopicScore(nil)); len(scores) > 0 {
		if s, err := learning.SummarizeScores(scores); err == nil {
			summary = s.Describe()
		}
	}
	insights, _ := generateStructured(ctx, g, "teacher_insights", g.prompts.InsightsPrompt(data, summary), teacherInsightsSchema, []learning.TeacherInsight{})
	return insights
}

// CheckOriginality scores the first 500 characters of text. A failed call
// yields score 0 with OriginalityErrorMessage; unparseable output yields
// score 0 with the raw model text as analysis.
func (g *Gateway) CheckOriginality(ctx context.Context, text string) learning.OriginalityResult {
	truncated := truncateRunes(text, originalityInputLimit)
	res, outcome := generateStructured(ctx, g, "originality", g.prompts.OriginalityPrompt(truncated), originalitySchema, learning.OriginalityResult{})
	switch {
	case outcome.Err != nil:
		return learning.OriginalityResult{Score: 0, Analysis: OriginalityErrorMessage}
	case !outcome.Parsed:
		return learning.OriginalityResult{Score: 0, Analysis: strings.TrimSpace(outcome.Raw)}
	}
	res.Score = min(max(res.Score, 0), 100)
	return res
}

// GenerateVisualAid returns a generated image when an image model is
// configured, otherwise an explanatory text. Failure yields an empty value.
func (g *Gateway) GenerateVisualAid(ctx context.Context, topic string) learning.VisualAid {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return learning.VisualAid{}
	}
	ctx, finish := g.tracer.StartSpan(ctx, "gateway.visual_aid", map[string]any{"image": g.models.Image != ""})

	req := ports.GenerateContentRequest{
		Model:    g.models.Text,
		Contents: []ports.Content{ports.TextContent(ports.RoleUser, g.prompts.VisualAidPrompt(topic))},
	}
	if g.models.Image != "" {
		req.Model = g.models.Image
		req.Config = &ports.ContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	}

	resp, err := g.generate(ctx, "visual_aid", req)
	if err != nil {
		g.logger.Error().Err(err).Msg("visual aid failed")
		finish(err)
		return learning.VisualAid{}
	}
	finish(nil)

	out := learning.VisualAid{Text: g.guardrails.SanitizeOutput(strings.TrimSpace(resp.Text))}
	for _, blob := range resp.InlineData {
		if strings.HasPrefix(blob.MIMEType, "image/") {
			out.Image, out.ImageMIME = blob.Data, blob.MIMEType
			break
		}
	}
	return out
}

func rosterToolSpecs(caps ports.Capabilities) []ports.ToolSpec {
	var specs []ports.ToolSpec
	for _, t := range tools.RosterTools(caps) {
		specs = append(specs, t.Spec())
	}
	return specs
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
