package harness

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adapters "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/learning"
)

// StubProvider implements Provider for testing. Replies are served in order;
// the last reply repeats once the queue is drained.
type StubProvider struct {
	mu       sync.Mutex
	replies  []stubReply
	requests []ports.GenerateContentRequest
}

type stubReply struct {
	resp ports.GenerateContentResponse
	err  error
}

func newStubProvider(replies ...stubReply) *StubProvider {
	return &StubProvider{replies: replies}
}

func textReply(text string) stubReply {
	return stubReply{resp: ports.GenerateContentResponse{Text: text}}
}

func errReply(err error) stubReply { return stubReply{err: err} }

func (p *StubProvider) GenerateContent(ctx context.Context, req ports.GenerateContentRequest) (ports.GenerateContentResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	if idx < 0 {
		return ports.GenerateContentResponse{Text: "stub completion"}, nil
	}
	r := p.replies[idx]
	return r.resp, r.err
}

func (p *StubProvider) Requests() []ports.GenerateContentRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.GenerateContentRequest(nil), p.requests...)
}

// mockCapabilities implements Capabilities with testify/mock.
type mockCapabilities struct {
	mock.Mock
}

func (m *mockCapabilities) AddEntity(ctx context.Context, fields ports.EntityFields) string {
	return m.Called(fields).String(0)
}

func (m *mockCapabilities) RemoveEntity(ctx context.Context, name string) string {
	return m.Called(name).String(0)
}

var _ ports.Capabilities = (*mockCapabilities)(nil)

// listCapabilities keeps a real name list so call order is observable.
type listCapabilities struct {
	mu    sync.Mutex
	names []string
}

func (c *listCapabilities) AddEntity(ctx context.Context, fields ports.EntityFields) string {
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, fields.Name)
	return "Successfully added student: " + fields.Name + "."
}

func (c *listCapabilities) RemoveEntity(ctx context.Context, name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			return "Successfully removed student: " + name + "."
		}
	}
	return "Could not find a student named " + name + "."
}

// stubConversationStore implements ConversationStore for testing.
type stubConversationStore struct {
	mu        sync.Mutex
	turns     map[string][]ports.Turn
	artifacts []string
}

func (s *stubConversationStore) SaveTurn(ctx context.Context, conversationID string, turn ports.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns == nil {
		s.turns = make(map[string][]ports.Turn)
	}
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return nil
}

func (s *stubConversationStore) LoadContext(ctx context.Context, conversationID string, k int) ([]ports.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[conversationID]
	if k <= 0 || k >= len(turns) {
		return turns, nil
	}
	return turns[len(turns)-k:], nil
}

func (s *stubConversationStore) AppendToolArtifact(ctx context.Context, conversationID, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, name+"="+string(payload))
	return nil
}

var _ ports.ConversationStore = (*stubConversationStore)(nil)

func quotaError() error {
	return &ports.APIError{Provider: "test", StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded. Please retry in 40s."}
}

func newTestGateway(p ports.Provider, opts ...GatewayOption) (*Gateway, *recordingSleeper) {
	ex, rec := newTestExecutor(BackoffPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxWait: 25 * time.Second})
	all := append([]GatewayOption{WithExecutor(ex), WithLogger(zerolog.Nop())}, opts...)
	return NewGateway(p, all...), rec
}

func TestSupportReply_SentinelAdd(t *testing.T) {
	provider := newStubProvider(
		textReply(`ACTION_ADD: {"name":"Rahul","grade":"A"}`),
		textReply("Rahul is now on your roster."),
	)
	caps := &mockCapabilities{}
	caps.On("AddEntity", ports.EntityFields{Name: "Rahul", Grade: "A"}).Return("Successfully added student: Rahul (ID: 7).").Once()

	g, _ := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "Add Rahul with grade A", Capabilities: caps})

	assert.Equal(t, "Rahul is now on your roster.", got)
	caps.AssertExpectations(t)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Contents[len(reqs[1].Contents)-1]
	assert.Contains(t, last.Parts[0].Text, "Successfully added student: Rahul (ID: 7).")
}

func TestSupportReply_SentinelRemove(t *testing.T) {
	provider := newStubProvider(
		textReply("ACTION_REMOVE: Arjun Verma"),
		textReply("Done, Arjun Verma was removed."),
	)
	caps := &mockCapabilities{}
	caps.On("RemoveEntity", "Arjun Verma").Return("Successfully removed student: Arjun Verma.").Once()

	g, _ := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "remove Arjun", Capabilities: caps})

	assert.Equal(t, "Done, Arjun Verma was removed.", got)
	caps.AssertExpectations(t)
}

func TestSupportReply_FollowUpFailureKeepsResult(t *testing.T) {
	provider := newStubProvider(
		textReply("ACTION_REMOVE: Arjun Verma"),
		errReply(&ports.APIError{Provider: "test", StatusCode: 400, Message: "bad request"}),
	)
	caps := &mockCapabilities{}
	caps.On("RemoveEntity", "Arjun Verma").Return("Successfully removed student: Arjun Verma.")

	g, _ := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "remove Arjun", Capabilities: caps})

	assert.True(t, strings.HasPrefix(got, "Successfully removed student: Arjun Verma."))
	assert.Contains(t, got, UnconfirmedActionNote)
}

func TestSupportReply_InvalidAddPayload(t *testing.T) {
	provider := newStubProvider(textReply("ACTION_ADD: {not json at all"))
	caps := &mockCapabilities{}

	g, _ := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "add someone", Capabilities: caps})

	assert.Equal(t, InvalidActionDataMessage, got)
	caps.AssertNotCalled(t, "AddEntity", mock.Anything)
	assert.Len(t, provider.Requests(), 1)
}

func TestSupportReply_FunctionCalls(t *testing.T) {
	first := ports.GenerateContentResponse{FunctionCalls: []ports.FunctionCall{
		{ID: "c1", Name: "addStudent", Args: json.RawMessage(`{"name":"Priya","grade":"B","attendance":95}`)},
		{ID: "c2", Name: "removeStudent", Args: json.RawMessage(`{"studentName":"Arjun Verma"}`)},
	}}
	provider := newStubProvider(stubReply{resp: first}, textReply("Added Priya and removed Arjun."))
	caps := &mockCapabilities{}
	caps.On("AddEntity", ports.EntityFields{Name: "Priya", Grade: "B", Attendance: "95"}).Return("Successfully added student: Priya (ID: 9).")
	caps.On("RemoveEntity", "Arjun Verma").Return("Successfully removed student: Arjun Verma.")
	store := &stubConversationStore{}

	g, _ := newTestGateway(provider, WithFeatureFlags(FeatureFlags{SupportsTools: true}), WithStore(store))
	got := g.SupportReply(context.Background(), SupportRequest{Message: "update roster", Capabilities: caps, ConversationID: "conv-1"})

	assert.Equal(t, "Added Priya and removed Arjun.", got)
	caps.AssertExpectations(t)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Config.Tools, 2)

	contents := reqs[1].Contents
	modelTurn, responseTurn := contents[len(contents)-2], contents[len(contents)-1]
	assert.Equal(t, ports.RoleModel, modelTurn.Role)
	require.Len(t, responseTurn.Parts, 2)
	assert.Equal(t, "c1", responseTurn.Parts[0].FunctionResponse.ID)
	assert.Equal(t, "Successfully removed student: Arjun Verma.", responseTurn.Parts[1].FunctionResponse.Response["result"])

	assert.Len(t, store.artifacts, 2)
	turns, _ := store.LoadContext(context.Background(), "conv-1", 0)
	require.Len(t, turns, 2)
	assert.Equal(t, "support", turns[1].UseCase)
}

func TestSupportReply_FunctionCallsRunInOrder(t *testing.T) {
	first := ports.GenerateContentResponse{FunctionCalls: []ports.FunctionCall{
		{ID: "c1", Name: "addStudent", Args: json.RawMessage(`{"name":"Zed"}`)},
		{ID: "c2", Name: "removeStudent", Args: json.RawMessage(`{"studentName":"Zed"}`)},
	}}
	provider := newStubProvider(stubReply{resp: first}, textReply("Added and removed Zed."))
	caps := &listCapabilities{}

	g, _ := newTestGateway(provider, WithFeatureFlags(FeatureFlags{SupportsTools: true}))
	got := g.SupportReply(context.Background(), SupportRequest{Message: "add Zed then remove Zed", Capabilities: caps})
	assert.Equal(t, "Added and removed Zed.", got)
	assert.Empty(t, caps.names)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	responseTurn := reqs[1].Contents[len(reqs[1].Contents)-1]
	require.Len(t, responseTurn.Parts, 2)
	assert.Equal(t, "Successfully added student: Zed.", responseTurn.Parts[0].FunctionResponse.Response["result"])
	assert.Equal(t, "Successfully removed student: Zed.", responseTurn.Parts[1].FunctionResponse.Response["result"])
}

func TestSupportReply_NoActionWithoutCapabilities(t *testing.T) {
	provider := newStubProvider(textReply("ACTION_REMOVE: Arjun Verma"))
	g, _ := newTestGateway(provider)

	got := g.SupportReply(context.Background(), SupportRequest{Message: "hi"})
	assert.Equal(t, "ACTION_REMOVE: Arjun Verma", got)
	assert.Len(t, provider.Requests(), 1)
}

func TestSupportReply_QuotaFallbackRemove(t *testing.T) {
	provider := newStubProvider(errReply(quotaError()))
	caps := &mockCapabilities{}
	caps.On("RemoveEntity", "Arjun Verma").Return("Successfully removed student: Arjun Verma.").Once()

	g, rec := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "delete Arjun Verma", Capabilities: caps})

	assert.Contains(t, got, "Successfully removed student: Arjun Verma.")
	assert.Contains(t, got, "[Offline mode]")
	assert.Empty(t, rec.waits, "a 40s hint exceeds the ceiling and must not sleep")
	caps.AssertExpectations(t)
}

func TestSupportReply_QuotaFallbackAdd(t *testing.T) {
	provider := newStubProvider(errReply(quotaError()))
	caps := &mockCapabilities{}
	caps.On("AddEntity", ports.EntityFields{Name: "Priya", Grade: "B", Attendance: "0%", Status: "Stable"}).
		Return("Successfully added student: Priya (ID: 3).").Once()

	g, _ := newTestGateway(provider)
	got := g.SupportReply(context.Background(), SupportRequest{Message: "Add student Priya with Grade B", Capabilities: caps})

	assert.Contains(t, got, "Successfully added student: Priya (ID: 3).")
	assert.Contains(t, got, OfflineNotice)
	caps.AssertExpectations(t)
}

func TestSupportReply_QuotaWithoutCommand(t *testing.T) {
	g, _ := newTestGateway(newStubProvider(errReply(quotaError())))
	got := g.SupportReply(context.Background(), SupportRequest{Message: "how is the class doing?", Capabilities: &mockCapabilities{}})
	assert.Equal(t, OverloadedMessage, got)
}

func TestSupportReply_RateLimiterDenialUsesFallback(t *testing.T) {
	provider := newStubProvider(textReply("unused"))
	caps := &mockCapabilities{}
	caps.On("RemoveEntity", "Arjun Verma").Return("Successfully removed student: Arjun Verma.")

	limiter := adapters.NewTokenBucket(1, time.Hour)
	g, _ := newTestGateway(provider, WithRateLimiter(limiter))

	g.SupportReply(context.Background(), SupportRequest{Message: "hello"})
	got := g.SupportReply(context.Background(), SupportRequest{Message: "remove Arjun Verma", Capabilities: caps})

	assert.Contains(t, got, OfflineNotice)
	assert.Len(t, provider.Requests(), 1)
}

func TestSupportReply_FatalErrorWithoutFallback(t *testing.T) {
	g, _ := newTestGateway(newStubProvider(errReply(&ports.APIError{Provider: "test", StatusCode: 403, Message: "forbidden"})))
	got := g.SupportReply(context.Background(), SupportRequest{Message: "delete Arjun Verma", Capabilities: &mockCapabilities{}})
	assert.Equal(t, SupportUnavailableMessage, got)
}

func TestCoachReply(t *testing.T) {
	provider := newStubProvider(textReply("  Photosynthesis turns light into sugar.  "))
	g, _ := newTestGateway(provider)

	history := []learning.Turn{
		{Role: learning.RoleModel, Text: "Welcome!"},
		{Role: learning.RoleUser, Text: "Hi"},
		{Role: learning.RoleModel, Text: "Hello, what shall we learn?"},
	}
	snapshot := append([]learning.Turn(nil), history...)

	got := g.CoachReply(context.Background(), CoachRequest{
		History:   history,
		Message:   "What is photosynthesis?",
		Mode:      learning.ModeLearning,
		Language:  learning.English,
		PersonaID: "2",
	})

	assert.Equal(t, "Photosynthesis turns light into sugar.", got.Text)
	assert.Equal(t, snapshot, history)

	req := provider.Requests()[0]
	assert.Contains(t, req.Config.SystemInstruction, "Code Ninja")
	require.Len(t, req.Contents, 3)
	assert.Equal(t, ports.RoleUser, req.Contents[0].Role)
	assert.Equal(t, "What is photosynthesis?", req.Contents[2].Parts[0].Text)
}

func TestCoachReply_FailureAndEmptyInput(t *testing.T) {
	g, _ := newTestGateway(newStubProvider(errReply(errors.New("boom"))))
	assert.Equal(t, CoachUnavailableMessage, g.CoachReply(context.Background(), CoachRequest{Message: "hi"}).Text)
	assert.Equal(t, EmptyCoachInputMessage, g.CoachReply(context.Background(), CoachRequest{Message: "   "}).Text)
}

func TestCoachReply_VoiceInput(t *testing.T) {
	reply := ports.GenerateContentResponse{
		Text:       "Here is the answer.",
		InlineData: []ports.Blob{{MIMEType: "audio/pcm", Data: []byte{1, 2, 3}}},
	}
	provider := newStubProvider(stubReply{resp: reply})
	g, _ := newTestGateway(provider,
		WithFeatureFlags(FeatureFlags{SupportsAudio: true}),
		WithModels(Models{Text: "text-model", Audio: "audio-model"}))

	got := g.CoachReply(context.Background(), CoachRequest{
		Audio:      &ports.Blob{MIMEType: "audio/webm", Data: []byte("voice")},
		SpeakReply: true,
	})

	assert.Equal(t, []byte{1, 2, 3}, got.Audio)
	assert.Equal(t, "audio/pcm", got.AudioMIME)

	req := provider.Requests()[0]
	assert.Equal(t, "audio-model", req.Model)
	assert.Equal(t, []string{"AUDIO"}, req.Config.ResponseModalities)
	parts := req.Contents[len(req.Contents)-1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, voiceInputPrompt, parts[0].Text)
	assert.Equal(t, "audio/webm", parts[1].InlineData.MIMEType)
}

func TestGenerateQuiz(t *testing.T) {
	raw := "```json\n[{\"question\":\"2+2?\",\"options\":[\"3\",\"4\",\"5\",\"6\"],\"correctAnswerIndex\":1,\"explanation\":\"basic\"}]\n```"
	provider := newStubProvider(textReply(raw))
	g, _ := newTestGateway(provider, WithFeatureFlags(FeatureFlags{SupportsStructuredOutput: true}))

	got := g.GenerateQuiz(context.Background(), "Arithmetic", "easy")
	require.Len(t, got, 1)
	assert.Equal(t, learning.FlexID("1"), got[0].ID)
	assert.Equal(t, 1, got[0].CorrectAnswerIndex)

	req := provider.Requests()[0]
	assert.Equal(t, "application/json", req.Config.ResponseMIMEType)
	assert.Same(t, quizSchema, req.Config.ResponseSchema)
}

func TestGenerateQuiz_FailureYieldsEmpty(t *testing.T) {
	g, _ := newTestGateway(newStubProvider(errReply(errors.New("boom"))))
	got := g.GenerateQuiz(context.Background(), "Arithmetic", "easy")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	g, _ = newTestGateway(newStubProvider(textReply("I cannot make a quiz today.")))
	assert.Empty(t, g.GenerateQuiz(context.Background(), "Arithmetic", "easy"))
}

func TestGenerateQuiz_StrictSchemaRejectsMissingKeys(t *testing.T) {
	incomplete := `[{"options":["3","4"]}]`

	g, _ := newTestGateway(newStubProvider(textReply(incomplete)), WithStrictSchema(true))
	assert.Empty(t, g.GenerateQuiz(context.Background(), "Arithmetic", "easy"))

	lenient, _ := newTestGateway(newStubProvider(textReply(incomplete)))
	assert.Len(t, lenient.GenerateQuiz(context.Background(), "Arithmetic", "easy"), 1)

	complete := `[{"id":7,"question":"2+2?","options":["3","4"],"correctAnswerIndex":1}]`
	strict, _ := newTestGateway(newStubProvider(textReply(complete)), WithStrictSchema(true))
	got := strict.GenerateQuiz(context.Background(), "Arithmetic", "easy")
	require.Len(t, got, 1)
	assert.Equal(t, learning.FlexID("7"), got[0].ID)
}

func TestBuilders_Idempotent(t *testing.T) {
	raw := `[{"id":"n1","title":"Basics","description":"Start here","status":"UNLOCKED","difficulty":"Beginner","rationale":"foundation"}]`
	g, _ := newTestGateway(newStubProvider(textReply(raw)))

	first := g.GenerateLearningPath(context.Background(), "Physics")
	second := g.GenerateLearningPath(context.Background(), "Physics")
	require.Len(t, first, 1)
	assert.Equal(t, first, second)

	og, _ := newTestGateway(newStubProvider(textReply(`{"score": 88, "analysis": "Mostly original."}`)))
	assert.Equal(t, og.CheckOriginality(context.Background(), "essay"), og.CheckOriginality(context.Background(), "essay"))
}

func TestStructured_CacheServesRepeatCalls(t *testing.T) {
	raw := `[{"topic":"Algebra","avgScore":72,"difficultyLevel":"Medium","recommendation":"More practice"}]`
	provider := newStubProvider(textReply(raw))
	cache := adapters.NewLRUCache(16)
	g, _ := newTestGateway(provider, WithCache(cache, 60))

	first := g.GenerateTeacherInsights(context.Background(), "Algebra: 72")
	second := g.GenerateTeacherInsights(context.Background(), "Algebra: 72")

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Len(t, provider.Requests(), 1)
}

func TestGenerateTeacherInsights_AddsSummary(t *testing.T) {
	provider := newStubProvider(textReply("[]"))
	g, _ := newTestGateway(provider)

	data := `[{"topic":"Algebra","avgScore":80,"difficultyLevel":"Medium"},{"topic":"Thermodynamics","avgScore":40,"difficultyLevel":"Hard"}]`
	g.GenerateTeacherInsights(context.Background(), data)

	prompt := provider.Requests()[0].Contents[0].Parts[0].Text
	assert.Contains(t, prompt, "Thermodynamics")
	assert.Contains(t, prompt, data)
}

func TestCheckOriginality(t *testing.T) {
	tests := []struct {
		name  string
		reply stubReply
		want  learning.OriginalityResult
	}{
		{"parsed", textReply(`{"score": 91.5, "analysis": "Original voice."}`), learning.OriginalityResult{Score: 91.5, Analysis: "Original voice."}},
		{"clamped", textReply(`{"score": 140, "analysis": "Very original."}`), learning.OriginalityResult{Score: 100, Analysis: "Very original."}},
		{"unparseable", textReply("  This looks copied.  "), learning.OriginalityResult{Score: 0, Analysis: "This looks copied."}},
		{"call error", errReply(errors.New("boom")), learning.OriginalityResult{Score: 0, Analysis: OriginalityErrorMessage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(newStubProvider(tt.reply))
			assert.Equal(t, tt.want, g.CheckOriginality(context.Background(), "An essay about rivers."))
		})
	}
}

func TestCheckOriginality_TruncatesInput(t *testing.T) {
	provider := newStubProvider(textReply(`{"score": 50, "analysis": "ok"}`))
	g, _ := newTestGateway(provider)

	g.CheckOriginality(context.Background(), strings.Repeat("界", 800))
	prompt := provider.Requests()[0].Contents[0].Parts[0].Text
	assert.Equal(t, 500, strings.Count(prompt, "界"))
}

func TestGenerateVisualAid(t *testing.T) {
	reply := ports.GenerateContentResponse{
		Text:       "A labelled diagram.",
		InlineData: []ports.Blob{{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	}
	provider := newStubProvider(stubReply{resp: reply})
	g, _ := newTestGateway(provider, WithModels(Models{Text: "text-model", Image: "image-model"}))

	got := g.GenerateVisualAid(context.Background(), "The water cycle")
	assert.Equal(t, "image/png", got.ImageMIME)
	assert.Equal(t, "A labelled diagram.", got.Text)
	assert.Equal(t, "image-model", provider.Requests()[0].Model)

	g, _ = newTestGateway(newStubProvider(errReply(errors.New("boom"))))
	assert.True(t, g.GenerateVisualAid(context.Background(), "The water cycle").Empty())
}

func TestBuilders_NeverPanicOnHostileReplies(t *testing.T) {
	replies := []string{"", "null", "{", "]]]", "```json\n```", `{"score": "high"}`, "ACTION_ADD:", "ACTION_REMOVE:"}
	for _, r := range replies {
		g, _ := newTestGateway(newStubProvider(textReply(r)))
		assert.NotPanics(t, func() {
			g.GenerateQuiz(context.Background(), "t", "d")
			g.GenerateLearningPath(context.Background(), "s")
			g.GenerateTeacherInsights(context.Background(), "d")
			g.CheckOriginality(context.Background(), "x")
			g.SupportReply(context.Background(), SupportRequest{Message: "m", Capabilities: &mockCapabilities{}})
		}, "reply %q", r)
	}
}
