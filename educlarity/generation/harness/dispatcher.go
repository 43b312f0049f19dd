package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
	"github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/tools"
)

const (
	// InvalidActionDataMessage is returned when an add payload cannot be decoded.
	InvalidActionDataMessage = "I could not complete that action because the student data was invalid."
	// UnconfirmedActionNote is appended when the follow-up call fails.
	UnconfirmedActionNote = "(Note: the assistant could not confirm this action.)"
)

// DispatchState is a step of the action state machine.
type DispatchState string

const (
	StateAwaitingReply     DispatchState = "AwaitingModelReply"
	StateActionDetected    DispatchState = "ActionDetected"
	StateCapabilityInvoked DispatchState = "CapabilityInvoked"
	StateFollowUpSent      DispatchState = "FollowUpSent"
	StateNoAction          DispatchState = "NoAction"
	StateDone              DispatchState = "Done"
)

// DispatchInput is a model reply plus what is needed to act on it.
type DispatchInput struct {
	Request        ports.GenerateContentRequest // request that produced Reply
	Reply          ports.GenerateContentResponse
	Capabilities   ports.Capabilities
	ConversationID string
}

// DispatchResult is the terminal outcome. Text is always set.
type DispatchResult struct {
	Text          string
	ActionResults []string
	States        []DispatchState
}

// Dispatcher turns action requests in model replies into capability calls
// and returns the model's confirmation.
type Dispatcher struct {
	provider   ports.Provider
	executor   *BackoffExecutor
	parser     *OutputParser
	guardrails *Guardrails
	store      ports.ConversationStore
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher. store may be nil.
func NewDispatcher(provider ports.Provider, executor *BackoffExecutor, guardrails *Guardrails, store ports.ConversationStore, logger zerolog.Logger) *Dispatcher {
	if guardrails == nil {
		guardrails = NewGuardrails()
	}
	guardrails.AllowTool(tools.AddStudentName)
	guardrails.AllowTool(tools.RemoveStudentName)
	return &Dispatcher{
		provider:   provider,
		executor:   executor,
		parser:     NewOutputParser(),
		guardrails: guardrails,
		store:      store,
		logger:     logger,
	}
}

// Dispatch runs the state machine over one reply.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) DispatchResult {
	res := DispatchResult{States: []DispatchState{StateAwaitingReply}}

	if in.Capabilities != nil {
		if len(in.Reply.FunctionCalls) > 0 {
			return d.dispatchFunctionCalls(ctx, in, res)
		}
		if action, ok := d.parser.ParseAction(in.Reply.Text); ok {
			return d.dispatchSentinel(ctx, in, action, res)
		}
		if calls := d.inlineToolCalls(in.Reply.Text); len(calls) > 0 {
			return d.dispatchInline(ctx, in, calls, res)
		}
	}

	res.States = append(res.States, StateNoAction, StateDone)
	res.Text = d.guardrails.SanitizeOutput(strings.TrimSpace(in.Reply.Text))
	return res
}

func (d *Dispatcher) dispatchFunctionCalls(ctx context.Context, in DispatchInput, res DispatchResult) DispatchResult {
	res.States = append(res.States, StateActionDetected)

	calls := in.Reply.FunctionCalls
	if limit := d.guardrails.MaxToolCalls(); len(calls) > limit {
		d.logger.Warn().Int("requested", len(calls)).Int("limit", limit).Msg("truncating tool calls")
		calls = calls[:limit]
	}

	toolset := toolIndex(in.Capabilities)
	results := make([]string, len(calls))
	invalid := make([]bool, len(calls))

	// A single worker runs calls in emission order: a remove may target a
	// record added earlier in the same reply.
	p := pool.New().WithMaxGoroutines(1)
	for i, call := range calls {
		p.Go(func() {
			results[i], invalid[i] = d.invokeTool(ctx, toolset, ports.ToolCall{ID: call.ID, Name: call.Name, Args: call.Args})
		})
	}
	p.Wait()

	if allTrue(invalid) {
		res.States = append(res.States, StateDone)
		res.Text = InvalidActionDataMessage
		return res
	}
	res.States = append(res.States, StateCapabilityInvoked)
	res.ActionResults = results
	d.recordArtifacts(ctx, in.ConversationID, calls, results)

	modelTurn := ports.Content{Role: ports.RoleModel}
	if in.Reply.Text != "" {
		modelTurn.Parts = append(modelTurn.Parts, ports.Part{Text: in.Reply.Text})
	}
	responseTurn := ports.Content{Role: ports.RoleUser}
	for i, call := range calls {
		fc := call
		modelTurn.Parts = append(modelTurn.Parts, ports.Part{FunctionCall: &fc})
		responseTurn.Parts = append(responseTurn.Parts, ports.Part{FunctionResponse: &ports.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"result": results[i]},
		}})
	}

	return d.followUp(ctx, in.Request, []ports.Content{modelTurn, responseTurn}, results, res)
}

func (d *Dispatcher) dispatchSentinel(ctx context.Context, in DispatchInput, action ActionRequest, res DispatchResult) DispatchResult {
	res.States = append(res.States, StateActionDetected)

	var result string
	switch action.Kind {
	case ActionAdd:
		fields, err := tools.DecodeEntityFields(json.RawMessage(action.Payload))
		if err != nil {
			d.logger.Warn().Err(err).Str("payload", action.Payload).Msg("invalid add payload")
			res.States = append(res.States, StateDone)
			res.Text = InvalidActionDataMessage
			return res
		}
		result = in.Capabilities.AddEntity(ctx, fields)
	case ActionRemove:
		if action.Payload == "" {
			res.States = append(res.States, StateDone)
			res.Text = InvalidActionDataMessage
			return res
		}
		result = in.Capabilities.RemoveEntity(ctx, action.Payload)
	}
	res.States = append(res.States, StateCapabilityInvoked)
	res.ActionResults = []string{result}
	d.recordArtifacts(ctx, in.ConversationID, []ports.FunctionCall{{Name: string(action.Kind)}}, res.ActionResults)

	turns := []ports.Content{
		ports.TextContent(ports.RoleModel, in.Reply.Text),
		ports.TextContent(ports.RoleUser, actionResultPrompt(result)),
	}
	return d.followUp(ctx, in.Request, turns, res.ActionResults, res)
}

func (d *Dispatcher) dispatchInline(ctx context.Context, in DispatchInput, calls []ports.ToolCall, res DispatchResult) DispatchResult {
	res.States = append(res.States, StateActionDetected)

	toolset := toolIndex(in.Capabilities)
	results := make([]string, 0, len(calls))
	for _, call := range calls {
		out, bad := d.invokeTool(ctx, toolset, call)
		if bad {
			res.States = append(res.States, StateDone)
			res.Text = InvalidActionDataMessage
			return res
		}
		results = append(results, out)
	}
	res.States = append(res.States, StateCapabilityInvoked)
	res.ActionResults = results

	turns := []ports.Content{
		ports.TextContent(ports.RoleModel, in.Reply.Text),
		ports.TextContent(ports.RoleUser, actionResultPrompt(strings.Join(results, "\n"))),
	}
	return d.followUp(ctx, in.Request, turns, results, res)
}

// followUp sends the capability results back and returns the model's reply.
func (d *Dispatcher) followUp(ctx context.Context, req ports.GenerateContentRequest, extra []ports.Content, results []string, res DispatchResult) DispatchResult {
	res.States = append(res.States, StateFollowUpSent)

	next := req
	next.Contents = make([]ports.Content, 0, len(req.Contents)+len(extra))
	next.Contents = append(next.Contents, req.Contents...)
	next.Contents = append(next.Contents, extra...)

	reply, err := Execute(ctx, d.executor, func(ctx context.Context) (ports.GenerateContentResponse, error) {
		return d.provider.GenerateContent(ctx, next)
	})

	res.States = append(res.States, StateDone)
	joined := strings.Join(results, "\n")
	if err != nil {
		d.logger.Warn().Err(err).Msg("action follow-up failed")
		res.Text = joined + "\n\n" + UnconfirmedActionNote
		return res
	}
	text := strings.TrimSpace(StripSentinels(reply.Text))
	if text == "" {
		text = joined
	}
	res.Text = d.guardrails.SanitizeOutput(text)
	return res
}

// invokeTool returns the tool's text and whether the arguments were invalid.
func (d *Dispatcher) invokeTool(ctx context.Context, toolset map[string]ports.Tool, call ports.ToolCall) (string, bool) {
	if err := d.guardrails.ValidateToolCall(call); err != nil {
		d.logger.Warn().Err(err).Str("tool", call.Name).Msg("tool call rejected")
		return fmt.Sprintf("Error: tool %s is not available.", call.Name), false
	}
	tool, ok := toolset[call.Name]
	if !ok {
		return fmt.Sprintf("Error: tool %s is not available.", call.Name), false
	}
	out, err := tool.Invoke(ctx, call.Args)
	if err != nil {
		if errors.Is(err, tools.ErrInvalidArguments) {
			d.logger.Warn().Err(err).Str("tool", call.Name).Msg("invalid tool arguments")
			return InvalidActionDataMessage, true
		}
		return "Error: " + err.Error(), false
	}
	d.logger.Info().Str("tool", call.Name).Str("result", out).Msg("capability invoked")
	return out, false
}

func (d *Dispatcher) inlineToolCalls(text string) []ports.ToolCall {
	var out []ports.ToolCall
	for _, call := range d.parser.ParseToolCalls(text) {
		if call.Name == tools.AddStudentName || call.Name == tools.RemoveStudentName {
			out = append(out, call)
		}
	}
	return out
}

func (d *Dispatcher) recordArtifacts(ctx context.Context, conversationID string, calls []ports.FunctionCall, results []string) {
	if d.store == nil || conversationID == "" {
		return
	}
	for i, call := range calls {
		if err := d.store.AppendToolArtifact(ctx, conversationID, call.Name, []byte(results[i])); err != nil {
			d.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to store tool artifact")
		}
	}
}

func toolIndex(caps ports.Capabilities) map[string]ports.Tool {
	idx := map[string]ports.Tool{}
	for _, t := range tools.RosterTools(caps) {
		idx[t.Name()] = t
	}
	return idx
}

func actionResultPrompt(result string) string {
	return "SYSTEM: The requested action was executed. Result: " + result +
		"\nConfirm the outcome to the user in one or two friendly sentences. Do not emit another action."
}

func allTrue(v []bool) bool {
	if len(v) == 0 {
		return false
	}
	for _, b := range v {
		if !b {
			return false
		}
	}
	return true
}
