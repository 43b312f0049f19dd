// Package gemini implements the generative provider port over the Gemini
// generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/educlarity/educlarity/generation/harness/ports"
)

const (
	// DefaultBaseURL is the public Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// ProviderName labels errors produced by this client.
	ProviderName = "gemini"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 64 << 10
)

var (
	// ErrMissingAPIKey is returned when the client has no API key.
	ErrMissingAPIKey = errors.New("gemini API key not configured")
	// ErrNoCandidates is returned when a reply carries no candidate.
	ErrNoCandidates = errors.New("no candidates in gemini response")
)

// Client calls models/{model}:generateContent. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With().Str("provider", ProviderName).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.Provider = (*Client)(nil)

// GenerateContent sends one non-streaming request. Non-2xx replies are
// returned as *ports.APIError.
func (c *Client) GenerateContent(ctx context.Context, req ports.GenerateContentRequest) (ports.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return ports.GenerateContentResponse{}, ErrMissingAPIKey
	}
	if req.Model == "" {
		return ports.GenerateContentResponse{}, fmt.Errorf("gemini: model is required")
	}

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return ports.GenerateContentResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.GenerateContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.GenerateContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := parseAPIError(resp, raw)
		c.logger.Warn().
			Int("status_code", apiErr.StatusCode).
			Str("status", apiErr.Status).
			Dur("retry_after", apiErr.RetryAfter).
			Str("model", req.Model).
			Msg("gemini request failed")
		return ports.GenerateContentResponse{}, apiErr
	}

	var wire generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ports.GenerateContentResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	out, err := fromWireResponse(wire)
	if err != nil {
		return out, err
	}

	ev := c.logger.Debug().Str("model", req.Model).Dur("latency", time.Since(start)).Int("function_calls", len(out.FunctionCalls))
	if out.Usage != nil {
		ev = ev.Int("total_tokens", out.Usage.TotalTokens)
	}
	ev.Msg("gemini request completed")
	return out, nil
}

func toWireRequest(req ports.GenerateContentRequest) generateRequest {
	wire := generateRequest{Contents: make([]content, 0, len(req.Contents))}
	for _, c := range req.Contents {
		wire.Contents = append(wire.Contents, toWireContent(c))
	}

	cfg := req.Config
	if cfg == nil {
		return wire
	}
	if cfg.SystemInstruction != "" {
		wire.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: toWireSchema(t.Parameters)})
		}
		wire.Tools = []tool{{FunctionDeclarations: decls}}
	}

	gc := &generationConfig{
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxOutputTokens,
		ResponseMIMEType:   cfg.ResponseMIMEType,
		ResponseSchema:     toWireSchema(cfg.ResponseSchema),
		ResponseModalities: cfg.ResponseModalities,
	}
	if gc.Temperature != nil || gc.MaxOutputTokens > 0 || gc.ResponseMIMEType != "" || gc.ResponseSchema != nil || len(gc.ResponseModalities) > 0 {
		wire.GenerationConfig = gc
	}
	return wire
}

func toWireContent(c ports.Content) content {
	out := content{Role: c.Role, Parts: make([]part, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.Parts = append(out.Parts, part{FunctionCall: &functionCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: args}})
		case p.FunctionResponse != nil:
			out.Parts = append(out.Parts, part{FunctionResponse: &functionResponse{
				ID:       p.FunctionResponse.ID,
				Name:     p.FunctionResponse.Name,
				Response: p.FunctionResponse.Response,
			}})
		case p.InlineData != nil:
			out.Parts = append(out.Parts, part{InlineData: &inlineData{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}})
		default:
			out.Parts = append(out.Parts, part{Text: p.Text})
		}
	}
	return out
}

func toWireSchema(s *ports.Schema) *schema {
	if s == nil {
		return nil
	}
	out := &schema{
		Type:        string(s.Type),
		Description: s.Description,
		Enum:        s.Enum,
		Items:       toWireSchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toWireSchema(prop)
		}
	}
	return out
}

func fromWireResponse(wire generateResponse) (ports.GenerateContentResponse, error) {
	var out ports.GenerateContentResponse
	if wire.UsageMetadata != nil {
		out.Usage = &ports.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		}
	}
	if len(wire.Candidates) == 0 {
		if wire.PromptFeedback != nil && wire.PromptFeedback.BlockReason != "" {
			return out, fmt.Errorf("%w: prompt blocked (%s)", ErrNoCandidates, wire.PromptFeedback.BlockReason)
		}
		return out, ErrNoCandidates
	}

	cand := wire.Candidates[0]
	out.FinishReason = cand.FinishReason
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			out.FunctionCalls = append(out.FunctionCalls, ports.FunctionCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
		case p.InlineData != nil:
			out.InlineData = append(out.InlineData, ports.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		case p.Thought:
		default:
			text.WriteString(p.Text)
		}
	}
	out.Text = text.String()
	return out, nil
}
