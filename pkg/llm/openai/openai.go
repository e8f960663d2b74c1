// Package openai streams chat completions from OpenAI-compatible endpoints,
// splitting each response into its content and reasoning channels.
package openai

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/memochat/pkg/llm"
	"github.com/entrhq/memochat/pkg/llm/sse"
	"github.com/entrhq/memochat/pkg/types"
	"github.com/openai/openai-go"
)

// Defaults applied by NewProvider.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo"
)

// Environment fallbacks for an unset key or base URL.
const (
	envAPIKey  = "OPENAI_API_KEY"
	envBaseURL = "OPENAI_BASE_URL"
)

// readBufferSize bounds each body read handed to the decoder.
const readBufferSize = 4096

// APIError is returned when the endpoint answers with a non-success status.
// Nothing has been streamed when it is returned.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// Provider is an llm.Provider for any endpoint speaking the OpenAI chat
// completions protocol.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// ProviderOption configures a Provider. Options given an empty value leave
// the default in place.
type ProviderOption func(*Provider)

// WithModel selects the model.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the provider at another compatible endpoint, such as a
// local server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewProvider returns a provider authenticating with apiKey.
//
// An empty apiKey falls back to OPENAI_API_KEY, and a base URL not set by an
// option falls back to OPENAI_BASE_URL. A key that is still empty is sent
// anyway; the endpoint reports the failure.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		httpClient: &http.Client{},
		apiKey:     cmp.Or(apiKey, os.Getenv(envAPIKey)),
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if env := os.Getenv(envBaseURL); env != "" && p.baseURL == DefaultBaseURL {
		p.baseURL = strings.TrimRight(env, "/")
	}
	return p, nil
}

// CloneWithModel implements llm.ModelCloner. The clone shares the client,
// key and endpoint of p.
func (p *Provider) CloneWithModel(model string) llm.Provider {
	clone := *p
	clone.model = model
	return &clone
}

// Complete sends messages to the endpoint, invokes callbacks for every
// non-empty delta as it is decoded, and returns the aggregated content and
// reasoning once the body has been read to the end.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message, callbacks *llm.Callbacks) (*llm.Result, error) {
	resp, err := p.post(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content, reasoning strings.Builder
	err = readStream(resp.Body, func(chunk *llm.StreamChunk) bool {
		switch chunk.Channel {
		case llm.ChannelContent:
			content.WriteString(chunk.Delta)
		case llm.ChannelReasoning:
			reasoning.WriteString(chunk.Delta)
		}
		callbacks.Dispatch(chunk)
		return true
	})
	if err != nil {
		return nil, err
	}

	return &llm.Result{
		Content:   content.String(),
		Reasoning: reasoning.String(),
	}, nil
}

// StreamCompletion is the channel form of Complete. Chunks arrive in decode
// order and end with a Finished chunk, or a chunk carrying the error that
// stopped the stream. The channel is then closed.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	resp, err := p.post(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go pump(ctx, resp.Body, chunks)
	return chunks, nil
}

type completionRequest struct {
	Model    string                                   `json:"model"`
	Messages []openai.ChatCompletionMessageParamUnion `json:"messages"`
	Stream   bool                                     `json:"stream"`
}

// post starts a streaming completion. A non-2xx answer is read in full and
// returned as *APIError.
func (p *Provider) post(ctx context.Context, messages []*types.Message) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Model:    p.model,
		Messages: toParams(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}

	defer resp.Body.Close()
	errBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, err)
	}
	return nil, &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
}

func pump(ctx context.Context, body io.ReadCloser, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer body.Close()

	send := func(chunk *llm.StreamChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := readStream(body, send)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		send(&llm.StreamChunk{Error: err})
		return
	}
	send(&llm.StreamChunk{Finished: true})
}

// readStream reads body until EOF, decoding each fragment as it arrives and
// passing every non-empty delta to emit in decode order. Within one record the
// content delta is emitted before the reasoning delta. Returning false from
// emit stops reading. The [DONE] sentinel does not end the read; the body's
// EOF does. A dangling unterminated line at EOF is discarded.
func readStream(body io.Reader, emit func(*llm.StreamChunk) bool) error {
	decoder := sse.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for payload := range decoder.Feed(buf[:n]) {
				if !emitPayload(payload, emit) {
					return nil
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream read error: %w", err)
		}
	}
}

func emitPayload(payload sse.Payload, emit func(*llm.StreamChunk) bool) bool {
	if delta := payload.Delta("content"); delta != "" {
		if !emit(&llm.StreamChunk{Channel: llm.ChannelContent, Delta: delta}) {
			return false
		}
	}
	if delta := payload.Delta("reasoning_content"); delta != "" {
		if !emit(&llm.StreamChunk{Channel: llm.ChannelReasoning, Delta: delta}) {
			return false
		}
	}
	return true
}

// GetModel returns the model requests are sent to.
func (p *Provider) GetModel() string { return p.model }

// GetBaseURL returns the endpoint base URL.
func (p *Provider) GetBaseURL() string { return p.baseURL }

// GetAPIKey returns the key sent in the Authorization header.
func (p *Provider) GetAPIKey() string { return p.apiKey }

// toParams maps turns onto request messages. Reasoning stays local and is
// never sent back.
func toParams(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			params = append(params, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}
	return params
}
