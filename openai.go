package reverie

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zoobzio/zyn"
)

// StreamProvider extends Provider with incremental delivery. The stream
// is finite and non-restartable; delivery stops when the callback
// returns an error or the context is canceled, so a disconnected
// consumer does not keep burning backend resources.
type StreamProvider interface {
	Provider
	Stream(ctx context.Context, messages []zyn.Message, temperature float32, fn func(delta string) error) error
}

// ErrBackend wraps network and protocol failures from the generation
// backend. Distinguishable from schema-validation fallbacks, which are
// not errors at all.
var ErrBackend = fmt.Errorf("generation backend unavailable")

// ChatProvider implements Provider and StreamProvider against an
// OpenAI-compatible /v1/chat/completions endpoint.
type ChatProvider struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// ChatProviderOption configures a ChatProvider.
type ChatProviderOption func(*ChatProvider)

// WithChatModel sets the model identifier sent to the backend.
func WithChatModel(model string) ChatProviderOption {
	return func(p *ChatProvider) { p.model = model }
}

// WithChatAPIKey sets the bearer token sent with each request.
func WithChatAPIKey(key string) ChatProviderOption {
	return func(p *ChatProvider) { p.apiKey = key }
}

// WithChatHTTPClient sets a custom HTTP client.
func WithChatHTTPClient(client *http.Client) ChatProviderOption {
	return func(p *ChatProvider) { p.client = client }
}

// NewChatProvider creates a provider for the given base URL.
func NewChatProvider(baseURL string, opts ...ChatProviderOption) *ChatProvider {
	p := &ChatProvider{
		baseURL: baseURL,
		model:   "reverie",
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *ChatProvider) request(ctx context.Context, messages []zyn.Message, temperature float32, stream bool) (*http.Response, error) {
	req := chatRequest{
		Model:       p.model,
		Messages:    make([]chatMessage, len(messages)),
		Temperature: temperature,
		MaxTokens:   -1,
		Stream:      stream,
	}
	for i, m := range messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrBackend, resp.StatusCode)
	}
	return resp, nil
}

// Call implements Provider.
func (p *ChatProvider) Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error) {
	resp, err := p.request(ctx, messages, temperature, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrBackend, err)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrBackend, err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrBackend, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrBackend)
	}

	return &zyn.ProviderResponse{
		Content: chatResp.Choices[0].Message.Content,
		Usage: zyn.TokenUsage{
			Prompt:     chatResp.Usage.PromptTokens,
			Completion: chatResp.Usage.CompletionTokens,
			Total:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// Stream implements StreamProvider. Deltas arrive in order; the stream
// terminates at the backend's [DONE] marker.
func (p *ChatProvider) Stream(ctx context.Context, messages []zyn.Message, temperature float32, fn func(delta string) error) error {
	resp, err := p.request(ctx, messages, temperature, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			return nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
		if chunk.Choices[0].FinishReason != nil {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: stream read failed: %v", ErrBackend, err)
	}
	return nil
}

// Name implements Provider.
func (p *ChatProvider) Name() string {
	return "openai-compatible"
}

var (
	_ Provider       = (*ChatProvider)(nil)
	_ StreamProvider = (*ChatProvider)(nil)
)
