// Package llm provides a streaming client for OpenAI-compatible chat
// completion APIs. The completion endpoint is treated as an opaque
// collaborator: requests carry an ordered message list plus model parameters,
// and responses arrive as a lazy, finite, non-restartable sequence of text
// deltas terminated by end-of-stream, optionally followed by a usage summary.
//
// Error semantics:
//   - Transport failures and non-2xx statuses surface from StreamChat before
//     any delta is produced (mapped to the sentinel errors below).
//   - Mid-stream failures surface from Stream.Recv; io.EOF marks the normal
//     end of the stream.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Sentinel errors returned by StreamChat for classified HTTP failures.
var (
	// ErrUnavailable indicates the provider could not be reached or returned
	// an unexpected server-side status.
	ErrUnavailable = errors.New("llm: provider unavailable")

	// ErrRateLimited indicates the provider rejected the request with 429.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrAuthFailed indicates the API key was rejected.
	ErrAuthFailed = errors.New("llm: authentication failed")

	// ErrInvalidRequest indicates the provider rejected the request body.
	ErrInvalidRequest = errors.New("llm: invalid request")
)

// Message is a single role/content pair in the ordered prompt sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the provider-reported token accounting, present on the final
// stream chunk when the provider supports it.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Request describes one streaming chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
}

// Delta is one incremental text fragment from the stream.
type Delta struct {
	Content      string
	FinishReason string
}

// Stream is a lazy sequence of deltas. Recv returns io.EOF at the normal end
// of the stream; Usage is only meaningful after Recv has returned io.EOF.
// Streams are not restartable and must be closed.
type Stream interface {
	Recv() (Delta, error)
	Usage() *Usage
	Close() error
}

// Client speaks the OpenAI-compatible /chat/completions protocol.
// Works with OpenAI and any API exposing the same wire format.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, test servers).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a client for the given base URL (e.g.
// "https://api.openai.com/v1") and API key.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// streamOptions requests the final usage chunk on streaming responses.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// apiStreamChunk is a single SSE chunk.
type apiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// StreamChat opens a streaming completion request. The returned Stream yields
// deltas until io.EOF; the context bounds the entire call including the
// body read.
func (c *Client) StreamChat(ctx context.Context, req Request) (Stream, error) {
	body := apiRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}

	return &sseStream{
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
	}, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, string(body))
	default:
		return ErrUnavailable
	}
}

// sseStream parses Server-Sent Events from an HTTP response body.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
	usage  *Usage
}

// Recv returns the next text delta. Lines that are not data events, and
// malformed chunks, are skipped. "[DONE]" and a cleanly exhausted body both
// yield io.EOF; a body that fails mid-read surfaces its error.
func (s *sseStream) Recv() (Delta, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return Delta{}, io.EOF
		}
		if err != nil {
			return Delta{}, fmt.Errorf("llm: read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return Delta{}, io.EOF
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}

		if chunk.Usage != nil {
			u := *chunk.Usage
			s.usage = &u
		}

		if len(chunk.Choices) == 0 {
			// Usage-only chunk; keep reading until [DONE].
			continue
		}

		return Delta{
			Content:      chunk.Choices[0].Delta.Content,
			FinishReason: chunk.Choices[0].FinishReason,
		}, nil
	}
}

// Usage returns the provider-reported usage summary, or nil when the
// provider never sent one.
func (s *sseStream) Usage() *Usage { return s.usage }

// Close releases the underlying response body.
func (s *sseStream) Close() error { return s.body.Close() }
