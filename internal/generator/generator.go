// Package generator wraps a chat model with the generation policy used for
// grounded answering: fixed sampling parameters, a per-request timeout,
// bounded retries for transient upstream failures, and classification of
// content-filter refusals.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/avelkov/cardiobot/internal/embedder"
)

// ErrContentBlocked indicates the model refused to answer because a content
// filter triggered. Callers show a dedicated message instead of the generic
// error reply.
var ErrContentBlocked = errors.New("generator: response blocked by content filter")

// DefaultTimeout bounds a single generation request, including streaming
// and any retries.
const DefaultTimeout = 120 * time.Second

// Config holds the sampling parameters applied to every generation call.
type Config struct {
	// Temperature controls response randomness (0.0 to 1.0).
	Temperature float32
	// MaxTokens caps the tokens generated per response.
	MaxTokens int
	// TopP is the nucleus sampling parameter.
	TopP float32
	// Timeout bounds a single request (0 = DefaultTimeout).
	Timeout time.Duration
}

// Client generates answers from a chat model. It is safe for concurrent use.
type Client struct {
	model  model.BaseChatModel
	cfg    Config
	policy embedder.RetryPolicy
}

// New constructs a Client around the given chat model.
func New(chatModel model.BaseChatModel, cfg Config) (*Client, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{model: chatModel, cfg: cfg, policy: embedder.DefaultRetryPolicy}, nil
}

// options converts the config into per-call model options.
func (c *Client) options() []model.Option {
	opts := []model.Option{
		model.WithTemperature(c.cfg.Temperature),
		model.WithTopP(c.cfg.TopP),
	}
	if c.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.cfg.MaxTokens))
	}
	return opts
}

// Generate produces a complete answer for the given messages. Rate limits
// and server-side failures are retried with backoff; content-filter
// refusals and request errors are not.
func (c *Client) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var answer string
	op := func() error {
		resp, err := c.model.Generate(ctx, messages, c.options()...)
		if err != nil {
			return classifyGenerationError(err)
		}
		if resp == nil || resp.Content == "" {
			return &embedder.FatalError{Err: ErrContentBlocked}
		}
		answer = resp.Content
		return nil
	}
	if err := embedder.Retry(ctx, c.policy, op); err != nil {
		return "", err
	}
	return answer, nil
}

// Stream is a lazy sequence of answer fragments. Recv returns io.EOF when
// the model has finished; Close releases the underlying stream and must be
// called when the consumer stops early.
type Stream struct {
	sr     *schema.StreamReader[*schema.Message]
	cancel context.CancelFunc
	got    bool
}

// Recv returns the next answer fragment. Empty fragments are skipped.
func (s *Stream) Recv() (string, error) {
	for {
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			if !s.got {
				return "", ErrContentBlocked
			}
			return "", io.EOF
		}
		if err != nil {
			return "", classifyGenerationError(err)
		}
		if msg.Content == "" {
			continue
		}
		s.got = true
		return msg.Content, nil
	}
}

// Close releases the stream.
func (s *Stream) Close() {
	s.sr.Close()
	s.cancel()
}

// GenerateStream produces the answer as a lazy fragment sequence. Opening
// the stream is retried like Generate; a stream that fails after the first
// fragment is not restartable. The caller must Close the returned stream.
func (c *Client) GenerateStream(ctx context.Context, messages []*schema.Message) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	var sr *schema.StreamReader[*schema.Message]
	op := func() error {
		var err error
		sr, err = c.model.Stream(ctx, messages, c.options()...)
		if err != nil {
			return classifyGenerationError(err)
		}
		return nil
	}
	if err := embedder.Retry(ctx, c.policy, op); err != nil {
		cancel()
		return nil, err
	}
	return &Stream{sr: sr, cancel: cancel}, nil
}

// blockedMarkers are substrings that identify content-filter refusals across
// backends (Gemini safety finish reasons, OpenAI content policy errors).
var blockedMarkers = []string{
	"safety",
	"blocked",
	"content_filter",
	"content management policy",
	"prohibited_content",
}

// fatalMarkers identify failures retrying cannot fix when the backend does
// not surface a typed status: bad credentials, malformed requests, unknown
// models.
var fatalMarkers = []string{
	"api key",
	"unauthorized",
	"permission denied",
	"invalid request",
	"status code: 400",
	"status code: 401",
	"status code: 403",
	"status code: 404",
}

// classifyGenerationError maps backend errors onto the shared transient vs
// fatal taxonomy. Content-filter refusals become ErrContentBlocked; typed
// Gemini API errors are split by status code; everything else defaults to
// transient, matching the embedding backends' treatment of untyped network
// failures.
func classifyGenerationError(err error) error {
	lower := strings.ToLower(err.Error())
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return &embedder.FatalError{Err: fmt.Errorf("%w: %s", ErrContentBlocked, err.Error())}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &embedder.FatalError{Err: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return embedder.Classify(apiErr.Code, fmt.Errorf("generator: %w", err))
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			return &embedder.FatalError{Err: fmt.Errorf("generator: %w", err)}
		}
	}
	return &embedder.TransientError{Err: fmt.Errorf("generator: %w", err)}
}
