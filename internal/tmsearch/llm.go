package tmsearch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const llmMaxAttempts = 3

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

type llmFailureClass int

const (
	failureNone llmFailureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

// LLMCaller sends one prompt and returns the model's text.
type LLMCaller interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// NewAnthropicCaller builds a caller for model; an empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicCaller(apiKey, model string) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultLLMModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   2048,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// AIService runs the vagueness check and suggestion prompts.
type AIService struct {
	caller  LLMCaller
	timeout time.Duration
	sleep   func(context.Context, time.Duration) error
}

func NewAIService(caller LLMCaller, timeout time.Duration) *AIService {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &AIService{caller: caller, timeout: timeout, sleep: sleepCtx}
}

func (s *AIService) ModelName() string {
	if s == nil || s.caller == nil {
		return DefaultLLMModel
	}
	return s.caller.ModelName()
}

// CheckVagueness asks the model whether term reads as vague to an examiner.
func (s *AIService) CheckVagueness(ctx context.Context, term string) (Vagueness, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return Vagueness{}, NewValidationError("term is required for vagueness check")
	}
	raw, err := s.complete(ctx, "vagueness", "", vaguenessPrompt(term))
	if err != nil {
		return Vagueness{}, err
	}
	return ParseVagueness(raw), nil
}

// Suggest asks for 3-5 more specific rewordings of term. Term and reason are
// required; when example is set every suggestion must start with it.
func (s *AIService) Suggest(ctx context.Context, term, reason, example string) ([]Suggestion, error) {
	term = strings.TrimSpace(term)
	reason = strings.TrimSpace(reason)
	if term == "" || reason == "" {
		return nil, NewValidationError("term and reason are required for AI suggestions")
	}
	raw, err := s.complete(ctx, "suggestions", suggestionSystemPrompt, suggestionPrompt(term, reason, strings.TrimSpace(example)))
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(raw)
}

func (s *AIService) complete(ctx context.Context, op, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		start := time.Now()
		log.Printf("tmsearch llm_attempt_start op=%s attempt=%d model=%s", op, attempt, s.ModelName())
		raw, err := s.caller.Complete(ctx, system, prompt)
		if err == nil {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return "", fmt.Errorf("%s failed: empty response", op)
			}
			log.Printf("tmsearch llm_attempt_success op=%s attempt=%d elapsed_ms=%d response_chars=%d", op, attempt, time.Since(start).Milliseconds(), len(raw))
			return raw, nil
		}
		class := classifyTransportError(err)
		log.Printf("tmsearch llm_attempt_transport_error op=%s attempt=%d class=%d elapsed_ms=%d err=%q", op, attempt, class, time.Since(start).Milliseconds(), err.Error())
		retryable := class == failureTimeout || class == failureRateLimit || class == failureServer
		if !retryable || attempt == llmMaxAttempts {
			if class == failureTimeout {
				return "", NewTimeoutError(op+" timed out", err)
			}
			return "", fmt.Errorf("%s transport failure: %w", op, err)
		}
		if err := s.sleep(ctx, backoffDelay(attempt)); err != nil {
			return "", NewTimeoutError(op+" timed out", err)
		}
	}
	return "", fmt.Errorf("%s failed after retries", op)
}

func classifyTransportError(err error) llmFailureClass {
	if err == nil {
		return failureNone
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		var code int
		fmt.Sscanf(m[1], "%d", &code)
		return classifyStatus(code)
	}
	switch {
	case strings.Contains(msg, "rate limit"):
		return failureRateLimit
	case strings.Contains(msg, "server error"):
		return failureServer
	default:
		return failureServer
	}
}

func classifyStatus(code int) llmFailureClass {
	switch {
	case code == 429:
		return failureRateLimit
	case code >= 500:
		return failureServer
	case code >= 400:
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
