package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/ctxkeys"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/metrics"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/telemetry"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/tlsutil"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

// =============================================================================
// 🤖 OpenAI 兼容执行器
// =============================================================================

const serviceName = "agent"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// Executor calls an OpenAI-compatible chat completions endpoint with the
// step's system prompt and input.
type Executor struct {
	client         *http.Client
	baseURL        string
	apiKey         string
	model          string
	temperature    float64
	maxTokens      int
	maxInputTokens int

	tokens  *TokenCounter
	limiter *rate.Limiter
	metrics *metrics.Collector
	tracer  trace.Tracer
	calls   metric.Int64Counter
	usage   metric.Int64Counter
	logger  *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the hardened default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithMetrics records calls on the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor builds an executor from cfg.
func NewExecutor(cfg config.AgentConfig, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("agent base_url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("agent model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		client:         tlsutil.SecureHTTPClient(cfg.Timeout),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		maxInputTokens: cfg.MaxInputTokens,
		tokens:         NewTokenCounter(cfg.Model),
		limiter:        rate.NewLimiter(rate.Inf, 0),
		tracer:         telemetry.Tracer(),
		logger:         logger.With(zap.String("component", "agent_executor"), zap.String("model", cfg.Model)),
	}
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	meter := telemetry.Meter()
	var err error
	if e.calls, err = meter.Int64Counter("agent.calls",
		metric.WithDescription("Agent completion calls by result")); err != nil {
		return nil, fmt.Errorf("create agent.calls counter: %w", err)
	}
	if e.usage, err = meter.Int64Counter("agent.tokens",
		metric.WithDescription("Tokens consumed by agent calls"),
		metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("create agent.tokens counter: %w", err)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// InputBudget is the number of prompt tokens a call may use.
func (e *Executor) InputBudget() int {
	if e.maxInputTokens > 0 {
		return e.maxInputTokens
	}
	budget := e.tokens.ContextWindow() - e.maxTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// Execute runs one completion and returns the assistant text.
func (e *Executor) Execute(ctx context.Context, systemPrompt, userPrompt string) (output string, err error) {
	attrs := []attribute.KeyValue{attribute.String("agent.model", e.model)}
	if id, ok := ctxkeys.StepID(ctx); ok {
		attrs = append(attrs, attribute.String("step.id", id))
	}
	ctx, span := e.tracer.Start(ctx, "agent.execute", trace.WithAttributes(attrs...))
	start := time.Now()
	var promptTokens, completionTokens int
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", e.model),
			attribute.String("result", result),
		))
		e.usage.Add(ctx, int64(promptTokens+completionTokens), metric.WithAttributes(attribute.String("model", e.model)))
		e.metrics.RecordAgentCall(e.model, err, time.Since(start), promptTokens, completionTokens)
	}()

	promptTokens = e.tokens.CountChat(systemPrompt, userPrompt)
	if budget := e.InputBudget(); budget > 0 && promptTokens > budget {
		return "", types.NewValidationError("agent input of %d tokens exceeds the %d token budget", promptTokens, budget)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		return "", types.NewInternalError("encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", types.NewInternalError("build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isTimeout(err) {
			return "", types.NewTimeoutError("agent call timed out").WithCause(err)
		}
		return "", types.NewExternalServiceError(serviceName, err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewExternalServiceError(serviceName, fmt.Errorf("decode completion response: %w", err))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", types.NewExternalServiceError(serviceName, errors.New("completion returned no content"))
	}
	if out.Usage != nil {
		promptTokens = out.Usage.PromptTokens
		completionTokens = out.Usage.CompletionTokens
	} else {
		completionTokens = e.tokens.Count(out.Choices[0].Message.Content)
	}

	e.logger.Debug("agent call completed",
		zap.String("response_id", out.ID),
		zap.String("finish_reason", out.Choices[0].FinishReason),
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("completion_tokens", completionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out.Choices[0].Message.Content, nil
}

// mapHTTPError classifies an upstream status. Rate limiting and server
// errors are retryable.
func mapHTTPError(status int, msg string) *types.Error {
	cause := fmt.Errorf("status %d: %s", status, msg)
	e := types.NewExternalServiceError(serviceName, cause)
	switch {
	case status == http.StatusTooManyRequests,
		status >= 500:
		return e.WithRetryable(true)
	default:
		return e.WithRetryable(false)
	}
}

// readErrorMessage prefers the OpenAI error envelope and falls back to the
// raw body.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
