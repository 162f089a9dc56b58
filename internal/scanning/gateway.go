package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/zombor/file-cabinet/internal/metrics"
)

// DefaultFallbackModel is retried once when the primary model rejects a request
const DefaultFallbackModel = "gpt-4o-mini"

// DefaultReasoningModels are model name prefixes that reject a temperature setting
var DefaultReasoningModels = []string{"o1", "o3", "o4", "gpt-5"}

// Capabilities answers per-model feature questions by model name prefix
type Capabilities struct {
	noTemperature []string
}

// NewCapabilities creates Capabilities where models matching any of reasoningPrefixes omit temperature
func NewCapabilities(reasoningPrefixes []string) Capabilities {
	prefixes := make([]string, 0, len(reasoningPrefixes))
	for _, p := range reasoningPrefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return Capabilities{noTemperature: prefixes}
}

// SupportsTemperature reports whether model accepts a temperature parameter
func (c Capabilities) SupportsTemperature(model string) bool {
	model = strings.ToLower(model)
	for _, p := range c.noTemperature {
		if strings.HasPrefix(model, p) {
			return false
		}
	}
	return true
}

// GatewayConfig tunes the Gateway
type GatewayConfig struct {
	FallbackModel   string
	Temperature     float32
	ReasoningModels []string
	// Timeout bounds each provider call
	Timeout time.Duration
	// RateLimit is the allowed calls per second, 0 for no limit
	RateLimit float64
	// BreakerFailures is the number of consecutive faults that open the circuit
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open
	BreakerCooldown time.Duration
}

// DefaultGatewayConfig returns the stock gateway settings
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		FallbackModel:   DefaultFallbackModel,
		Temperature:     0.2,
		ReasoningModels: DefaultReasoningModels,
		Timeout:         120 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Prompt is the task-specific instruction pair sent with the pages
type Prompt struct {
	System string
	User   string
}

// Response is a parsed model answer and the model that produced it
type Response struct {
	Payload map[string]any
	Model   string
}

// Gateway sends pages and prompts to a vision model and owns the fallback policy
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	caps     Capabilities
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[string]
	metrics  *metrics.Metrics
}

// NewGateway creates a Gateway around a provider constructed once at startup
func NewGateway(provider Provider, cfg GatewayConfig, m *metrics.Metrics) *Gateway {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultGatewayConfig().BreakerFailures
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	settings := gobreaker.Settings{
		Name:    "vision-model",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var rej *RejectionError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Gateway{
		provider: provider,
		cfg:      cfg,
		caps:     NewCapabilities(cfg.ReasoningModels),
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  gobreaker.NewCircuitBreaker[string](settings),
		metrics:  m,
	}
}

// Ask sends the prompt and pages to model and returns the JSON object it answered with.
// A rejection by model is retried once against the fallback model.
func (g *Gateway) Ask(ctx context.Context, prompt Prompt, pages []Page, model string) (*Response, error) {
	used := model
	content, err := g.call(ctx, prompt, pages, model)

	var rej *RejectionError
	if err != nil && errors.As(err, &rej) && g.cfg.FallbackModel != "" && model != g.cfg.FallbackModel {
		slog.Error("Model rejected request",
			"model", model,
			"status", rej.StatusCode,
			"error", rej.Message,
			"body", rej.Body,
		)
		slog.Info("Retrying with fallback model", "model", g.cfg.FallbackModel)
		g.metrics.IncFallback(model)

		used = g.cfg.FallbackModel
		content, err = g.call(ctx, prompt, pages, used)
	}
	if err != nil {
		return nil, newGatewayError(used, err)
	}

	payload, err := parseJSONObject(content)
	if err != nil {
		slog.Error("Model returned malformed JSON", "model", used, "content", content, "error", err)
		return nil, &MalformedResponseError{Model: used, Content: content, Err: err}
	}

	return &Response{Payload: payload, Model: used}, nil
}

func (g *Gateway) call(ctx context.Context, prompt Prompt, pages []Page, model string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req := Request{
		Model:  model,
		System: prompt.System,
		User:   prompt.User,
		Pages:  pages,
	}
	if g.caps.SupportsTemperature(model) {
		t := g.cfg.Temperature
		req.Temperature = &t
	}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := g.breaker.Execute(func() (string, error) {
		return g.provider.Complete(callCtx, req)
	})
	g.metrics.ObserveGatewayCall(model, callOutcome(err), time.Since(start))

	return content, err
}

func callOutcome(err error) string {
	var rej *RejectionError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	default:
		return "error"
	}
}

func newGatewayError(model string, err error) *GatewayError {
	gwErr := &GatewayError{Model: model, Message: err.Error(), Err: err}

	var rej *RejectionError
	var status *StatusError
	switch {
	case errors.As(err, &rej):
		gwErr.Message = rej.Message
		gwErr.Body = rej.Body
	case errors.As(err, &status):
		gwErr.Message = status.Message
		gwErr.Body = status.Body
	case errors.Is(err, gobreaker.ErrOpenState):
		gwErr.Message = "vision model circuit breaker is open"
	}
	return gwErr
}
