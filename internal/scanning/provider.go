package scanning

import (
	"context"
	"fmt"
)

// Request is one multimodal call: a system prompt, a user prompt and one image per page
type Request struct {
	Model       string
	System      string
	User        string
	Pages       []Page
	Temperature *float32 // nil omits temperature from the request
}

// Provider sends a request to a vision model and returns the raw text it answered with
type Provider interface {
	// Complete performs a single call with no retries
	Complete(ctx context.Context, req Request) (string, error)
	// Close releases the provider's resources
	Close() error
}

// RejectionError means the model refused the request as malformed or unsupported
type RejectionError struct {
	Model      string
	StatusCode int
	Message    string
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("model %s rejected request (status %d): %s", e.Model, e.StatusCode, e.Message)
}

// StatusError is any other non-success answer from a provider (auth, rate limit, server errors)
type StatusError struct {
	Model      string
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s API error (status %d): %s", e.Model, e.StatusCode, e.Message)
}

// GatewayError is the single error surfaced for request-level faults
type GatewayError struct {
	Model   string
	Message string
	Body    string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("vision model %s failed: %s", e.Model, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// MalformedResponseError means the model answered with something that is not a JSON object
type MalformedResponseError struct {
	Model   string
	Content string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("vision model %s returned malformed JSON: %v", e.Model, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
