package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements Provider using a local Ollama server
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a new Ollama Provider
// Recommended vision models for business documents:
//   - qwen2.5vl (good OCR capabilities)
//   - llava:1.6 (best balance of accuracy and speed)
//   - llama3.2-vision
func NewOllama(baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 300 * time.Second, // Vision models are slow on local hardware
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Complete sends one chat request with the page images attached to the user message
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	images := make([]string, 0, len(req.Pages))
	for _, page := range req.Pages {
		images = append(images, base64.StdEncoding.EncodeToString(page.Data))
	}

	reqBody := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: req.System,
			},
			{
				Role:    "user",
				Content: req.User,
				Images:  images,
			},
		},
	}
	if req.Temperature != nil {
		reqBody.Options = map[string]any{"temperature": *req.Temperature}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		message := string(body)
		var apiErr ollamaErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		if isRejectionStatus(resp.StatusCode) {
			return "", &RejectionError{Model: req.Model, StatusCode: resp.StatusCode, Message: message, Body: string(body)}
		}
		return "", &StatusError{Model: req.Model, StatusCode: resp.StatusCode, Message: message, Body: string(body)}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
