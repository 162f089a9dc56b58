package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements Provider using Google Gemini
type Gemini struct {
	client *genai.Client
}

// jsonModeTransport authenticates Gemini REST calls and asks generateContent for a JSON response.
// The generation config of the pinned genai client has no response MIME type, so it is set on the wire.
type jsonModeTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *jsonModeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Set("x-goog-api-key", t.apiKey)

	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, ":generateContent") && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading gemini request: %w", err)
		}
		if body, err = withJSONResponse(body); err != nil {
			return nil, err
		}
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	return t.base.RoundTrip(out)
}

// withJSONResponse sets generationConfig.responseMimeType on a generateContent request body
func withJSONResponse(body []byte) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding gemini request: %w", err)
	}
	config, _ := payload["generationConfig"].(map[string]any)
	if config == nil {
		config = map[string]any{}
	}
	config["responseMimeType"] = "application/json"
	payload["generationConfig"] = config

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding gemini request: %w", err)
	}
	return body, nil
}

// NewGemini creates a new Gemini Provider. Extra options such as option.WithEndpoint are passed to the client.
func NewGemini(apiKey string, opts ...option.ClientOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	httpClient := &http.Client{
		Transport: &jsonModeTransport{apiKey: apiKey, base: http.DefaultTransport},
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	ctx := context.Background()
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
	}, nil
}

// Complete generates content from the prompts and page images in JSON mode
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(req.Model)
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}

	parts := []genai.Part{
		genai.Text(req.System + "\n\n" + req.User),
	}
	for _, page := range req.Pages {
		// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
		parts = append(parts, genai.ImageData("jpeg", page.Data))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			if isRejectionStatus(apiErr.Code) {
				return "", &RejectionError{Model: req.Model, StatusCode: apiErr.Code, Message: apiErr.Message, Body: apiErr.Body}
			}
			return "", &StatusError{Model: req.Model, StatusCode: apiErr.Code, Message: apiErr.Message, Body: apiErr.Body}
		}
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &StatusError{Model: req.Model, StatusCode: http.StatusBadGateway, Message: "no response from gemini"}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return strings.TrimSpace(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
