package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// HTTPGateway is an OpenAI-style chat completions client constrained to
// structured classification output. Every call requests a strict JSON schema
// built from the configured categories, so the model cannot omit or invent
// category keys.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	model      string
	categories []string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway client for the given categories.
func NewHTTPGateway(baseURL, apiKey, model string, categories []string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		categories: categories,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string       `json:"name"`
	Strict bool         `json:"strict"`
	Schema objectSchema `json:"schema"`
}

type objectSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]propertySchema `json:"properties"`
	Required             []string                  `json:"required"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

type propertySchema struct {
	Type string `json:"type"`
	Enum []int  `json:"enum"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends one chat request to the gateway and validates the
// structured response against the category schema.
func (g *HTTPGateway) Classify(ctx context.Context, system, user string) (Prediction, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: g.responseFormat(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Prediction{}, &GatewayError{Kind: Timeout, Err: err}
		}
		return Prediction{}, &GatewayError{Kind: ServiceError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Prediction{}, &GatewayError{
			Kind:   ServiceError,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(msg))),
		}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Prediction{}, &GatewayError{Kind: MalformedResponse, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(chat.Choices) == 0 {
		return Prediction{}, &GatewayError{Kind: MalformedResponse, Err: errors.New("response has no choices")}
	}

	var values map[string]int
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &values); err != nil {
		return Prediction{}, &GatewayError{Kind: MalformedResponse, Err: fmt.Errorf("parsing prediction: %w", err)}
	}
	if err := validateCategories(g.categories, values); err != nil {
		return Prediction{}, &GatewayError{Kind: MalformedResponse, Err: err}
	}

	return Prediction{Categories: values, Model: chat.Model}, nil
}

// responseFormat builds the strict response schema: one integer property per
// category, values restricted to {0,1}, nothing else allowed.
func (g *HTTPGateway) responseFormat() *responseFormat {
	props := make(map[string]propertySchema, len(g.categories))
	for _, c := range g.categories {
		props[c] = propertySchema{Type: "integer", Enum: []int{0, 1}}
	}
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: jsonSchema{
			Name:   "classification",
			Strict: true,
			Schema: objectSchema{
				Type:                 "object",
				Properties:           props,
				Required:             g.categories,
				AdditionalProperties: false,
			},
		},
	}
}

func validateCategories(categories []string, values map[string]int) error {
	if len(values) != len(categories) {
		return fmt.Errorf("expected %d categories, got %d", len(categories), len(values))
	}
	for _, c := range categories {
		v, ok := values[c]
		if !ok {
			return fmt.Errorf("missing category %q", c)
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("category %q has value %d, want 0 or 1", c, v)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
