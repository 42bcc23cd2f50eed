package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/your-org/iaction/internal/config"
)

// HTTPClassifier talks to an OpenAI-compatible chat completions endpoint
// with a vision-capable model.
type HTTPClassifier struct {
	client      *resty.Client
	model       string
	maxTokens   int
	temperature float64
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Detections []Match `json:"detections"`
}

func NewHTTPClassifier(cfg config.AIConfig) *HTTPClassifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPClassifier{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (c *HTTPClassifier) AnalyzeCombined(ctx context.Context, jpeg []byte, queries []Query) Result {
	if len(queries) == 0 {
		return Result{Success: true}
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: buildPrompt(queries)},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
				}},
			},
		}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/chat/completions")
	if err != nil {
		return Failed(fmt.Errorf("classifier request: %w", err))
	}
	if resp.IsError() {
		return Result{
			Error: fmt.Sprintf("classifier returned %s", resp.Status()),
			Kind:  kindForStatus(resp.StatusCode()),
		}
	}
	if len(out.Choices) == 0 {
		return Result{Error: "classifier returned no choices", Kind: KindOther}
	}

	matches, err := parseVerdict(out.Choices[0].Message.Content, queries)
	if err != nil {
		return Result{Error: err.Error(), Kind: KindOther}
	}
	return Result{Success: true, Detections: matches}
}

func buildPrompt(queries []Query) string {
	var b strings.Builder
	b.WriteString("You are looking at one frame from a home camera. ")
	b.WriteString("For each condition below, decide whether it is clearly true in the image.\n\nConditions:\n")
	for _, q := range queries {
		fmt.Fprintf(&b, "- id=%s: %s\n", q.ID, q.Phrase)
	}
	b.WriteString("\nAnswer with JSON only, no prose, in exactly this form:\n")
	b.WriteString(`{"detections":[{"id":"<id>","match":true}]}`)
	return b.String()
}

var errNoJSON = errors.New("classifier answer contains no json object")

// parseVerdict extracts the JSON object from the model answer and returns
// one Match per query, in query order. Missing answers count as no match.
func parseVerdict(content string, queries []Query) ([]Match, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, errNoJSON
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse classifier answer: %w", err)
	}

	answered := make(map[string]bool, len(v.Detections))
	for _, m := range v.Detections {
		answered[m.ID.String()] = m.Match
	}
	matches := make([]Match, 0, len(queries))
	for _, q := range queries {
		matches = append(matches, Match{ID: q.ID, Match: answered[q.ID.String()]})
	}
	return matches, nil
}

func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindConnection
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return KindTimeout
	default:
		return KindOther
	}
}
