package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// Message is one prior conversation turn handed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Params tunes a single completion call. Zero values fall back to the
// client's defaults.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client calls a Cerebras-style chat completions API. It also serves
// prompt-transition classification in live mode.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

// NewClient constructs a Client with a bounded HTTP timeout.
func NewClient(apiKey, model string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   defaultEndpoint,
	}
}

// Complete generates one assistant reply for the user message given the
// system prompt and prior history.
func (c *Client) Complete(ctx context.Context, system string, history []Message, user string, p Params) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}

	messages := make([]chatMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	model := p.Model
	if model == "" {
		model = c.Model
	}
	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model:       model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// Classify asks the model whether a natural-language condition holds for the
// user's utterance. Provider failure degrades to false so a flaky LLM never
// misroutes a flow; the caller falls through to the next transition.
func (c *Client) Classify(ctx context.Context, condition, utterance string) bool {
	system := "You are a strict intent classifier for a phone agent. " +
		"Answer with exactly one word: yes or no."
	prompt := fmt.Sprintf("Condition: %s\nUser said: %q\nDoes the condition hold?", condition, utterance)
	answer, err := c.Complete(ctx, system, nil, prompt, Params{MaxTokens: 4})
	if err != nil {
		log.Printf("llm: classify failed, treating condition as false: %v", err)
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(answer, "yes")
}

func (c *Client) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return defaultEndpoint
}
