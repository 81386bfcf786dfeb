package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const defaultBaseURL = "https://api.cerebras.ai"

// maxHistoryTurns bounds how many prior exchanges are replayed to the model.
const maxHistoryTurns = 12

const systemPrompt = "You are a helpful, concise voice assistant. " +
	"Your answers are read aloud, so keep them short and conversational."

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type completionsResponse struct {
	Choices []struct {
		FinishReason string  `json:"finish_reason"`
		Message      message `json:"message"`
	} `json:"choices"`
}

// Client talks to an OpenAI-style chat completions endpoint and keeps the
// rolling conversation history, so each voice turn carries its context.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	// BaseURL is the service root; the /v1/chat/completions path is
	// appended per request.
	BaseURL string

	mu      sync.Mutex
	history []message

	// onReply receives each assistant reply after it is appended to the
	// history. It is called without the mutex held.
	onReply func(text string)
}

func NewClient(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// OnReply registers the assistant-reply hook. Must be called before Send.
func (c *Client) OnReply(fn func(text string)) { c.onReply = fn }

// History returns a copy of the conversation so far.
func (c *Client) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, 0, len(c.history)/2)
	for i := 0; i+1 < len(c.history); i += 2 {
		out = append(out, Exchange{User: c.history[i].Content, Assistant: c.history[i+1].Content})
	}
	return out
}

// Exchange is one completed user/assistant turn.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Send delivers one user transcript, appends the reply to the history, and
// notifies the OnReply hook. A failed request leaves the history untouched.
func (c *Client) Send(ctx context.Context, transcript string) error {
	if c.APIKey == "" {
		return fmt.Errorf("chat: api key missing")
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return fmt.Errorf("chat: empty transcript")
	}

	c.mu.Lock()
	messages := make([]message, 0, len(c.history)+2)
	messages = append(messages, message{Role: "system", Content: systemPrompt})
	messages = append(messages, c.history...)
	messages = append(messages, message{Role: "user", Content: transcript})
	c.mu.Unlock()

	reply, err := c.complete(ctx, messages)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.history = append(c.history,
		message{Role: "user", Content: transcript},
		message{Role: "assistant", Content: reply})
	if len(c.history) > maxHistoryTurns*2 {
		c.history = c.history[len(c.history)-maxHistoryTurns*2:]
	}
	hook := c.onReply
	c.mu.Unlock()

	log.Debug("chat reply", "chars", len(reply))
	if hook != nil {
		hook(reply)
	}
	return nil
}

func (c *Client) complete(ctx context.Context, messages []message) (string, error) {
	body, err := json.Marshal(completionsRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
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
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr completionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	reply := strings.TrimSpace(cr.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("chat: empty reply")
	}
	return reply, nil
}
