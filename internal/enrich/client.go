package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	logx "newsward/pkg/logx"
)

// ClientConfig configures the OpenAI-compatible chat-completions
// client.
type ClientConfig struct {
	BaseURL string // e.g. https://api.deepseek.com
	APIKey  string
	Model   string
	Timeout time.Duration // per attempt, default 15s
	Retries int           // retry attempts after the first try, default 2
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  logx.Logger
}

var _ Caller = (*Client)(nil)

func NewClient(cfg ClientConfig, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call posts one chat completion. Transient failures are retried with
// exponential backoff; after the attempts are exhausted the error is
// returned and the gateway converts it into "no result".
func (c *Client) Call(ctx context.Context, task Task, system, prompt string, maxTokens int) (string, int, int, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal chat payload: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt-1))*time.Second +
				time.Duration(rand.Int63n(int64(500*time.Millisecond)))
			select {
			case <-ctx.Done():
				return "", 0, 0, ctx.Err()
			case <-time.After(wait):
			}
		}

		text, in, out, err := c.doOnce(ctx, url, body)
		if err == nil {
			return text, in, out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.log.Debug("llm call attempt failed",
			logx.String("task", string(task)),
			logx.Int("attempt", attempt+1),
			logx.Err(err))
	}
	return "", 0, 0, lastErr
}

func (c *Client) doOnce(ctx context.Context, url string, body []byte) (string, int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, 0, fmt.Errorf("llm status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", 0, 0, fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("llm response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content),
		parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}
