package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/llm"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config is decoded from vendors.llm.settings.
type Config struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TimeoutMS   int     `mapstructure:"timeout_ms"`
}

// Adapter talks to the chat completions endpoint.
type Adapter struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Client      *http.Client
	log         *slog.Logger
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
		log:     logging.NewComponentLogger(nil, "openai"),
	}
}

// NewAdapterFromConfig builds an adapter from decoded settings.
func NewAdapterFromConfig(cfg Config, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api_key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	a := NewAdapter(cfg.APIKey, cfg.Model)
	if cfg.BaseURL != "" {
		a.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.TimeoutMS > 0 {
		a.Client.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	a.Temperature = cfg.Temperature
	a.MaxTokens = cfg.MaxTokens
	a.log = logging.NewComponentLogger(log, "openai")
	return a, nil
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	resp, err := a.post(ctx, input, false)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	var payload completion
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	if len(payload.Choices) == 0 {
		return llm.Response{}, errorsx.Errorf(errorsx.ReasonLLMGenerate, "openai: no choices")
	}
	first := payload.Choices[0]
	return llm.Response{
		Text:         first.Message.Content,
		FinishReason: first.FinishReason,
		Usage:        payload.Usage.toUsage(),
	}, nil
}

// Stream returns content deltas as the server sends them. The channel is
// closed on [DONE] or context cancellation. A body that ends before [DONE]
// yields a final error Delta.
func (a *Adapter) Stream(ctx context.Context, input llm.Context) (<-chan llm.Delta, error) {
	resp, err := a.post(ctx, input, true)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Delta, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		emit := func(d llm.Delta) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- d:
				return true
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk completion
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				a.log.Warn("skipping malformed stream chunk", slog.String("error", err.Error()))
				continue
			}
			if chunk.Usage != nil {
				a.log.Debug("llm usage",
					slog.Int("prompt_tokens", chunk.Usage.PromptTokens),
					slog.Int("completion_tokens", chunk.Usage.CompletionTokens))
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !emit(llm.Delta{Text: text}) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
		cause := scanner.Err()
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		a.log.Error("llm stream ended before [DONE]", slog.String("error", cause.Error()))
		emit(llm.Delta{Err: errorsx.Errorf(errorsx.ReasonLLMStream, "openai: stream ended before [DONE]: %w", cause)})
	}()
	return out, nil
}

func (a *Adapter) post(ctx context.Context, input llm.Context, stream bool) (*http.Response, error) {
	body, err := a.buildRequest(input, stream)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMGenerate)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		rl := resilience.RateLimitError{
			Provider:   "openai",
			Message:    strings.TrimSpace(string(msg)),
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		return nil, errorsx.Wrap(rl, errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Errorf(errorsx.ReasonLLMGenerate, "openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (a *Adapter) buildRequest(input llm.Context, stream bool) (*bytes.Buffer, error) {
	req := map[string]any{
		"model":    a.Model,
		"stream":   stream,
		"messages": input.Messages,
	}
	if a.Temperature > 0 {
		req["temperature"] = a.Temperature
	}
	if a.MaxTokens > 0 {
		req["max_tokens"] = a.MaxTokens
	}
	if stream {
		req["stream_options"] = map[string]any{"include_usage": true}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

type completion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usage) toUsage() llm.Usage {
	if u == nil {
		return llm.Usage{}
	}
	return llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

var _ llm.Adapter = (*Adapter)(nil)
