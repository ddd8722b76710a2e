package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/voxlink/pkg/llm"
)

type LLMAdapter struct {
	cfg LLMConfig

	mu     sync.Mutex
	inputs []llm.Context
}

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	// Err is returned from Generate and Stream when set.
	Err error
	// StreamErr, when set, ends the stream after StreamChunks as a broken
	// response would.
	StreamErr error
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.record(input)
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

func (a *LLMAdapter) Stream(ctx context.Context, input llm.Context) (<-chan llm.Delta, error) {
	a.record(input)
	if a.cfg.Err != nil {
		return nil, a.cfg.Err
	}
	chunks := a.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{a.cfg.ResponseText}
	}
	out := make(chan llm.Delta, len(chunks)+1)
	for _, chunk := range chunks {
		out <- llm.Delta{Text: chunk}
	}
	if a.cfg.StreamErr != nil {
		out <- llm.Delta{Err: a.cfg.StreamErr}
	}
	close(out)
	return out, nil
}

// Inputs returns every context the adapter was called with.
func (a *LLMAdapter) Inputs() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Context(nil), a.inputs...)
}

func (a *LLMAdapter) record(input llm.Context) {
	a.mu.Lock()
	a.inputs = append(a.inputs, input)
	a.mu.Unlock()
}

var _ llm.Adapter = (*LLMAdapter)(nil)
