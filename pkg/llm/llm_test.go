package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/llm"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/providers/mock"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

func TestGeneratorBuildsFreshContext(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{StreamChunks: []string{"a", "b"}})
	g := llm.NewGenerator(adapter, "  be brief  ", nil)

	for _, utterance := range []string{"first", "second"} {
		ch, err := g.Stream(context.Background(), utterance)
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		for range ch {
		}
	}

	inputs := adapter.Inputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(inputs))
	}
	second := inputs[1].Messages
	if len(second) != 2 {
		t.Fatalf("expected system+user only, got %v", second)
	}
	if second[0]["role"] != "system" || second[0]["content"] != "be brief" {
		t.Fatalf("unexpected system message %v", second[0])
	}
	if second[1]["content"] != "second" {
		t.Fatalf("unexpected user message %v", second[1])
	}
}

func TestGeneratorWrapsStreamError(t *testing.T) {
	adapter := mock.NewLLMAdapter(mock.LLMConfig{Err: errors.New("down")})
	_, err := llm.NewGenerator(adapter, "", nil).Stream(context.Background(), "hi")
	if !errorsx.HasReason(err, errorsx.ReasonLLMStream) {
		t.Fatalf("expected llm stream reason, got %v", err)
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	limited := mock.NewLLMAdapter(mock.LLMConfig{Err: resilience.RateLimitError{Provider: "mock", Message: "429"}})
	obs := metrics.NewMemoryObserver()
	cb := llm.NewCircuitBreakerAdapter(limited, resilience.NewCircuitBreaker(1, time.Minute))
	cb.SetObserver(obs)

	if _, err := cb.Stream(context.Background(), llm.Context{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if _, err := cb.Stream(context.Background(), llm.Context{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected breaker denial, got %v", err)
	}
	if len(limited.Inputs()) != 1 {
		t.Fatalf("open breaker should not call the provider, got %d calls", len(limited.Inputs()))
	}
	if len(obs.Named(metrics.EventBreakerDenied)) != 1 || len(obs.Named(metrics.EventBreakerOpen)) != 1 {
		t.Fatalf("unexpected breaker events %v", obs.Events())
	}
}

func TestGeneratorPassesBrokenStreamThrough(t *testing.T) {
	boom := errors.New("connection reset")
	adapter := mock.NewLLMAdapter(mock.LLMConfig{StreamChunks: []string{"partial "}, StreamErr: boom})
	ch, err := llm.NewGenerator(adapter, "", nil).Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got []llm.Delta
	for d := range ch {
		got = append(got, d)
	}
	if len(got) != 2 || got[0].Text != "partial " || !errors.Is(got[1].Err, boom) {
		t.Fatalf("unexpected deltas %+v", got)
	}
}
