package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voxlink/pkg/assistant"
	"github.com/harunnryd/voxlink/pkg/capture"
	"github.com/harunnryd/voxlink/pkg/chunker"
	"github.com/harunnryd/voxlink/pkg/config"
	"github.com/harunnryd/voxlink/pkg/configutil"
	"github.com/harunnryd/voxlink/pkg/llm"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/playback"
	"github.com/harunnryd/voxlink/pkg/providers/deepgram"
	"github.com/harunnryd/voxlink/pkg/providers/mock"
	"github.com/harunnryd/voxlink/pkg/providers/openai"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/stt"
	"github.com/harunnryd/voxlink/pkg/turn"
)

type openAISettings struct {
	openai.Config     `mapstructure:",squash"`
	UseCircuitBreaker *bool `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int   `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int   `mapstructure:"circuit_cooldown_ms"`
}

type mockLLMSettings struct {
	ResponseText string   `mapstructure:"response_text"`
	StreamChunks []string `mapstructure:"stream_chunks"`
}

type mockSTTSettings struct {
	Transcripts []string `mapstructure:"transcripts"`
}

type app struct {
	loop *assistant.Loop
}

// build constructs every long-lived handle once.
func build(cfg config.Config, obs metrics.Observer, logger *slog.Logger) (*app, error) {
	adapter, err := buildLLM(cfg.Vendors.LLM, obs, logger)
	if err != nil {
		return nil, err
	}
	transcriber, err := buildSTT(cfg.Vendors.STT, logger)
	if err != nil {
		return nil, err
	}
	source, err := buildSource(cfg.Capture, logger)
	if err != nil {
		return nil, err
	}
	decoder, err := playback.NewDecoder(cfg.PlaybackFormat())
	if err != nil {
		return nil, err
	}
	devices, err := deviceFactory(cfg.Playback, logger)
	if err != nil {
		return nil, err
	}

	gen := llm.NewGenerator(adapter, cfg.Assistant.SystemPrompt, logger)
	turns := turn.NewOrchestrator(turn.Config{
		Synth:     cfg.SynthSession(),
		Chunker:   chunker.Config{Threshold: cfg.Chunker.Threshold},
		Decoder:   decoder,
		MaxQueued: cfg.Playback.MaxQueued,
		Timeout:   cfg.TurnTimeout(),
		Breaker:   resilience.NewCircuitBreaker(cfg.Turn.BreakerThreshold, cfg.BreakerCooldown()),
	}, gen, devices, logger, turn.WithObserver(obs))

	loop := assistant.NewLoop(source, transcriber, turns, logger)
	loop.SetObserver(obs)
	return &app{loop: loop}, nil
}

func buildLLM(vc config.VendorConfig, obs metrics.Observer, logger *slog.Logger) (llm.Adapter, error) {
	switch strings.ToLower(vc.Provider) {
	case "openai":
		var s openAISettings
		schema := configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url", "temperature", "max_tokens", "timeout_ms",
				"use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
		}
		if err := config.DecodeVendor(vc, schema, &s); err != nil {
			return nil, err
		}
		adapter, err := openai.NewAdapterFromConfig(s.Config, logger)
		if err != nil {
			return nil, err
		}
		if !configutil.BoolValue(s.UseCircuitBreaker, true) {
			return adapter, nil
		}
		breaker := resilience.NewCircuitBreaker(s.CircuitThreshold, configutil.Millis(s.CircuitCooldownMs, 30*time.Second))
		cb := llm.NewCircuitBreakerAdapter(adapter, breaker)
		cb.SetObserver(obs)
		return cb, nil
	case "mock":
		var s mockLLMSettings
		schema := configutil.Schema{Optional: []string{"response_text", "stream_chunks"}}
		if err := config.DecodeVendor(vc, schema, &s); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{ResponseText: s.ResponseText, StreamChunks: s.StreamChunks}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", vc.Provider)
	}
}

func buildSTT(vc config.VendorConfig, logger *slog.Logger) (stt.Transcriber, error) {
	switch strings.ToLower(vc.Provider) {
	case "deepgram":
		var s deepgram.Config
		schema := configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "utterance_end_ms", "settle_ms", "connect_retries"},
		}
		if err := config.DecodeVendor(vc, schema, &s); err != nil {
			return nil, err
		}
		return deepgram.New(s, logger)
	case "mock":
		var s mockSTTSettings
		schema := configutil.Schema{Optional: []string{"transcripts"}}
		if err := config.DecodeVendor(vc, schema, &s); err != nil {
			return nil, err
		}
		return mock.NewSTT(mock.STTConfig{Transcripts: s.Transcripts}), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", vc.Provider)
	}
}

func buildSource(cc config.CaptureConfig, logger *slog.Logger) (capture.Source, error) {
	switch strings.ToLower(cc.Mode) {
	case "file":
		return capture.NewFileSource(cc.WAVPath), nil
	case "prompt":
		return capture.NewPromptSource(os.Stdin, os.Stdout, cc.WAVPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cc.Mode)
	}
}

// deviceFactory returns a constructor for each turn's playback device. A
// "{n}" in playback.wav_path is replaced by the turn number.
func deviceFactory(pc config.PlaybackConfig, logger *slog.Logger) (turn.DeviceFactory, error) {
	switch strings.ToLower(pc.Device) {
	case "exec":
		if _, err := playback.NewExecDevice(pc.Command, logger); err != nil {
			return nil, err
		}
		return func() (playback.Device, error) {
			return playback.NewExecDevice(pc.Command, logger)
		}, nil
	case "wav":
		var n atomic.Int64
		return func() (playback.Device, error) {
			path := strings.ReplaceAll(pc.WAVPath, "{n}", strconv.FormatInt(n.Add(1), 10))
			return playback.NewWAVFileDevice(path), nil
		}, nil
	case "discard":
		return func() (playback.Device, error) {
			return playback.DiscardDevice{RealTime: true}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown playback device %q", pc.Device)
	}
}
