package synth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	cases := []struct {
		name  string
		in    string
		kind  FrameKind
		final bool
	}{
		{"audio", `{"audio":"` + audio + `","isFinal":false}`, FrameAudio, false},
		{"service error", `{"message":"bad voice","error":"invalid"}`, FrameError, false},
		{"error only", `{"error":"quota"}`, FrameError, false},
		{"final", `{"isFinal":true}`, FrameUnknown, true},
		{"null audio", `{"audio":null,"alignment":{}}`, FrameUnknown, false},
		{"not json", `hello`, FrameUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := DecodeFrame([]byte(tc.in))
			if f.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", f.Kind, tc.kind)
			}
			if f.IsFinal != tc.final {
				t.Fatalf("isFinal = %v, want %v", f.IsFinal, tc.final)
			}
		})
	}
}

func TestInboundFrameAudioBytes(t *testing.T) {
	f := DecodeFrame([]byte(`{"audio":"` + base64.StdEncoding.EncodeToString([]byte("RIFF")) + `"}`))
	raw, err := f.AudioBytes()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw) != "RIFF" {
		t.Fatalf("unexpected bytes %q", raw)
	}

	bad := InboundFrame{Kind: FrameAudio, Audio: "***"}
	if _, err := bad.AudioBytes(); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestInitMessageWireFormat(t *testing.T) {
	b, err := json.Marshal(InitMessage{
		Text:          initText,
		VoiceSettings: VoiceSettings{Stability: 0.9, SimilarityBoost: 0.8},
		APIKey:        "k",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"text":" ","voice_settings":{"stability":0.9,"similarity_boost":0.8},"xi_api_key":"k"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestBuildURL(t *testing.T) {
	u, err := BuildURL(Config{VoiceID: "v1", ModelID: "eleven_turbo_v2"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "wss://api.elevenlabs.io/v1/text-to-speech/v1/stream-input?model_id=eleven_turbo_v2&optimize_streaming_latency=1"
	if u != want {
		t.Fatalf("got %s, want %s", u, want)
	}

	u, err = BuildURL(Config{VoiceID: "v1", ModelID: "m", BaseURL: "ws://127.0.0.1:9/", OutputFormat: "pcm_16000", Latency: 3})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want = "ws://127.0.0.1:9/v1/text-to-speech/v1/stream-input?model_id=m&optimize_streaming_latency=3&output_format=pcm_16000"
	if u != want {
		t.Fatalf("got %s, want %s", u, want)
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{APIKey: "k", VoiceID: "v", ModelID: "m", Voice: VoiceSettings{Stability: -1, SimilarityBoost: 0}}.WithDefaults()
	if cfg.Voice.Stability != DefaultStability {
		t.Fatalf("stability = %f, want default", cfg.Voice.Stability)
	}
	if cfg.Voice.SimilarityBoost != 0 {
		t.Fatalf("zero similarity must be preserved, got %f", cfg.Voice.SimilarityBoost)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.Voice.Stability = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected range error")
	}
	if err := (Config{VoiceID: "v", ModelID: "m"}).Validate(); err == nil {
		t.Fatalf("expected missing key error")
	}
}
