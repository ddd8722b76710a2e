package synth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// VoiceSettings tunes the synthesized voice. Both values are in [0,1].
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// InitMessage opens a stream-input session. The service rejects an empty
// opener, so Text is always a single space.
type InitMessage struct {
	Text          string        `json:"text"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
	APIKey        string        `json:"xi_api_key"`
}

// ChunkMessage carries accumulated text. An empty Text ends the turn.
type ChunkMessage struct {
	Text string `json:"text"`
}

// initText is the placeholder opener sent with InitMessage.
const initText = " "

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameAudio
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameError:
		return "error"
	default:
		return "unknown"
	}
}

// InboundFrame is one decoded service message. Audio still carries its wire
// encoding; AudioBytes decodes it.
type InboundFrame struct {
	Kind    FrameKind
	Audio   string
	Message string
	IsFinal bool
}

// AudioBytes decodes the base64 audio payload.
func (f InboundFrame) AudioBytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio base64: %w", err)
	}
	return raw, nil
}

type inboundEnvelope struct {
	Audio   *string `json:"audio"`
	Message *string `json:"message"`
	Error   *string `json:"error"`
	IsFinal *bool   `json:"isFinal"`
}

// DecodeFrame parses one inbound JSON message. Messages that carry neither
// audio nor a diagnostic, or that are not JSON objects, decode as FrameUnknown.
func DecodeFrame(data []byte) InboundFrame {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundFrame{Kind: FrameUnknown}
	}
	final := env.IsFinal != nil && *env.IsFinal
	switch {
	case env.Audio != nil && *env.Audio != "":
		return InboundFrame{Kind: FrameAudio, Audio: *env.Audio, IsFinal: final}
	case env.Message != nil && *env.Message != "":
		return InboundFrame{Kind: FrameError, Message: *env.Message, IsFinal: final}
	case env.Error != nil && *env.Error != "":
		return InboundFrame{Kind: FrameError, Message: *env.Error, IsFinal: final}
	default:
		return InboundFrame{Kind: FrameUnknown, IsFinal: final}
	}
}
