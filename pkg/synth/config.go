package synth

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "wss://api.elevenlabs.io"
	// DefaultLatency is the optimize_streaming_latency mode requested when
	// none is configured.
	DefaultLatency          = 1
	DefaultStability        = 0.9
	DefaultSimilarityBoost  = 0.8
	DefaultHandshakeTimeout = 10 * time.Second
)

// Config holds the endpoint parameters and credentials of one session.
type Config struct {
	APIKey           string
	VoiceID          string
	ModelID          string
	BaseURL          string
	OutputFormat     string
	Latency          int
	Voice            VoiceSettings
	HandshakeTimeout time.Duration
}

// WithDefaults fills unset fields. Negative voice settings select the
// default since zero is a valid setting.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Latency <= 0 {
		c.Latency = DefaultLatency
	}
	if c.Voice.Stability < 0 {
		c.Voice.Stability = DefaultStability
	}
	if c.Voice.SimilarityBoost < 0 {
		c.Voice.SimilarityBoost = DefaultSimilarityBoost
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

// Validate checks the fields needed to open a session.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("synth api key is required")
	}
	if strings.TrimSpace(c.VoiceID) == "" {
		return errors.New("synth voice id is required")
	}
	if strings.TrimSpace(c.ModelID) == "" {
		return errors.New("synth model id is required")
	}
	if c.Voice.Stability > 1 || c.Voice.SimilarityBoost > 1 {
		return errors.New("voice settings must be within [0,1]")
	}
	return nil
}

// BuildURL renders the stream-input endpoint for cfg.
func BuildURL(cfg Config) (string, error) {
	cfg = cfg.WithDefaults()
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path += "/v1/text-to-speech/" + cfg.VoiceID + "/stream-input"
	q := url.Values{}
	q.Set("model_id", cfg.ModelID)
	if cfg.OutputFormat != "" {
		q.Set("output_format", cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", strconv.Itoa(cfg.Latency))
	base.RawQuery = q.Encode()
	return base.String(), nil
}
