package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/voxlink/pkg/chunker"
	"github.com/harunnryd/voxlink/pkg/configutil"
	"github.com/harunnryd/voxlink/pkg/synth"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOXLINK"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	SentryDSN     string              `mapstructure:"sentry_dsn"`
	Synth         SynthConfig         `mapstructure:"synth"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type SynthConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	VoiceID      string  `mapstructure:"voice_id"`
	ModelID      string  `mapstructure:"model_id"`
	BaseURL      string  `mapstructure:"base_url"`
	OutputFormat string  `mapstructure:"output_format"`
	Latency      int     `mapstructure:"latency"`
	Stability    float64 `mapstructure:"stability"`
	Similarity   float64 `mapstructure:"similarity"`
}

type ChunkerConfig struct {
	Threshold int `mapstructure:"threshold"`
}

type PlaybackConfig struct {
	// Format is the decoder name; empty follows synth.output_format.
	Format    string `mapstructure:"format"`
	Device    string `mapstructure:"device"`
	Command   string `mapstructure:"command"`
	WAVPath   string `mapstructure:"wav_path"`
	MaxQueued int    `mapstructure:"max_queued"`
}

type TurnConfig struct {
	TimeoutMS         int `mapstructure:"timeout_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
	STT VendorConfig `mapstructure:"stt"`
}

type CaptureConfig struct {
	// Mode is "file" (play wav_path once) or "prompt" (ask for a path per turn).
	Mode    string `mapstructure:"mode"`
	WAVPath string `mapstructure:"wav_path"`
}

type AssistantConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
	// SampleRate thins the metrics file. Failures are always written.
	SampleRate float64 `mapstructure:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("synth.api_key", "")
	v.SetDefault("synth.voice_id", "")
	v.SetDefault("synth.model_id", "eleven_turbo_v2")
	v.SetDefault("synth.base_url", synth.DefaultBaseURL)
	v.SetDefault("synth.output_format", "pcm_16000")
	v.SetDefault("synth.latency", synth.DefaultLatency)
	v.SetDefault("synth.stability", synth.DefaultStability)
	v.SetDefault("synth.similarity", synth.DefaultSimilarityBoost)
	v.SetDefault("chunker.threshold", chunker.DefaultSeparatorThreshold)
	v.SetDefault("playback.format", "")
	v.SetDefault("playback.device", "exec")
	v.SetDefault("playback.command", "aplay -q -t raw -f S16_LE -r {rate} -c {channels}")
	v.SetDefault("playback.wav_path", "")
	v.SetDefault("playback.max_queued", 0)
	v.SetDefault("turn.timeout_ms", 120000)
	v.SetDefault("turn.breaker_threshold", 3)
	v.SetDefault("turn.breaker_cooldown_ms", 30000)
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("vendors.stt.provider", "deepgram")
	v.SetDefault("capture.mode", "prompt")
	v.SetDefault("capture.wav_path", "")
	v.SetDefault("assistant.system_prompt", "You are a helpful voice assistant. Keep answers short and conversational.")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
}

// Load reads path (optional) over the defaults and applies VOXLINK_*
// environment overrides, e.g. VOXLINK_SYNTH_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := configutil.RequireString(c.Synth.APIKey, "synth.api_key"); err != nil {
		errs = append(errs, err)
	}
	if err := configutil.RequireString(c.Synth.VoiceID, "synth.voice_id"); err != nil {
		errs = append(errs, err)
	}
	if err := configutil.RequireString(c.Synth.ModelID, "synth.model_id"); err != nil {
		errs = append(errs, err)
	}
	if c.Synth.Stability > 1 || c.Synth.Similarity > 1 {
		errs = append(errs, errors.New("synth.stability and synth.similarity must be within [0,1]"))
	}
	if c.Chunker.Threshold <= 0 {
		errs = append(errs, errors.New("chunker.threshold must be positive"))
	}
	if err := configutil.RequireOneOf(c.Playback.Device, "playback.device", "exec", "wav", "discard"); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Playback.Device) {
	case "exec":
		if err := configutil.RequireString(c.Playback.Command, "playback.command"); err != nil {
			errs = append(errs, err)
		}
	case "wav":
		if err := configutil.RequireString(c.Playback.WAVPath, "playback.wav_path"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Turn.TimeoutMS <= 0 {
		errs = append(errs, errors.New("turn.timeout_ms must be positive"))
	}
	if err := configutil.RequireString(c.Vendors.LLM.Provider, "vendors.llm.provider"); err != nil {
		errs = append(errs, err)
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		errs = append(errs, err)
	}
	if err := configutil.RequireOneOf(c.Capture.Mode, "capture.mode", "prompt", "file"); err != nil {
		errs = append(errs, err)
	}
	if strings.EqualFold(c.Capture.Mode, "file") {
		if err := configutil.RequireString(c.Capture.WAVPath, "capture.wav_path"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, errors.New("observability.sample_rate must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// SynthSession maps the synth section onto session parameters.
func (c Config) SynthSession() synth.Config {
	return synth.Config{
		APIKey:       c.Synth.APIKey,
		VoiceID:      c.Synth.VoiceID,
		ModelID:      c.Synth.ModelID,
		BaseURL:      c.Synth.BaseURL,
		OutputFormat: c.Synth.OutputFormat,
		Latency:      c.Synth.Latency,
		Voice: synth.VoiceSettings{
			Stability:       c.Synth.Stability,
			SimilarityBoost: c.Synth.Similarity,
		},
	}
}

// PlaybackFormat is the decoder name to use for inbound audio.
func (c Config) PlaybackFormat() string {
	if f := strings.TrimSpace(c.Playback.Format); f != "" {
		return f
	}
	return c.Synth.OutputFormat
}

func (c Config) TurnTimeout() time.Duration {
	return configutil.Millis(c.Turn.TimeoutMS, 2*time.Minute)
}

func (c Config) BreakerCooldown() time.Duration {
	return configutil.Millis(c.Turn.BreakerCooldownMS, 30*time.Second)
}

// DecodeVendor validates settings against schema and decodes them into out.
func DecodeVendor(vc VendorConfig, schema configutil.Schema, out any) error {
	if err := configutil.Decode(vc.Settings, schema, out); err != nil {
		return fmt.Errorf("vendor %s settings: %w", vc.Provider, err)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
