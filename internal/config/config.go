package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend" jsonschema:"description=Inference backend the chat turns are sent to"`
	Chat      ChatConfig      `yaml:"chat"`
	Deepgram  DeepgramConfig  `yaml:"deepgram"`
	Audio     AudioConfig     `yaml:"audio"`
	Voice     VoiceConfig     `yaml:"voice"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type BackendConfig struct {
	URL       string `yaml:"url" jsonschema:"description=Base URL of the backend,format=uri"`
	TimeoutMS int    `yaml:"timeout_ms" jsonschema:"description=Timeout of non-streaming requests,minimum=1"`
}

type ChatConfig struct {
	// Model is a backend model key, empty uses the backend default.
	Model         string   `yaml:"model"`
	Language      string   `yaml:"language" jsonschema:"description=Language hint sent when the session is created"`
	Temperature   *float64 `yaml:"temperature,omitempty" jsonschema:"minimum=0,maximum=2"`
	MaxTokens     int      `yaml:"max_tokens,omitempty" jsonschema:"minimum=0"`
	TopP          *float64 `yaml:"top_p,omitempty" jsonschema:"exclusiveMinimum=0,maximum=1"`
	SettleDelayMS int      `yaml:"settle_delay_ms" jsonschema:"description=How long speaking and error states are shown,minimum=1"`
}

type DeepgramConfig struct {
	APIKey            string `yaml:"api_key" jsonschema:"description=Falls back to DEEPGRAM_API_KEY"`
	STTModel          string `yaml:"stt_model"`
	NoSpeechTimeoutMS int    `yaml:"no_speech_timeout_ms" jsonschema:"minimum=1"`
}

type AudioConfig struct {
	Driver string `yaml:"driver" jsonschema:"enum=miniaudio,enum=portaudio,enum=none"`
	// BufferSize is the portaudio frames per buffer.
	BufferSize int `yaml:"buffer_size" jsonschema:"minimum=1"`
}

type VoiceConfig struct {
	InputEnabled    bool   `yaml:"input_enabled"`
	OutputEnabled   bool   `yaml:"output_enabled"`
	HoldThresholdMS int    `yaml:"hold_threshold_ms" jsonschema:"minimum=1"`
	Language        string `yaml:"language" jsonschema:"description=BCP 47 tag recognized speech is expected in"`
}

type TelemetryConfig struct {
	LogLevel string `yaml:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	File     string `yaml:"file" jsonschema:"description=File spans and metrics and logs are written to. Telemetry is off when empty"`
	// OTLPEndpoint sends spans to a collector instead of the file.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			URL:       "http://localhost:5000",
			TimeoutMS: 10000,
		},
		Chat: ChatConfig{
			SettleDelayMS: 2000,
		},
		Deepgram: DeepgramConfig{
			STTModel:          "nova-2",
			NoSpeechTimeoutMS: 8000,
		},
		Audio: AudioConfig{
			Driver:     "miniaudio",
			BufferSize: 1024,
		},
		Voice: VoiceConfig{
			InputEnabled:    true,
			OutputEnabled:   true,
			HoldThresholdMS: 300,
			Language:        "en-US",
		},
		Telemetry: TelemetryConfig{
			LogLevel: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path only applies the overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Schema describes the config file.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{FieldNameTag: "yaml", DoNotReference: true}
	return reflector.Reflect(&Config{})
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Backend.URL, "EMA_BACKEND_URL")
	overrideInt(&cfg.Backend.TimeoutMS, "EMA_BACKEND_TIMEOUT_MS")
	overrideString(&cfg.Chat.Model, "EMA_CHAT_MODEL")
	overrideString(&cfg.Chat.Language, "EMA_CHAT_LANGUAGE")
	overrideFloatPtr(&cfg.Chat.Temperature, "EMA_CHAT_TEMPERATURE")
	overrideInt(&cfg.Chat.MaxTokens, "EMA_CHAT_MAX_TOKENS")
	overrideFloatPtr(&cfg.Chat.TopP, "EMA_CHAT_TOP_P")
	overrideInt(&cfg.Chat.SettleDelayMS, "EMA_CHAT_SETTLE_DELAY_MS")
	overrideString(&cfg.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Deepgram.STTModel, "EMA_DEEPGRAM_STT_MODEL")
	overrideInt(&cfg.Deepgram.NoSpeechTimeoutMS, "EMA_DEEPGRAM_NO_SPEECH_TIMEOUT_MS")
	overrideString(&cfg.Audio.Driver, "EMA_AUDIO_DRIVER")
	overrideInt(&cfg.Audio.BufferSize, "EMA_AUDIO_BUFFER_SIZE")
	overrideBool(&cfg.Voice.InputEnabled, "EMA_VOICE_INPUT_ENABLED")
	overrideBool(&cfg.Voice.OutputEnabled, "EMA_VOICE_OUTPUT_ENABLED")
	overrideInt(&cfg.Voice.HoldThresholdMS, "EMA_VOICE_HOLD_THRESHOLD_MS")
	overrideString(&cfg.Voice.Language, "EMA_VOICE_LANGUAGE")
	overrideString(&cfg.Telemetry.LogLevel, "EMA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.File, "EMA_TELEMETRY_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EMA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EMA_TELEMETRY_OTLP_INSECURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloatPtr(target **float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = &parsed
		}
	}
}

// VoiceEnabled reports whether any audio device is needed.
func (c Config) VoiceEnabled() bool {
	return c.Voice.InputEnabled || c.Voice.OutputEnabled
}

func (c Config) Validate() error {
	backendURL, err := url.Parse(c.Backend.URL)
	if err != nil || (backendURL.Scheme != "http" && backendURL.Scheme != "https") || backendURL.Host == "" {
		return errors.New("backend.url must be an absolute http(s) url")
	}
	if c.Backend.TimeoutMS <= 0 {
		return errors.New("backend.timeout_ms must be positive")
	}
	if t := c.Chat.Temperature; t != nil && (*t < 0 || *t > 2) {
		return errors.New("chat.temperature must be between 0 and 2")
	}
	if p := c.Chat.TopP; p != nil && (*p <= 0 || *p > 1) {
		return errors.New("chat.top_p must be in (0, 1]")
	}
	if c.Chat.MaxTokens < 0 {
		return errors.New("chat.max_tokens must be >= 0")
	}
	if c.Chat.SettleDelayMS <= 0 {
		return errors.New("chat.settle_delay_ms must be positive")
	}

	switch c.Audio.Driver {
	case "miniaudio", "none":
	case "portaudio":
		if c.Audio.BufferSize <= 0 {
			return errors.New("audio.buffer_size must be positive when driver=portaudio")
		}
	default:
		return errors.New("audio.driver must be one of miniaudio|portaudio|none")
	}

	if c.VoiceEnabled() {
		if c.Audio.Driver == "none" {
			return errors.New("voice requires an audio driver, disable voice.input_enabled and voice.output_enabled or set audio.driver")
		}
		if c.Deepgram.APIKey == "" {
			return errors.New("deepgram.api_key must be set when voice is enabled")
		}
	}
	if c.Voice.InputEnabled {
		if c.Voice.HoldThresholdMS <= 0 {
			return errors.New("voice.hold_threshold_ms must be positive")
		}
		if c.Deepgram.NoSpeechTimeoutMS <= 0 {
			return errors.New("deepgram.no_speech_timeout_ms must be positive")
		}
		if _, err := language.Parse(c.Voice.Language); err != nil {
			return fmt.Errorf("voice.language is not a valid language tag: %w", err)
		}
	}

	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	return nil
}

func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c ChatConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

func (c DeepgramConfig) NoSpeechTimeout() time.Duration {
	return time.Duration(c.NoSpeechTimeoutMS) * time.Millisecond
}

func (c VoiceConfig) HoldThreshold() time.Duration {
	return time.Duration(c.HoldThresholdMS) * time.Millisecond
}
