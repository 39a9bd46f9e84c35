package livecore

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/resilience"
	"github.com/harunnryd/livecore/pkg/speech"
	"github.com/harunnryd/livecore/pkg/syncqueue"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Stream        StreamConfig        `mapstructure:"stream"`
	API           APIConfig           `mapstructure:"api"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type SpeechConfig struct {
	Provider           string         `mapstructure:"provider"`
	Settings           map[string]any `mapstructure:"settings"`
	Language           string         `mapstructure:"language"`
	InterimResults     *bool          `mapstructure:"interim_results"`
	Continuous         *bool          `mapstructure:"continuous"`
	HandshakeTimeoutMS int            `mapstructure:"handshake_timeout_ms"`
}

type SyncConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	MaxBatchSize        int    `mapstructure:"max_batch_size"`
	SyncIntervalSeconds int    `mapstructure:"sync_interval_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RetryDelaysMS       []int  `mapstructure:"retry_delays_ms"`
}

type StreamConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	ReconnectDelayMS int    `mapstructure:"reconnect_delay_ms"`
	MaxReconnects    int    `mapstructure:"max_reconnects"`
}

type APIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	MetricsPath          string  `mapstructure:"metrics_path"`
	AudioLevelSampleRate float64 `mapstructure:"audio_level_sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("speech.provider", string(speech.KindLocal))
	v.SetDefault("speech.language", speech.DefaultLanguage)
	v.SetDefault("speech.interim_results", true)
	v.SetDefault("speech.continuous", true)
	v.SetDefault("speech.handshake_timeout_ms", 15000)
	v.SetDefault("sync.base_url", syncqueue.DefaultBaseURL)
	v.SetDefault("sync.max_batch_size", syncqueue.DefaultMaxBatchSize)
	v.SetDefault("sync.sync_interval_seconds", int(syncqueue.DefaultSyncInterval/time.Second))
	v.SetDefault("sync.max_retries", syncqueue.DefaultMaxRetries)
	v.SetDefault("sync.retry_delays_ms", []int{1000, 2000, 4000, 8000})
	v.SetDefault("stream.base_url", "")
	v.SetDefault("stream.reconnect_delay_ms", 3000)
	v.SetDefault("stream.max_reconnects", 0)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout_ms", 10000)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.audio_level_sample_rate", 0.1)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// LoadConfig reads path, applies defaults, expands ${ENV} references and
// validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "unmarshal: %w", err)
	}

	expandEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Errorf(errorsx.ReasonConfig, "validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if strings.TrimSpace(c.Speech.Provider) == "" {
		return fmt.Errorf("speech.provider is required")
	}
	if c.Speech.HandshakeTimeoutMS < 0 {
		return fmt.Errorf("speech.handshake_timeout_ms must not be negative")
	}
	if c.Sync.MaxBatchSize <= 0 {
		return fmt.Errorf("sync.max_batch_size must be positive")
	}
	if c.Sync.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("sync.sync_interval_seconds must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	for _, ms := range c.Sync.RetryDelaysMS {
		if ms <= 0 {
			return fmt.Errorf("sync.retry_delays_ms entries must be positive")
		}
	}
	if c.Stream.ReconnectDelayMS <= 0 {
		return fmt.Errorf("stream.reconnect_delay_ms must be positive")
	}
	if c.Stream.MaxReconnects < 0 {
		return fmt.Errorf("stream.max_reconnects must not be negative")
	}
	if c.API.TimeoutMS <= 0 {
		return fmt.Errorf("api.timeout_ms must be positive")
	}
	if r := c.Observability.AudioLevelSampleRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.audio_level_sample_rate must be within [0,1]")
	}
	return nil
}

// ProviderConfig is the speech section as a provider configuration.
func (s SpeechConfig) ProviderConfig() speech.ProviderConfig {
	return speech.ProviderConfig{
		Kind:     speech.Kind(s.Provider).Normalize(),
		Settings: s.Settings,
		Recognition: speech.RecognitionConfig{
			Language:       s.Language,
			Continuous:     s.Continuous,
			InterimResults: s.InterimResults,
		},
	}
}

func (s SpeechConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

// QueueConfig builds the sync queue configuration for one session.
func (s SyncConfig) QueueConfig(sessionID string) syncqueue.Config {
	return syncqueue.Config{
		SessionID:    sessionID,
		BaseURL:      s.BaseURL,
		MaxBatchSize: s.MaxBatchSize,
		SyncInterval: time.Duration(s.SyncIntervalSeconds) * time.Second,
		MaxRetries:   s.MaxRetries,
		RetryDelays:  resilience.LadderFromMillis(s.RetryDelaysMS, resilience.DefaultSyncLadder),
	}
}

func (s StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelayMS) * time.Millisecond
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

func expandEnv(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Speech.Settings = expandSettings(cfg.Speech.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
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
		return expandSettings(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(v)
			}
		}
		return out
	default:
		return v
	}
}

// expandValue walks exported string fields. Maps are left to expandSettings.
func expandValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
