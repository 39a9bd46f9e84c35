// Package speech defines the provider contract shared by every speech
// recognition backend, plus the registry that maps configuration kinds to
// concrete providers.
package speech

import (
	"fmt"
	"strings"

	"github.com/harunnryd/livecore/pkg/configutil"
	"github.com/harunnryd/livecore/pkg/errorsx"
)

// Kind discriminates provider configurations.
type Kind string

const (
	KindLocal     Kind = "local"
	KindNetworked Kind = "networked"
	KindDeepgram  Kind = "deepgram"
	KindMock      Kind = "mock"
)

// Normalize lowercases and trims the kind.
func (k Kind) Normalize() Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(k))))
}

// Settings keys understood by the networked provider.
const (
	SettingURL    = "url"
	SettingAppKey = "app_key"
	SettingToken  = "token"
)

// RecognitionConfig controls what the engine reports.
type RecognitionConfig struct {
	Language       string `mapstructure:"language" json:"language"`
	Continuous     *bool  `mapstructure:"continuous" json:"continuous,omitempty"`
	InterimResults *bool  `mapstructure:"interim_results" json:"interim_results,omitempty"`
}

// DefaultLanguage is used when a recognition config leaves Language empty.
const DefaultLanguage = "zh-CN"

// WithDefaults fills zero fields: zh-CN, continuous, interim results on.
func (r RecognitionConfig) WithDefaults() RecognitionConfig {
	r.Language = configutil.StringValue(r.Language, DefaultLanguage)
	t := true
	if r.Continuous == nil {
		r.Continuous = &t
	}
	if r.InterimResults == nil {
		r.InterimResults = &t
	}
	return r
}

func (r RecognitionConfig) IsContinuous() bool { return configutil.BoolValue(r.Continuous, true) }

func (r RecognitionConfig) WantsInterim() bool { return configutil.BoolValue(r.InterimResults, true) }

// ProviderConfig is a tagged description of a speech backend and its
// credentials. Settings is free-form; each provider decodes the keys it knows.
type ProviderConfig struct {
	Kind        Kind              `mapstructure:"provider" json:"kind"`
	Settings    map[string]any    `mapstructure:"settings" json:"settings,omitempty"`
	Recognition RecognitionConfig `mapstructure:",squash" json:"recognition"`
}

// LocalConfig returns the always-available on-device configuration.
func LocalConfig() ProviderConfig {
	return ProviderConfig{Kind: KindLocal}
}

// NetworkedConfig returns a configuration for the networked transcription service.
func NetworkedConfig(endpointURL, appKey, token string) ProviderConfig {
	settings := map[string]any{
		SettingAppKey: appKey,
		SettingToken:  token,
	}
	if endpointURL != "" {
		settings[SettingURL] = endpointURL
	}
	return ProviderConfig{Kind: KindNetworked, Settings: settings}
}

// Setting returns the string value of a settings key, matched loosely.
func (c ProviderConfig) Setting(key string) string {
	want := normalizeKey(key)
	for k, v := range c.Settings {
		if normalizeKey(k) != want || v == nil {
			continue
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

func normalizeKey(key string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
}

// ValidateFields checks settings against registered field definitions.
func (c ProviderConfig) ValidateFields(fields []configutil.FieldDefinition) error {
	if len(fields) == 0 {
		return nil
	}
	if err := configutil.ValidateSettings(c.Settings, configutil.SchemaFromFields(fields)); err != nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "%s provider settings: %w", c.Kind, err)
	}
	return nil
}
