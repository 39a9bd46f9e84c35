package configutil

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/redact"
	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a provider settings map into a typed struct.
// Keys match loosely (appKey, app-key and app_key are the same field) and
// string values are trimmed, since most of them come from ${ENV} expansion
// or a settings file edited by hand. A bare number decoded into a
// time.Duration is read as milliseconds, the unit every *_ms key uses.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimStrings,
			millisToDuration,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := decoder.Decode(input); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	return nil
}

func trimStrings(from, _ reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	return strings.TrimSpace(reflect.ValueOf(data).String()), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func millisToDuration(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond, nil
		}
	}
	return data, nil
}

// RequireString fails with a config error when value is blank.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return errorsx.Errorf(errorsx.ReasonConfig, "%s is required", path)
	}
	return nil
}

// StringValue returns fallback when value is blank.
func StringValue(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// BoolValue returns fallback when value is nil.
func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// MaskSecrets copies settings for logging with every password field
// replaced by its masked form.
func MaskSecrets(settings map[string]any, fields []FieldDefinition) map[string]any {
	secret := make(map[string]bool)
	for _, f := range fields {
		if f.Type == FieldPassword {
			secret[normalizeKey(f.Key)] = true
		}
	}
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if secret[normalizeKey(k)] {
			s, _ := v.(string)
			out[k] = redact.Secret(s)
			continue
		}
		out[k] = v
	}
	return out
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
