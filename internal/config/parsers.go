// Package config loads worker settings from defaults, a config file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// settings is a decoded config file section. Viper lowercases keys, and
// users spell them master_host, master-host or masterhost.
type settings map[string]any

func (s settings) lookup(key string) (any, bool) {
	for _, k := range []string{
		key,
		strings.ReplaceAll(key, "_", ""),
		strings.ReplaceAll(key, "_", "-"),
	} {
		if v, ok := s[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// section converts a nested map into settings with lowercased keys.
func section(v any) (settings, error) {
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, err
	}
	out := make(settings, len(m))
	for k, val := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = val
	}
	return out, nil
}

// setting copies key into dst when present, converting with conv.
func setting[T any](s settings, key string, conv func(any) (T, error), dst *T) error {
	raw, ok := s.lookup(key)
	if !ok {
		return nil
	}
	v, err := conv(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func trimmed(v any) (string, error) {
	s, err := cast.ToStringE(v)
	return strings.TrimSpace(s), err
}

func named[T ~string](v any) (T, error) {
	s, err := trimmed(v)
	return T(strings.ToLower(s)), err
}

// toDuration accepts Go duration strings. Bare numbers are seconds.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		d = strings.TrimSpace(d)
		if d == "" {
			return 0, nil
		}
		return time.ParseDuration(d)
	}
	secs, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration %v (%T)", v, v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func toHeaders(v any) (map[string]string, error) {
	m, err := cast.ToStringMapStringE(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("empty header name")
		}
		out[http.CanonicalHeaderKey(k)] = strings.TrimSpace(val)
	}
	return out, nil
}

func toBoolPtr(v any) (*bool, error) {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
