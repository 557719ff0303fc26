package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// env reads STREAMSCAN_* overrides. Malformed values are logged and ignored
// so a typo never silently replaces a sane default with zero.
type env struct {
	logger zerolog.Logger
	lookup func(string) (string, bool)
}

func (e env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e env) String(key, current string) string {
	v, ok := e.get(key)
	if !ok {
		return current
	}
	e.logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
	return v
}

func (e env) Int(key string, current int) int {
	v, ok := e.get(key)
	if !ok {
		return current
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.logger.Warn().Str("key", key).Str("value", v).Int("fallback", current).Msg("invalid integer in environment variable")
		return current
	}
	e.logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

func (e env) Float(key string, current float64) float64 {
	v, ok := e.get(key)
	if !ok {
		return current
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.logger.Warn().Str("key", key).Str("value", v).Float64("fallback", current).Msg("invalid number in environment variable")
		return current
	}
	e.logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

func (e env) Bool(key string, current bool) bool {
	v, ok := e.get(key)
	if !ok {
		return current
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warn().Str("key", key).Str("value", v).Bool("fallback", current).Msg("invalid boolean in environment variable")
		return current
	}
	e.logger.Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("using environment variable")
	return b
}

func (e env) Duration(key string, current time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return current
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.logger.Warn().Str("key", key).Str("value", v).Dur("fallback", current).Msg("invalid duration in environment variable")
		return current
	}
	e.logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

func (e env) Ports(key string, current []int) ([]int, error) {
	v, ok := e.get(key)
	if !ok {
		return current, nil
	}
	ports, err := ParsePortSpec(v)
	if err != nil {
		return current, err
	}
	e.logger.Debug().Str("key", key).Ints("value", ports).Str("source", "environment").Msg("using environment variable")
	return ports, nil
}

func defaultLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
