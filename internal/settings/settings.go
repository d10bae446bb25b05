// Package settings reads application settings addressed by category and key.
//
// Settings are stored as strings. A Source returns ok=false for a setting
// that does not exist and reserves errors for failures to reach the backing
// store. Callers convert raw values with ParseValue or the typed helpers.
//
// Backends:
//   - Static: in-memory, for tests and local development
//   - SSM: one AWS SSM parameter per setting
//   - S3Document: a single JSON document in S3, optionally KMS-signed
//   - Postgres: a settings table read through a pgx pool
package settings

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// Source is a settings backend.
type Source interface {
	GetSetting(ctx context.Context, category, key string) (value string, ok bool, err error)
}

// ParseValue converts a raw setting to the most specific Go value it
// represents: bool, int64, float64, a decoded JSON object or array, or the
// trimmed string itself.
func ParseValue(raw string) any {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

// ParseBool accepts true/false, 1/0, yes/no and on/off in any case.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, xerrors.Newf("invalid boolean setting %q", raw)
}

// ParseInt accepts a base-10 integer, or a float with no fractional part.
func ParseInt(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, xerrors.Newf("invalid integer setting %q", raw)
	}
	return int(f), nil
}

// Static is an in-memory Source. The zero value is empty and usable.
type Static struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewStatic copies values, indexed by category then key.
func NewStatic(values map[string]map[string]string) *Static {
	s := &Static{}
	for cat, kv := range values {
		for k, v := range kv {
			s.Set(cat, k, v)
		}
	}
	return s
}

func (s *Static) Set(category, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]map[string]string)
	}
	if s.values[category] == nil {
		s.values[category] = make(map[string]string)
	}
	s.values[category][key] = value
}

func (s *Static) Delete(category, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[category], key)
}

func (s *Static) GetSetting(_ context.Context, category, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[category][key]
	return v, ok, nil
}

// LoadStaticFile reads a settings document from disk into a Static source.
// The file uses the same shape as the S3 document.
func LoadStaticFile(path string) (*Static, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read settings file %s", path)
	}
	values, err := decodeDocument(body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load settings file %s", path)
	}
	return NewStatic(values), nil
}
