// Package config provides typed access to the opaque node configuration
// maps carried by flow definitions.
//
// Node configs arrive as map[string]any from YAML or JSON. Config wraps
// such a map with accessors that handle missing keys and type mismatches
// by returning a caller-supplied default, so node implementations avoid
// verbose type assertions:
//
//	cfg := config.New(node.Config)
//	model := cfg.String("model", "gpt-4o-mini")
//	temp := cfg.Float("temperature", 0.7)
//	stream := cfg.Bool("stream", true)
package config

// Config wraps a map[string]any for type-safe value extraction.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not
// convertible. Accepts int, int64, and float64 without a fractional part
// (YAML and JSON decoders disagree on number types).
func (c Config) Int(key string, defaultVal int) int {
	switch v := c.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal if missing or not
// convertible. Accepts float64, int, and int64.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch v := c.data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal if missing
// or any element is not a string. Accepts []string and []any.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch v := c.data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}

// Map returns the nested map for key, or nil if missing or not a map.
func (c Config) Map(key string) map[string]any {
	if m, ok := c.data[key].(map[string]any); ok {
		return m
	}
	return nil
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	if v, ok := c.data[key]; ok {
		return v
	}
	return defaultVal
}

// Has reports whether key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}
