package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Args wraps tool call arguments as decoded from an LLM response.
type Args map[string]interface{}

// String gets a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// StringOr gets an optional string argument with a default.
func (a Args) StringOr(key, defaultVal string) string {
	s, err := a.String(key)
	if err != nil {
		return defaultVal
	}
	return s
}

// Text gets a required argument that models sometimes emit as a number,
// such as a package version ("1.1.200" vs 3.11). Numbers are formatted
// back to their shortest decimal form.
func (a Args) Text(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
}

// Int gets a required integer argument.
// Handles both int and float64 (JSON numbers decode as float64).
func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be a number, got %q", key, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}

// IntOr gets an optional integer argument with a default.
func (a Args) IntOr(key string, defaultVal int) int {
	if _, ok := a[key]; !ok {
		return defaultVal
	}
	n, err := a.Int(key)
	if err != nil {
		return defaultVal
	}
	return n
}

// Has returns true if the key exists in the arguments.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}
