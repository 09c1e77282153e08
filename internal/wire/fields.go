package wire

import "fmt"

// requireString/requireInt64/... implement the "tagged-variant decoder that
// rejects messages missing required fields for their message_type" guidance:
// any missing or mistyped required field fails the whole decode.

func requireString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required field %q", ErrMalformed, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q must be a string", ErrMalformed, key)
	}
	return s, nil
}

func requireInt64(m map[string]interface{}, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required field %q", ErrMalformed, key)
	}
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: field %q must be an integer", ErrMalformed, key)
	}
	return i, nil
}

func requireFloat64(m map[string]interface{}, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required field %q", ErrMalformed, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: field %q must be a number", ErrMalformed, key)
	}
}

func requireBool(m map[string]interface{}, key string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, fmt.Errorf("%w: missing required field %q", ErrMalformed, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: field %q must be a bool", ErrMalformed, key)
	}
	return b, nil
}

// optional getters: absent-or-present, never sentinel values (per §9).

func optString(m map[string]interface{}, key string) *string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

func optFloat64(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return &n
		case int64:
			f := float64(n)
			return &f
		}
	}
	return nil
}

func optInt64(m map[string]interface{}, key string) *int64 {
	if v, ok := m[key]; ok {
		if i, ok := v.(int64); ok {
			return &i
		}
	}
	return nil
}

func stringOr(m map[string]interface{}, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func stringSlice(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func int64Slice(m map[string]interface{}, key string) []int64 {
	v, ok := m[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(arr))
	for _, e := range arr {
		if i, ok := e.(int64); ok {
			out = append(out, i)
		}
	}
	return out
}

func toInterfaceStringSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func toInterfaceInt64Slice(is []int64) []interface{} {
	out := make([]interface{}, len(is))
	for i, v := range is {
		out[i] = v
	}
	return out
}

func setIfNotNil(m map[string]interface{}, key string, v interface{}) {
	switch p := v.(type) {
	case *string:
		if p != nil {
			m[key] = *p
		}
	case *float64:
		if p != nil {
			m[key] = *p
		}
	case *int64:
		if p != nil {
			m[key] = *p
		}
	}
}
