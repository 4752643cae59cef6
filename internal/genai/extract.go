package genai

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ExtractJSONObject pulls the first JSON object out of model output that may
// be wrapped in code fencing or surrounding prose. It reports ok=false on
// anything unusable instead of returning an error; malformed model output
// must never fail a turn.
func ExtractJSONObject(text string) (map[string]any, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, false
	}

	// Strip a ```json ... ``` fence when present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}

	// Walk to the brace that closes the first object, respecting strings.
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var object map[string]any
				if err := json.Unmarshal([]byte(s[start:i+1]), &object); err != nil {
					return nil, false
				}
				return object, true
			}
		}
	}
	return nil, false
}

// stringField reads a string value from an extracted object, empty when the
// key is missing or not a string.
func stringField(object map[string]any, key string) string {
	v, ok := object[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// stringListField reads a list of strings from an extracted object,
// skipping non-string elements.
func stringListField(object map[string]any, key string) []string {
	raw, ok := object[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// int64Field reads a numeric value from an extracted object. JSON numbers
// decode as float64; numeric strings are tolerated too.
func int64Field(object map[string]any, key string) (int64, bool) {
	switch v := object[key].(type) {
	case float64:
		return int64(v), true
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

// int64ListField reads a list of numeric ids from an extracted object.
func int64ListField(object map[string]any, key string) []int64 {
	raw, ok := object[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int64(n))
		case string:
			if id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				out = append(out, id)
			}
		}
	}
	return out
}
