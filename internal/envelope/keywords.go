package envelope

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var keywordSeparator = regexp.MustCompile(`[，,\s]+`)

// NormalizeKeywords converts the keywords field of a command or result payload
// into an ordered slice of non-empty strings. Upstream producers have emitted
// three historical forms: a JSON array, a JSON-encoded array string like
// `["电影","排名","TOP250"]`, and a plain delimited string like
// "[电影,排名,TOP250]". This is a boundary compatibility adapter; none of the
// legacy forms may fail the whole message.
func NormalizeKeywords(v any) []string {
	switch kw := v.(type) {
	case nil:
		return nil
	case []string:
		return trimKeywords(kw)
	case []any:
		out := make([]string, 0, len(kw))
		for _, item := range kw {
			out = append(out, fmt.Sprint(item))
		}
		return trimKeywords(out)
	case json.RawMessage:
		return normalizeRaw(kw)
	case string:
		return normalizeString(kw)
	default:
		return nil
	}
}

func normalizeRaw(raw json.RawMessage) []string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return normalizeString(string(raw))
	}
	return NormalizeKeywords(v)
}

func normalizeString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// First attempt: the string is itself a JSON array.
	var parsed []any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		out := make([]string, 0, len(parsed))
		for _, item := range parsed {
			out = append(out, fmt.Sprint(item))
		}
		return trimKeywords(out)
	}
	// Fallback: strip one bracket pair and split on commas (ASCII or
	// full-width) and whitespace.
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return trimKeywords(keywordSeparator.Split(s, -1))
}

func trimKeywords(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
