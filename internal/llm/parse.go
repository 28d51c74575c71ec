package llm

import (
	"fmt"
	"strings"
)

// StripCodeFence removes a surrounding markdown code fence (```json ... ```)
// from a model reply. Text without a fence is returned trimmed.
func StripCodeFence(resp string) string {
	s := strings.TrimSpace(resp)
	idx := strings.Index(s, "```")
	if idx == -1 {
		return s
	}
	s = s[idx+3:]
	// Drop the info string ("json", "JSON", ...) up to the first newline.
	if nl := strings.IndexByte(s, '\n'); nl != -1 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	if end := strings.Index(s, "```"); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractJSONObject returns the outermost {...} span of a reply after fence
// stripping. Small models often add conversational filler around the JSON.
func ExtractJSONObject(resp string) (string, error) {
	return extractSpan(StripCodeFence(resp), "{", "}")
}

// ExtractJSONArray returns the outermost [...] span of a reply after fence stripping.
func ExtractJSONArray(resp string) (string, error) {
	return extractSpan(StripCodeFence(resp), "[", "]")
}

func extractSpan(s, open, close string) (string, error) {
	start := strings.Index(s, open)
	end := strings.LastIndex(s, close)
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON %s%s in response", open, close)
	}
	return s[start : end+1], nil
}

// Truncate shortens s to at most n runes, for logging and diagnostics.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
