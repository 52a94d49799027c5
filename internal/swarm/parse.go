package swarm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeLoose unmarshals model output into v, tolerating the usual LLM
// damage: code fences, leading prose, trailing commas, single quotes.
// It tries strict JSON first, then a fenced or embedded object, then a
// jsonrepair pass over the best candidate.
func DecodeLoose(raw string, v any) error {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return fmt.Errorf("empty model output")
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	if extracted := extractJSONObject(candidate); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
		candidate = extracted
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("repair model JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decode repaired model JSON: %w", err)
	}
	return nil
}

// extractJSONObject pulls the first balanced {...} or [...] block out of
// text, skipping code fences and surrounding prose. Returns "" when no
// balanced block exists.
func extractJSONObject(text string) string {
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}

	start := -1
	var opener, closer byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			opener = text[i]
			closer = '}'
			if opener == '[' {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// Unbalanced; hand the tail to jsonrepair.
	return text[start:]
}
