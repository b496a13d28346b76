package stream

import (
	"encoding/json"
	"strings"

	"github.com/snow-ai/snow/internal/logging"
)

// xmlContaminants are stray tokens some providers emit when they produce
// JSON-like XML inside tool argument fragments.
var xmlContaminants = []string{"<parameter>", "</parameter>"}

// StripXMLTags removes contaminating parameter tags from an argument fragment.
func StripXMLTags(fragment string) string {
	for _, tok := range xmlContaminants {
		fragment = strings.ReplaceAll(fragment, tok, "")
	}
	return fragment
}

// AssembleArguments parses the concatenated argument fragments of a tool call.
// If parsing fails, a best-effort repair is attempted; if repair also fails an
// empty object is substituted and Repaired is set so the executor can surface
// a warning in the tool result.
func AssembleArguments(id, name string, fragments []string, sawStop bool) ToolCall {
	raw := StripXMLTags(strings.Join(fragments, ""))

	call := ToolCall{
		ID:         id,
		Name:       name,
		Incomplete: !sawStop,
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		call.Arguments = json.RawMessage("{}")
		return call
	}

	if json.Valid([]byte(trimmed)) {
		call.Arguments = json.RawMessage(trimmed)
		return call
	}

	repaired := RepairJSON(trimmed)
	if json.Valid([]byte(repaired)) {
		logging.Warn().
			Str("tool", name).
			Str("callId", id).
			Msg("repaired malformed tool arguments")
		call.Arguments = json.RawMessage(repaired)
		call.Repaired = true
		return call
	}

	logging.Warn().
		Str("tool", name).
		Str("callId", id).
		Str("raw", truncateForLog(trimmed)).
		Msg("unparseable tool arguments, substituting empty object")
	call.Arguments = json.RawMessage("{}")
	call.Repaired = true
	return call
}

// RepairJSON attempts to fix common truncation damage in a JSON document:
// unbalanced brackets and braces, an unterminated string, and trailing commas.
func RepairJSON(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 8)

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		out.WriteByte(c)

		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// Close an unterminated string. A dangling escape cannot be closed
	// meaningfully, so drop it first.
	result := out.String()
	if inString {
		if escaped {
			result = result[:len(result)-1]
		}
		result += `"`
	}

	// Strip trailing commas before closing the open containers.
	result = strings.TrimRight(result, " \t\n\r")
	result = strings.TrimSuffix(result, ",")

	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			result += "}"
		case '[':
			result += "]"
		}
	}

	// Trailing commas inside the document ( "a",} ) are a separate hazard.
	result = strings.ReplaceAll(result, ",}", "}")
	result = strings.ReplaceAll(result, ",]", "]")

	return result
}
