// Package jsonfix repairs the common ways language models mangle JSON output:
// markdown code fences, prose around the payload, Python literals, single
// quotes, trailing commas and unbalanced brackets. After repair the decode is
// strict; anything still broken surfaces as an error rather than a guess.
package jsonfix

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode unmarshals raw into v, falling back to a repaired copy when the
// input is not valid JSON as-is.
func Decode(raw string, v any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("jsonfix: empty input")
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	repaired, err := Repair(trimmed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("jsonfix: repaired input still invalid: %w", err)
	}
	return nil
}

// Repair returns the best-effort valid JSON embedded in raw.
func Repair(raw string) (string, error) {
	s := stripFences(strings.TrimSpace(raw))

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("jsonfix: no JSON value found")
	}
	s = s[start:]

	var (
		out      strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)

	i := 0
	for i < len(s) {
		c := s[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			i++
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
			i++
		case c == '\'':
			converted, consumed := convertSingleQuoted(s[i:])
			out.WriteString(converted)
			i += consumed
		case c == '{':
			stack = append(stack, '}')
			out.WriteByte(c)
			i++
		case c == '[':
			stack = append(stack, ']')
			out.WriteByte(c)
			i++
		case c == '}' || c == ']':
			trimTrailingComma(&out)
			out.WriteByte(c)
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
			i++
			// Once the outermost value closes, anything after is prose.
			if len(stack) == 0 {
				return out.String(), nil
			}
		case c == '-' || (c >= '0' && c <= '9'):
			num := readNumber(s[i:])
			out.WriteString(num)
			i += len(num)
		case isIdentByte(c):
			ident := readIdent(s[i:])
			out.WriteString(mapLiteral(ident))
			i += len(ident)
		default:
			out.WriteByte(c)
			i++
		}
	}

	if inString {
		out.WriteByte('"')
	}
	trimTrailingComma(&out)
	for j := len(stack) - 1; j >= 0; j-- {
		out.WriteByte(stack[j])
	}
	return out.String(), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "```"); idx >= 0 {
			s = s[idx:]
		} else {
			return s
		}
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(s[:nl])
		if len(first) <= 8 && !strings.ContainsAny(first, "{[") {
			s = s[nl+1:]
		}
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// convertSingleQuoted rewrites a 'single quoted' string to JSON form,
// returning the rewritten string and the number of input bytes consumed.
func convertSingleQuoted(s string) (string, int) {
	var out strings.Builder
	out.WriteByte('"')
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == '\'' {
				out.WriteByte('\'')
			} else {
				out.WriteByte(c)
				out.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		if c == '\'' {
			i++
			break
		}
		if c == '"' {
			out.WriteString(`\"`)
		} else {
			out.WriteByte(c)
		}
		i++
	}
	out.WriteByte('"')
	return out.String(), i
}

func trimTrailingComma(out *strings.Builder) {
	s := out.String()
	j := len(s) - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
		j--
	}
	if j >= 0 && s[j] == ',' {
		out.Reset()
		out.WriteString(s[:j])
		out.WriteString(s[j+1:])
	}
}

func isIdentByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func readNumber(s string) string {
	i := 0
	for i < len(s) {
		c := s[i]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			i++
			continue
		}
		break
	}
	return s[:i]
}

func readIdent(s string) string {
	i := 0
	for i < len(s) && (isIdentByte(s[i]) || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	return s[:i]
}

func mapLiteral(ident string) string {
	switch ident {
	case "None", "null", "NaN":
		return "null"
	case "True", "true":
		return "true"
	case "False", "false":
		return "false"
	default:
		// Bare identifiers (unquoted keys or enum-ish values) get quoted so
		// the strict decode can still judge the overall shape.
		return `"` + ident + `"`
	}
}
