// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package schema

import "strings"

// CleanModelOutput turns a raw model answer into parseable JSON text:
// Markdown fences are stripped, the text is narrowed to the outermost
// object window, and line comments outside string literals are removed.
func CleanModelOutput(raw string) string {
	cleaned := StripCodeFences(raw)
	cleaned = ExtractJSONWindow(cleaned)
	return StripLineComments(cleaned)
}

// StripCodeFences removes ``` fences, including language tags like ```json.
func StripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// ExtractJSONWindow narrows s to the span between the first '{' and the
// last '}'. Text without both braces is returned unchanged.
func ExtractJSONWindow(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// StripLineComments drops // comments that occur outside JSON string
// literals. Escape sequences inside strings are honored so embedded
// URLs like "http://..." survive.
func StripLineComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
