// Package conversation manages per-user chat transcripts and the model
// round trip for verified users.
package conversation

import "strings"

// Turn is one transcript entry.
type Turn struct {
	Role    string
	Content string
}

// Serialize encodes turns as role|content lines. Backslashes and newlines in
// content are escaped so the line-oriented format survives arbitrary text;
// only the first | on a line separates role from content.
func Serialize(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role)
		b.WriteByte('|')
		b.WriteString(escapeContent(t.Content))
	}
	return b.String()
}

// Parse decodes a serialized transcript. Blank lines and lines without a
// role separator are skipped rather than treated as errors, so a transcript
// written by an older producer still loads.
func Parse(s string) []Turn {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var turns []Turn
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		role, content, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		turns = append(turns, Turn{Role: role, Content: unescapeContent(content)})
	}
	return turns
}

func escapeContent(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func unescapeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
