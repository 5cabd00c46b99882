package query

import (
	"strings"

	"document-mapper/schema"
)

// substituteWhere replaces ~field placeholders in a textual predicate source
// with resolved wire field names. A placeholder is a tilde followed by a DSL
// field path (identifier characters and the DSL separator); it is located by
// simple delimiter scanning, not expression parsing.
//
//	this[~title] == "Post 1"   →   this[postTitle] == "Post 1"
func substituteWhere(entry *schema.Entry, src string) (string, error) {
	var out strings.Builder

	for {
		tilde := strings.IndexByte(src, '~')
		if tilde < 0 {
			out.WriteString(src)
			break
		}

		out.WriteString(src[:tilde])

		rest := src[tilde+1:]
		end := placeholderEnd(rest)

		if end == 0 {
			// lone tilde, keep it verbatim
			out.WriteByte('~')
			src = rest

			continue
		}

		p, err := ResolveField(entry, rest[:end])
		if err != nil {
			return "", err
		}

		out.WriteString(p.WirePath())

		src = rest[end:]
	}

	return out.String(), nil
}

func placeholderEnd(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			continue
		}

		return i
	}

	return len(s)
}
