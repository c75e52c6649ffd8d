package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// delimiters accepted around a pattern, e.g. "/^urn:x$/i" or "#^https://#".
const delimiters = "/#~@!%|+"

// CompilePattern compiles a regular expression. Patterns wrapped in a
// delimiter pair with optional trailing flags (i, m, s, U) are unwrapped
// first, so configuration written for delimited regex engines keeps working.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	expr := unwrapDelimited(pattern)
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

func unwrapDelimited(pattern string) string {
	if len(pattern) < 2 || !strings.ContainsRune(delimiters, rune(pattern[0])) {
		return pattern
	}
	delim := pattern[0]
	end := strings.LastIndexByte(pattern, delim)
	if end <= 0 {
		return pattern
	}

	var flags strings.Builder
	for _, f := range pattern[end+1:] {
		switch f {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(flags.String(), f) {
				flags.WriteRune(f)
			}
		case 'u', 'D':
			// RE2 is always UTF-8 and has no dollar-end-only mode
		default:
			return pattern
		}
	}

	body := pattern[1:end]
	if flags.Len() == 0 {
		return body
	}
	return "(?" + flags.String() + ")" + body
}
