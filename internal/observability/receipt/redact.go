package receipt

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitiveFlags are flag names whose values are always redacted.
var sensitiveFlags = map[string]bool{
	"password":     true,
	"secret":       true,
	"token":        true,
	"dsn":          true,
	"otel-headers": true,
	"auth":         true,
	"credentials":  true,
}

// passwordParam matches password settings in key=value DSNs.
var passwordParam = regexp.MustCompile(`(?i)\b(password|pwd)=([^\s&;]+)`)

const redactedValue = "[REDACTED]"

// RedactArgs sanitizes CLI arguments: values of sensitive flags are
// replaced and credentials embedded in URLs or DSNs are masked.
// Returns the redacted args and whether anything was changed.
func RedactArgs(args []string) ([]string, bool) {
	if len(args) == 0 {
		return args, false
	}

	redacted := make([]string, len(args))
	wasRedacted := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if eqIdx := strings.Index(arg, "="); eqIdx > 0 && strings.HasPrefix(arg, "-") {
			if isSensitiveFlag(arg[:eqIdx]) {
				redacted[i] = arg[:eqIdx+1] + redactedValue
				wasRedacted = true
				continue
			}
		}

		if strings.HasPrefix(arg, "-") && isSensitiveFlag(arg) && i+1 < len(args) {
			redacted[i] = arg
			i++
			redacted[i] = redactedValue
			wasRedacted = true
			continue
		}

		clean := RedactURL(arg)
		if clean != arg {
			wasRedacted = true
		}
		redacted[i] = clean
	}

	return redacted, wasRedacted
}

func isSensitiveFlag(flag string) bool {
	flag = strings.TrimLeft(flag, "-")
	return sensitiveFlags[strings.ToLower(flag)]
}

// RedactURL masks the password of a URL's userinfo and password=
// parameters. Anything else is returned unchanged.
func RedactURL(s string) string {
	out := passwordParam.ReplaceAllString(s, "${1}="+redactedValue)

	if !strings.Contains(out, "://") || !strings.Contains(out, "@") {
		return out
	}
	u, err := url.Parse(out)
	if err != nil || u.User == nil {
		return out
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), redactedValue)
		// url.String escapes the brackets of the marker
		return strings.Replace(u.String(), url.QueryEscape(redactedValue), redactedValue, 1)
	}
	return out
}
