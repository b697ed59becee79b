package log

import (
	"net/url"
	"strings"
)

// RedactURL hides the password part of URL-shaped strings. Source and
// storage URIs regularly carry basic-auth credentials and must never reach
// the log stream verbatim. Non-URL strings pass through unchanged; strings
// that look credentialed but don't parse are dropped entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if strings.Contains(raw, "://") && strings.Contains(raw, "@") {
			return "REDACTED"
		}
		return raw
	}
	if u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	out := make([]interface{}, 0, len(keyvals))
	for _, kv := range keyvals {
		switch v := kv.(type) {
		case string:
			out = append(out, RedactURL(v))
		case *url.URL:
			out = append(out, RedactURL(v.String()))
		default:
			out = append(out, kv)
		}
	}
	return out
}
