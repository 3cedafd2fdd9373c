package forgehttp

import "github.com/retrocourt/retrocourt/internal/redact"

// sensitiveHeaders are stripped before any header map is logged or
// archived. Keys are textproto-canonical and matched exactly, not
// case-folded (http.Header already stores names in that form).
var sensitiveHeaders = map[string]string{
	"Authorization": "credential",
	"Cookie":        "credential",
	"Set-Cookie":    "credential",
}

// RedactHeaders returns a copy of headers with every sensitive value
// replaced by redact's mask placeholder, so request/response archives and
// log lines never carry a bearer token or cookie. Uses the same
// "***REDACTED:category***" text the redaction Policy's mask action
// produces, so a reader of an archived RawRecord sees one consistent
// redaction convention across the whole system.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if category, sensitive := sensitiveHeaders[k]; sensitive {
			out[k] = redact.MaskLabel(category)
			continue
		}
		out[k] = v
	}
	return out
}
