package forgehttp

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultMaxAttempts is the minimum retry budget the spec requires (N>=6)
// for both REST and GraphQL calls made through this client's shared
// transport.
const defaultMaxAttempts = 6

// Exchange is one completed HTTP round trip, captured for archival. Bodies
// are already fully read and headers already converted to the flat
// map[string]string shape model.RawRequest/RawResponse expect.
type Exchange struct {
	Method       string
	URL          string
	RequestBody  string
	ReqHeaders   map[string]string
	StatusCode   int
	RespHeaders  map[string]string
	ResponseBody string
}

// retryTransport wraps an http.RoundTripper with retry, backoff, and
// rate-limit handling shared by every request the client issues — REST via
// go-github, GraphQL via the raw POST helper — since both are routed
// through the same *http.Client. onExchange, when set, is invoked once per
// logical request with the final (post-retry) request/response pair, so the
// ingester can archive every exchange regardless of which layer issued it.
type retryTransport struct {
	base        http.RoundTripper
	logger      *slog.Logger
	maxAttempts int
	onExchange  func(Exchange)
}

func newRetryTransport(base http.RoundTripper, logger *slog.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{base: base, logger: logger, maxAttempts: defaultMaxAttempts}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		reqCopy, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}
		reqBody := snapshotRequestBody(reqCopy)

		resp, err := t.base.RoundTrip(reqCopy)
		if err != nil {
			lastErr = err
			if attempt == t.maxAttempts {
				return nil, err
			}
			t.sleep(req, backoffDelay(attempt))
			continue
		}

		if delay, retriable := t.retryDelay(resp, attempt); retriable {
			if attempt == t.maxAttempts {
				return t.finish(reqCopy, resp, reqBody), nil
			}
			_ = resp.Body.Close()
			t.logger.Warn("forgehttp: retrying request",
				"attempt", attempt,
				"status", resp.StatusCode,
				"delay", delay,
				"url", req.URL.String(),
			)
			t.sleep(req, delay)
			continue
		}

		return t.finish(reqCopy, resp, reqBody), nil
	}
	return nil, lastErr
}

// finish reads and restores resp.Body so the caller can still consume it,
// then reports the completed exchange to onExchange if one is set.
func (t *retryTransport) finish(req *http.Request, resp *http.Response, reqBody string) *http.Response {
	if t.onExchange == nil {
		return resp
	}
	var respBody string
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err == nil {
			respBody = string(data)
		}
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	t.onExchange(Exchange{
		Method:       req.Method,
		URL:          req.URL.String(),
		RequestBody:  reqBody,
		ReqHeaders:   flattenHeaders(req.Header),
		StatusCode:   resp.StatusCode,
		RespHeaders:  flattenHeaders(resp.Header),
		ResponseBody: respBody,
	})
	return resp
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// snapshotRequestBody reads and restores req.Body so it can still be sent,
// returning its contents for archival.
func snapshotRequestBody(req *http.Request) string {
	if req.Body == nil {
		return ""
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return ""
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return string(data)
}

// retryDelay decides whether resp warrants a retry and, if so, how long to
// wait: secondary rate limit (403 + body marker), any 429 (Retry-After, else
// X-RateLimit-Reset, else backoff), primary rate limit (403 with
// X-RateLimit-Remaining: 0), or a 5xx server error.
func (t *retryTransport) retryDelay(resp *http.Response, attempt int) (time.Duration, bool) {
	switch {
	case resp.StatusCode == http.StatusForbidden && peekSecondaryRateLimit(resp):
		return retryAfterDelay(resp, backoffDelay(attempt)), true
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfterDelay(resp, rateLimitResetDelay(resp, backoffDelay(attempt))), true
	case isPrimaryRateLimited(resp):
		return rateLimitResetDelay(resp, backoffDelay(attempt)), true
	case resp.StatusCode >= 500:
		return backoffDelay(attempt), true
	default:
		return 0, false
	}
}

func (t *retryTransport) sleep(req *http.Request, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
	case <-timer.C:
	}
}

// backoffDelay is exponential with full jitter, base 500ms, capped at 30s.
func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	capDelay := 30 * time.Second
	backoff := base * time.Duration(1<<uint(min(attempt-1, 6)))
	if backoff > capDelay {
		backoff = capDelay
	}
	return time.Duration(rand.Int64N(int64(backoff) + 1))
}

// retryAfterDelay honors a Retry-After header (seconds or HTTP-date) when
// present, falling back to fallback otherwise.
func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(ra); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return fallback
}

// isPrimaryRateLimited reports whether resp is GitHub's primary rate-limit
// response: 403 or 429 with the remaining-quota header exhausted.
func isPrimaryRateLimited(resp *http.Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// rateLimitResetDelay computes the wait until X-RateLimit-Reset (a Unix
// timestamp), falling back to fallback if the header is absent or stale.
func rateLimitResetDelay(resp *http.Response, fallback time.Duration) time.Duration {
	reset := resp.Header.Get("X-RateLimit-Reset")
	if reset == "" {
		return fallback
	}
	epoch, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return fallback
	}
	d := time.Until(time.Unix(epoch, 0))
	if d <= 0 {
		return fallback
	}
	return d
}

// peekSecondaryRateLimit reads (and restores) resp.Body looking for GitHub's
// secondary-rate-limit marker text, since that case is also a 403 but must
// not be treated as the primary quota-exhausted case.
func peekSecondaryRateLimit(resp *http.Response) bool {
	if resp.Body == nil {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(body)), "secondary rate limit")
}

// cloneRequest rewinds the request body (via GetBody) so a retried attempt
// resends the original payload rather than an already-drained reader.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}
