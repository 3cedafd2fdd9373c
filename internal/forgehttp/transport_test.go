package forgehttp

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRoundTripper replays a fixed sequence of responses, one per call,
// reusing the last entry once exhausted.
type fakeRoundTripper struct {
	responses []*http.Response
	calls     int
}

func (f *fakeRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func jsonResponse(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func TestRetryTransport_HonorsPrimaryRateLimitThenSucceeds(t *testing.T) {
	rt := &fakeRoundTripper{responses: []*http.Response{
		jsonResponse(http.StatusForbidden, map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "0", // already elapsed: falls back to backoffDelay, not a real sleep
		}, "rate limited"),
		jsonResponse(http.StatusOK, nil, `{"ok":true}`),
	}}

	transport := newRetryTransport(rt, discardLogger())
	transport.maxAttempts = 3

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, rt.calls)
}

func TestRetryTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	rt := &fakeRoundTripper{responses: []*http.Response{
		jsonResponse(http.StatusTooManyRequests, map[string]string{"X-RateLimit-Remaining": "0"}, ""),
	}}

	transport := newRetryTransport(rt, discardLogger())
	transport.maxAttempts = 2

	req, err := http.NewRequest(http.MethodGet, "https://api.github.com/x", nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, 2, rt.calls)
}

func TestRetryTransport_CapturesExchangeViaOnExchange(t *testing.T) {
	rt := &fakeRoundTripper{responses: []*http.Response{
		jsonResponse(http.StatusOK, nil, `{"ok":true}`),
	}}

	transport := newRetryTransport(rt, discardLogger())
	var captured Exchange
	transport.onExchange = func(ex Exchange) { captured = ex }

	req, err := http.NewRequest(http.MethodPost, "https://api.github.com/graphql", bytes.NewReader([]byte(`{"query":"{}"}`)))
	require.NoError(t, err)
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(`{"query":"{}"}`))), nil
	}

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "POST", captured.Method)
	require.Equal(t, `{"query":"{}"}`, captured.RequestBody)
	require.Equal(t, 200, captured.StatusCode)
	require.Equal(t, `{"ok":true}`, captured.ResponseBody)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(body))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
