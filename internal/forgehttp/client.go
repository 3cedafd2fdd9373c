// Package forgehttp is the HTTP client shared by the forge ingester: a
// single retrying transport installed under both a go-github REST client
// and a raw GraphQL POST helper, so rate-limit and retry handling never
// diverges between the two halves of the GitHub API this system consumes.
package forgehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v68/github"

	"github.com/retrocourt/retrocourt/internal/courterr"
)

const defaultBaseURL = "https://api.github.com"
const graphqlPath = "/graphql"

// Client wraps both halves of the GitHub API this system consumes: go-github
// for REST (discovery search, PR files) and a raw http.Client for GraphQL
// (go-github has no GraphQL client). Both share one retryTransport.
type Client struct {
	rest       *github.Client
	httpClient *http.Client
	transport  *retryTransport
	token      string
	baseURL    string
	logger     *slog.Logger
}

// New builds a Client authenticated with token. logger receives retry and
// rate-limit diagnostics; a nil logger discards them.
func New(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transport := newRetryTransport(http.DefaultTransport, logger)
	httpClient := &http.Client{Transport: transport}
	return &Client{
		// WithAuthToken wraps httpClient.Transport with its own bearer-token
		// round tripper, layered on top of the shared retryTransport below
		// it — REST retries and GraphQL retries go through the same retry
		// logic either way.
		rest:       github.NewClient(httpClient).WithAuthToken(token),
		httpClient: httpClient,
		transport:  transport,
		token:      token,
		baseURL:    defaultBaseURL,
		logger:     logger,
	}
}

// REST returns the underlying go-github client for REST calls (discovery
// search, PR file listings, pagination via resp.NextPage).
func (c *Client) REST() *github.Client {
	return c.rest
}

// OnExchange registers a callback invoked once per completed HTTP exchange
// (REST or GraphQL, after retries settle), so a caller like internal/ingest
// can archive every request/response pair uniformly regardless of which
// half of the API issued it.
func (c *Client) OnExchange(fn func(Exchange)) {
	c.transport.onExchange = fn
}

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables any    `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// RequestJSON issues a single GraphQL query and decodes the `data` field
// into out. An HTTP-successful response whose body carries a non-empty
// `errors[]` array is reported as a *courterr.UpstreamSemanticError naming
// the first error, since that failure mode is semantic, not transport-level,
// and must not be retried by the transport.
func (c *Client) RequestJSON(ctx context.Context, query string, variables any, out any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("forgehttp: marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+graphqlPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forgehttp: build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &courterr.TransportError{Op: "POST", URL: c.baseURL + graphqlPath, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &courterr.TransportError{Op: "POST", URL: c.baseURL + graphqlPath, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &courterr.TransportError{
			Op:  "POST",
			URL: c.baseURL + graphqlPath,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 500)),
		}
	}

	var env graphqlEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("forgehttp: decode graphql envelope: %w", err)
	}
	if len(env.Errors) > 0 {
		first := env.Errors[0]
		return env.Data, &courterr.UpstreamSemanticError{Message: first.Message, Path: pathString(first.Path)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env.Data, fmt.Errorf("forgehttp: decode graphql data: %w", err)
		}
	}
	return env.Data, nil
}

func pathString(path []any) string {
	if len(path) == 0 {
		return ""
	}
	var b bytes.Buffer
	for i, p := range path {
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%v", p)
	}
	return b.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// PageFunc fetches one GraphQL page given the cursor to resume from (empty
// for the first page) and returns the raw decoded response.
type PageFunc func(ctx context.Context, cursor string) (json.RawMessage, error)

// Paginate repeatedly calls fetch, passing each page's raw response to
// onPage, until FindPageInfo reports no further page or onPage returns an
// error.
func (c *Client) Paginate(ctx context.Context, fetch PageFunc, onPage func(json.RawMessage) error) error {
	cursor := ""
	for {
		page, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		if err := onPage(page); err != nil {
			return err
		}
		info, ok := FindPageInfo(page)
		if !ok || !info.HasNextPage || info.EndCursor == "" {
			return nil
		}
		cursor = info.EndCursor
	}
}
