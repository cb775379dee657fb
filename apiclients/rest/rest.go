// Package rest holds the HTTP plumbing shared by the Dialpad and LoanPASS clients:
// request construction, response size limits and the FetchError taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lendz/syncer/internal/logging"
)

// MaxResponseSize is the largest response body that will be read (32MB).
const MaxResponseSize = 32 << 20

// Kind distinguishes the ways a fetch can fail.
type Kind string

const (
	KindHTTPStatus Kind = "http_status"
	KindTransport  Kind = "transport"
	KindDecode     Kind = "decode"
)

// FetchError reports a failed API call.
type FetchError struct {
	Kind       Kind
	StatusCode int    // only set for KindHTTPStatus
	Body       string // truncated response body, only set for KindHTTPStatus
	Err        error
}

// Error fulfils the error interface.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
	case KindDecode:
		return fmt.Sprintf("failed to decode response: %v", e.Err)
	default:
		return fmt.Sprintf("failed to execute request: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the Kind of a FetchError anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Client is a JSON-over-HTTP client rooted at a base URL. Authentication is the
// responsibility of the supplied http.Client (see internal/token).
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewClient creates a new Client. If httpClient is nil http.DefaultClient is used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        logger,
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewRequest builds a request for path below the base URL. A non-nil body is
// marshalled to JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do executes req and returns the raw response body. If v is not nil the body is
// also decoded into it. All failures are *FetchError values.
func Do[T any](c *Client, req *http.Request, v *T) ([]byte, error) {
	c.log.Debug(fmt.Sprintf("%s %s", req.Method, req.URL.Redacted()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > MaxResponseSize {
		return nil, &FetchError{
			Kind: KindTransport,
			Err:  fmt.Errorf("response body too large (max %d bytes)", MaxResponseSize),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 512),
		}
	}

	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return nil, &FetchError{
				Kind: KindDecode,
				Err:  fmt.Errorf("%d byte body from %s: %w", len(body), req.URL.Path, err),
			}
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
