// Package dialpad is a client for the Dialpad v2 call and transcript endpoints.
package dialpad

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lendz/syncer/apiclients/rest"
	"github.com/lendz/syncer/internal/logging"

	"github.com/google/go-querystring/query"
)

// BaseURL is the production API root.
const BaseURL = "https://dialpad.com/api/v2"

// APIClient is a wrapper for making authenticated calls to the Dialpad API. The
// provided http.Client is expected to add the bearer token.
type APIClient struct {
	rest *rest.Client
	log  *slog.Logger
}

// NewAPIClient creates a new Dialpad API client. An empty baseURL selects BaseURL.
func NewAPIClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *APIClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &APIClient{
		rest: rest.NewClient(baseURL, httpClient, logger),
		log:  logger,
	}
}

// callsQuery holds the /call filter parameters.
type callsQuery struct {
	StartedAfter  int64  `url:"started_after"`
	StartedBefore int64  `url:"started_before,omitempty"`
	Cursor        string `url:"cursor,omitempty"`
}

// FetchCalls fetches one page of calls started after start (and before end, if end
// is not zero). An empty cursor requests the first page. A page whose cursor is
// empty is the last one.
func (c *APIClient) FetchCalls(ctx context.Context, cursor string, start, end time.Time) (*CallPage, error) {
	q := callsQuery{
		StartedAfter: start.UnixMilli(),
		Cursor:       cursor,
	}
	if !end.IsZero() {
		q.StartedBefore = end.UnixMilli()
	}
	params, err := query.Values(q)
	if err != nil {
		return nil, fmt.Errorf("could not encode call query: %w", err)
	}

	req, err := c.rest.NewRequest(ctx, http.MethodGet, "/call", params, nil)
	if err != nil {
		c.log.Error(fmt.Sprintf("FetchCalls: request error: %v", err))
		return nil, err
	}

	var response callsResponse
	body, err := rest.Do(c.rest, req, &response)
	if err != nil {
		c.log.Error(fmt.Sprintf("FetchCalls: cursor %q: %v", cursor, err))
		return nil, err
	}

	page := &CallPage{
		Items: response.Items,
		Body:  body,
	}
	if response.Cursor != nil {
		page.Cursor = *response.Cursor
	}
	c.log.Debug(fmt.Sprintf("FetchCalls: %d calls, next cursor %q", len(page.Items), page.Cursor))
	return page, nil
}

// FetchTranscript fetches the transcript for a single call.
func (c *APIClient) FetchTranscript(ctx context.Context, callID string) (*Transcript, error) {
	req, err := c.rest.NewRequest(ctx, http.MethodGet, "/transcripts/"+url.PathEscape(callID), nil, nil)
	if err != nil {
		return nil, err
	}

	var transcript Transcript
	if _, err := rest.Do(c.rest, req, &transcript); err != nil {
		c.log.Warn(fmt.Sprintf("FetchTranscript: call %s: %v", callID, err))
		return nil, err
	}
	return &transcript, nil
}
