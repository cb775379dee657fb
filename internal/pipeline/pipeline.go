// Package pipeline drives the syncer's extract and load runs: the cursor-paginated
// call walker, the transcript backfill and the LoanPASS pricing sync. Each run is
// single threaded; pages are fetched, archived and written strictly in order.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/lendz/syncer/apiclients/dialpad"
	"github.com/lendz/syncer/apiclients/loanpass"
	"github.com/lendz/syncer/apiclients/rest"
	"github.com/lendz/syncer/db"
	"github.com/lendz/syncer/internal/metrics"
)

// State is a pagination run state.
type State string

const (
	StateStart     State = "START"
	StateFetching  State = "FETCHING"
	StateArchiving State = "ARCHIVING"
	StateWriting   State = "WRITING"
	StateContinue  State = "CONTINUE"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Pipeline names, used for metrics, locks and the trigger routes.
const (
	Calls       = "calls"
	Transcripts = "transcripts"
	Pricing     = "pricing"
)

var (
	// ErrMaxPages is returned when a run reaches its configured page ceiling before
	// the upstream API stops returning cursors.
	ErrMaxPages = errors.New("maximum page count reached")
	// ErrCursorLoop is returned when the upstream API returns a cursor already seen in
	// this run.
	ErrCursorLoop = errors.New("cursor returned twice")
)

// Limiter gates outbound requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Archiver persists raw response bodies.
type Archiver interface {
	Archive(ctx context.Context, name string, body []byte) error
}

// CallFetcher fetches pages of call records.
type CallFetcher interface {
	FetchCalls(ctx context.Context, cursor string, start, end time.Time) (*dialpad.CallPage, error)
}

// CallWriter upserts a page of call records.
type CallWriter interface {
	CallRecordsUpsert(ctx context.Context, calls []dialpad.Call) error
}

// TranscriptFetcher fetches the transcript of one call.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, callID string) (*dialpad.Transcript, error)
}

// TranscriptStore finds calls without transcripts and writes them.
type TranscriptStore interface {
	CallsMissingTranscript(ctx context.Context, since time.Time) ([]string, error)
	TranscriptsUpdate(ctx context.Context, patches []db.TranscriptPatch) error
}

// PricingClient runs LoanPASS pricing executions.
type PricingClient interface {
	ExecuteSummary(ctx context.Context) (*loanpass.Summary, error)
	ExecuteProduct(ctx context.Context, productID string) (*loanpass.ProductResult, error)
}

// ProductWriter upserts one product and its children.
type ProductWriter interface {
	ProductUpsert(ctx context.Context, p *loanpass.Product) (int64, error)
}

// Window is the started-at filter of a call run. A zero End is open ended.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow is the trailing window ending now.
func DefaultWindow(now time.Time, lookback time.Duration) Window {
	return Window{Start: now.Add(-lookback)}
}

// Validate checks the window bounds.
func (w Window) Validate() error {
	if w.Start.IsZero() {
		return errors.New("window start is not set")
	}
	if !w.End.IsZero() && !w.End.After(w.Start) {
		return errors.New("window end must be after its start")
	}
	return nil
}

// countFetchError records a fetch error by kind.
func countFetchError(pipeline string, err error) {
	kind, ok := rest.KindOf(err)
	if !ok {
		kind = "other"
	}
	metrics.FetchErrors.WithLabelValues(pipeline, string(kind)).Inc()
}
