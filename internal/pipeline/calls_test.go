package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lendz/syncer/apiclients/dialpad"
	"github.com/lendz/syncer/apiclients/rest"
)

// scriptedFetcher serves pages in order and records the cursors it was asked for.
type scriptedFetcher struct {
	pages   []*dialpad.CallPage
	errs    []error
	cursors []string
}

func (f *scriptedFetcher) FetchCalls(_ context.Context, cursor string, _, _ time.Time) (*dialpad.CallPage, error) {
	i := len(f.cursors)
	f.cursors = append(f.cursors, cursor)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.pages) {
		return nil, errors.New("no more scripted pages")
	}
	return f.pages[i], nil
}

var started = time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

func window() Window {
	return Window{Start: started.Add(-2 * time.Hour)}
}

func TestCallDriverTwoPages(t *testing.T) {
	warehouse := newTestDB(t)
	fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{
		{Cursor: "abc", Items: rawCalls(started, "1", "2"), Body: []byte(`{"page":1}`)},
		{Cursor: "", Items: rawCalls(started, "3"), Body: []byte(`{"page":2}`)},
	}}
	limiter := &fakeLimiter{}
	archiver := &fakeArchiver{}

	d := NewCallDriver(limiter, fetcher, archiver, warehouse, 0, nil)
	res, err := d.Run(context.Background(), window())
	if err != nil {
		t.Fatal(err)
	}

	want := &Result{State: StateDone, Pages: 2, Fetches: 2, Written: 3}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"", "abc"}, fetcher.cursors); diff != "" {
		t.Errorf("cursor chain mismatch (-want +got):\n%s", diff)
	}
	if got, want := limiter.calls, 2; got != want {
		t.Errorf("limiter acquisitions got %d want %d", got, want)
	}
	if got := countRows(t, warehouse, "call_records"); got != 3 {
		t.Errorf("rows got %d want 3", got)
	}
	if len(archiver.names) != 2 || archiver.names[0] == archiver.names[1] {
		t.Fatalf("expected two distinct archive objects, got %v", archiver.names)
	}
	for _, n := range archiver.names {
		if !strings.HasPrefix(n, CallArchivePrefix+"_") || !strings.HasSuffix(n, ".json") {
			t.Errorf("unexpected archive name %q", n)
		}
	}

	// A second run over the same window adds no rows.
	fetcher.cursors = nil
	if _, err := d.Run(context.Background(), window()); err != nil {
		t.Fatal(err)
	}
	if got := countRows(t, warehouse, "call_records"); got != 3 {
		t.Errorf("rows after re-run got %d want 3", got)
	}
}

func TestCallDriverHTTP500(t *testing.T) {
	warehouse := newTestDB(t)

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := dialpad.NewAPIClient(server.URL, server.Client(), nil)
	d := NewCallDriver(&fakeLimiter{}, client, &fakeArchiver{}, warehouse, 0, nil)

	res, err := d.Run(context.Background(), window())
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *rest.FetchError
	if !errors.As(err, &fe) || fe.Kind != rest.KindHTTPStatus || fe.StatusCode != 500 {
		t.Errorf("expected http_status fetch error, got %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("state got %s want FAILED", res.State)
	}
	if res.Fetches != 1 || requests != 1 {
		t.Errorf("expected exactly one fetch, got %d (%d requests)", res.Fetches, requests)
	}
	if got := countRows(t, warehouse, "call_records"); got != 0 {
		t.Errorf("rows got %d want 0", got)
	}
}

func TestCallDriverSkipsBadRecord(t *testing.T) {
	warehouse := newTestDB(t)
	fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{
		{Items: rawCalls(started, "1", "2", "", "4", "5")},
	}}
	d := NewCallDriver(&fakeLimiter{}, fetcher, &fakeArchiver{}, warehouse, 0, nil)

	res, err := d.Run(context.Background(), window())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateDone || res.Written != 4 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := countRows(t, warehouse, "call_records"); got != 4 {
		t.Errorf("rows got %d want 4", got)
	}
}

func TestCallDriverPartialFailureKeepsEarlierPages(t *testing.T) {
	warehouse := newTestDB(t)
	fetcher := &scriptedFetcher{
		pages: []*dialpad.CallPage{{Cursor: "next", Items: rawCalls(started, "1", "2")}},
		errs:  []error{nil, &rest.FetchError{Kind: rest.KindTransport, Err: errBoom}},
	}
	d := NewCallDriver(&fakeLimiter{}, fetcher, &fakeArchiver{}, warehouse, 0, nil)

	res, err := d.Run(context.Background(), window())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if res.State != StateFailed || res.Fetches != 2 || res.Written != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := countRows(t, warehouse, "call_records"); got != 2 {
		t.Errorf("rows got %d want 2", got)
	}
}

func TestCallDriverArchiveFailureIsNotFatal(t *testing.T) {
	warehouse := newTestDB(t)
	fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{
		{Cursor: "abc", Items: rawCalls(started, "1")},
		{Items: rawCalls(started, "2")},
	}}
	d := NewCallDriver(&fakeLimiter{}, fetcher, &fakeArchiver{err: errBoom}, warehouse, 0, nil)

	res, err := d.Run(context.Background(), window())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateDone || res.ArchiveFailures != 2 || res.Written != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCallDriverSafetyValves(t *testing.T) {
	page := func(cursor string) *dialpad.CallPage {
		return &dialpad.CallPage{Cursor: cursor, Items: rawCalls(started, cursor)}
	}

	t.Run("cursor loop", func(t *testing.T) {
		fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{page("same"), page("same"), page("same")}}
		d := NewCallDriver(&fakeLimiter{}, fetcher, &fakeArchiver{}, newTestDB(t), 0, nil)
		res, err := d.Run(context.Background(), window())
		if !errors.Is(err, ErrCursorLoop) {
			t.Fatalf("expected ErrCursorLoop, got %v", err)
		}
		if res.State != StateFailed || res.Fetches != 2 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("max pages", func(t *testing.T) {
		fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{page("a"), page("b"), page("c")}}
		d := NewCallDriver(&fakeLimiter{}, fetcher, &fakeArchiver{}, newTestDB(t), 2, nil)
		res, err := d.Run(context.Background(), window())
		if !errors.Is(err, ErrMaxPages) {
			t.Fatalf("expected ErrMaxPages, got %v", err)
		}
		if res.Pages != 2 || res.Written != 2 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("limiter cancelled", func(t *testing.T) {
		fetcher := &scriptedFetcher{pages: []*dialpad.CallPage{page("")}}
		d := NewCallDriver(&fakeLimiter{err: context.Canceled}, fetcher, &fakeArchiver{}, newTestDB(t), 0, nil)
		res, err := d.Run(context.Background(), window())
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
		if res.Fetches != 0 || len(fetcher.cursors) != 0 {
			t.Errorf("no fetch should happen before the limiter grants, got %+v", res)
		}
	})
}
