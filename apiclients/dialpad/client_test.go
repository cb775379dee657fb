package dialpad

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/lendz/syncer/apiclients/rest"
)

// setup creates a test environment for running API client tests. It returns a request
// multiplexer for registering handlers, the client configured to use the test server,
// and a teardown function to close the server.
func setup(t *testing.T) (mux *http.ServeMux, client *APIClient, teardown func()) {
	t.Helper()

	mux = http.NewServeMux()
	server := httptest.NewServer(mux)
	client = NewAPIClient(server.URL, server.Client(), nil)

	teardown = func() {
		server.Close()
	}
	return mux, client, teardown
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read json file %s: %v", name, err)
	}
	return b
}

func TestFetchCallsPagination(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	page1 := readTestdata(t, "calls_page1.json")
	page2 := readTestdata(t, "calls_page2.json")

	start := time.Date(2025, 2, 17, 20, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	var callCount int
	mux.HandleFunc("/call", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected method GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if got, want := q.Get("started_after"), strconv.FormatInt(start.UnixMilli(), 10); got != want {
			t.Errorf("started_after got %s want %s", got, want)
		}
		if got, want := q.Get("started_before"), strconv.FormatInt(end.UnixMilli(), 10); got != want {
			t.Errorf("started_before got %s want %s", got, want)
		}

		callCount++
		w.Header().Set("Content-Type", "application/json")
		switch callCount {
		case 1:
			if q.Has("cursor") {
				t.Errorf("first page should not send a cursor, got %q", q.Get("cursor"))
			}
			_, _ = w.Write(page1)
		case 2:
			if got, want := q.Get("cursor"), "76172bbc9c14e876fcc93f9345d08ce0-_-0"; got != want {
				t.Errorf("cursor got %q want %q", got, want)
			}
			_, _ = w.Write(page2)
		default:
			t.Fatalf("handler called too many times: %d", callCount)
		}
	})

	ctx := context.Background()
	first, err := client.FetchCalls(ctx, "", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(first.Items), 2; got != want {
		t.Errorf("page 1 items got %d want %d", got, want)
	}
	if got, want := string(first.Body), string(page1); got != want {
		t.Error("page 1 raw body was not preserved")
	}

	second, err := client.FetchCalls(ctx, first.Cursor, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(second.Items), 1; got != want {
		t.Errorf("page 2 items got %d want %d", got, want)
	}
	if second.Cursor != "" {
		t.Errorf("last page cursor should be empty, got %q", second.Cursor)
	}
}

func TestFetchCallsOpenWindow(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/call", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("started_before") {
			t.Errorf("open window should not send started_before")
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	page, err := client.FetchCalls(context.Background(), "", time.Now().Add(-2*time.Hour), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Cursor != "" || len(page.Items) != 0 {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestFetchCallsErrors(t *testing.T) {

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind rest.Kind
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal", http.StatusInternalServerError)
			},
			wantKind: rest.KindHTTPStatus,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"cursor": "x", "items": [`))
			},
			wantKind: rest.KindDecode,
		},
		{
			name: "items not a list",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"items": {"call_id": "1"}}`))
			},
			wantKind: rest.KindDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, client, teardown := setup(t)
			defer teardown()
			mux.HandleFunc("/call", tt.handler)

			_, err := client.FetchCalls(context.Background(), "", time.Now(), time.Time{})
			var fe *rest.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("kind got %s want %s", fe.Kind, tt.wantKind)
			}
		})
	}
}

func TestFetchTranscript(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	body := readTestdata(t, "transcript.json")
	mux.HandleFunc("/transcripts/5786930812076032", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/transcripts/404", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	tr, err := client.FetchTranscript(context.Background(), "5786930812076032")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tr.Lines), 4; got != want {
		t.Errorf("lines got %d want %d", got, want)
	}

	_, err = client.FetchTranscript(context.Background(), "404")
	if kind, _ := rest.KindOf(err); kind != rest.KindHTTPStatus {
		t.Errorf("expected http_status error, got %v", err)
	}
}
