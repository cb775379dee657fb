package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lendz/syncer/apiclients/dialpad"
	"github.com/lendz/syncer/internal/archive"
	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/metrics"
)

// CallArchivePrefix prefixes archived call pages.
const CallArchivePrefix = "dialpad_response_page"

// Result summarises one pagination run.
type Result struct {
	State           State
	Pages           int
	Fetches         int
	Written         int
	Skipped         int
	ArchiveFailures int
}

// CallDriver walks the Dialpad call list page by page, archiving each raw page and
// upserting its records before following the cursor.
type CallDriver struct {
	limiter  Limiter
	fetcher  CallFetcher
	archiver Archiver
	writer   CallWriter
	maxPages int
	now      func() time.Time
	log      *slog.Logger
}

// NewCallDriver makes a CallDriver. maxPages of 0 leaves the run bounded only by the
// upstream cursor chain.
func NewCallDriver(limiter Limiter, fetcher CallFetcher, archiver Archiver, writer CallWriter, maxPages int, logger *slog.Logger) *CallDriver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CallDriver{
		limiter:  limiter,
		fetcher:  fetcher,
		archiver: archiver,
		writer:   writer,
		maxPages: maxPages,
		now:      time.Now,
		log:      logger,
	}
}

// Run pages through the window until the API returns no cursor. Rows from pages
// written before a failure stay committed.
func (d *CallDriver) Run(ctx context.Context, w Window) (*Result, error) {
	if err := w.Validate(); err != nil {
		return &Result{State: StateFailed}, err
	}

	res := &Result{State: StateStart}
	started := d.now()
	defer func() {
		metrics.RunsTotal.WithLabelValues(Calls, string(res.State)).Inc()
		metrics.RunDuration.WithLabelValues(Calls).Observe(d.now().Sub(started).Seconds())
	}()

	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		d.log.Error(fmt.Sprintf("CallDriver.Run: %v", err), "pages", res.Pages, "written", res.Written)
		return res, err
	}

	d.log.Info("CallDriver.Run: start", "start", w.Start.UTC(), "end", w.End.UTC())

	cursor := ""
	seen := map[string]bool{}
	for {
		if d.maxPages > 0 && res.Pages >= d.maxPages {
			return fail(fmt.Errorf("after %d pages: %w", res.Pages, ErrMaxPages))
		}

		res.State = StateFetching
		if err := d.limiter.Acquire(ctx); err != nil {
			return fail(fmt.Errorf("rate limiter: %w", err))
		}
		res.Fetches++
		page, err := d.fetcher.FetchCalls(ctx, cursor, w.Start, w.End)
		if err != nil {
			countFetchError(Calls, err)
			return fail(fmt.Errorf("fetch page %d: %w", res.Pages+1, err))
		}
		res.Pages++
		metrics.PagesFetched.WithLabelValues(Calls).Inc()

		res.State = StateArchiving
		name := archive.ObjectName(CallArchivePrefix, d.now(), res.Pages)
		if err := d.archiver.Archive(ctx, name, page.Body); err != nil {
			res.ArchiveFailures++
			metrics.ArchiveFailures.WithLabelValues(Calls).Inc()
			d.log.Warn(fmt.Sprintf("CallDriver.Run: archive %s: %v", name, err))
		}

		res.State = StateWriting
		calls := d.mapPage(page, res)
		if err := d.writer.CallRecordsUpsert(ctx, calls); err != nil {
			return fail(fmt.Errorf("write page %d: %w", res.Pages, err))
		}
		res.Written += len(calls)
		metrics.RecordsWritten.WithLabelValues("call_record").Add(float64(len(calls)))

		if page.Cursor == "" {
			res.State = StateDone
			d.log.Info("CallDriver.Run: done",
				"pages", res.Pages, "written", res.Written, "skipped", res.Skipped)
			return res, nil
		}
		if seen[page.Cursor] {
			return fail(fmt.Errorf("cursor %q: %w", page.Cursor, ErrCursorLoop))
		}
		seen[page.Cursor] = true
		cursor = page.Cursor
		res.State = StateContinue
	}
}

// mapPage decodes the records of a page, skipping and logging those which cannot be
// mapped.
func (d *CallDriver) mapPage(page *dialpad.CallPage, res *Result) []dialpad.Call {
	calls := make([]dialpad.Call, 0, len(page.Items))
	for i, raw := range page.Items {
		c, err := dialpad.DecodeCall(raw)
		if err != nil {
			res.Skipped++
			metrics.RecordsSkipped.WithLabelValues("call_record").Inc()
			d.log.Warn(fmt.Sprintf("CallDriver.Run: skip record %d of page %d: %v", i+1, res.Pages, err),
				"call_id", dialpad.CallIDOf(raw))
			continue
		}
		calls = append(calls, c)
	}
	return calls
}
