package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lendz/syncer/apiclients/dialpad"
	"github.com/lendz/syncer/db"
	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/metrics"
)

// Backfill defaults.
const (
	DefaultTranscriptLookback = 20 * time.Minute
	DefaultTranscriptBatch    = 100
)

// BackfillResult summarises one transcript backfill.
type BackfillResult struct {
	Candidates int
	Written    int
	Pending    int
	Failed     int
}

// Backfiller fills in transcripts for recent calls which lack one.
type Backfiller struct {
	limiter   Limiter
	fetcher   TranscriptFetcher
	store     TranscriptStore
	lookback  time.Duration
	batchSize int
	now       func() time.Time
	log       *slog.Logger
}

// NewBackfiller makes a Backfiller. Zero lookback or batchSize use the defaults.
func NewBackfiller(limiter Limiter, fetcher TranscriptFetcher, store TranscriptStore, lookback time.Duration, batchSize int, logger *slog.Logger) *Backfiller {
	if lookback <= 0 {
		lookback = DefaultTranscriptLookback
	}
	if batchSize <= 0 {
		batchSize = DefaultTranscriptBatch
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Backfiller{
		limiter:   limiter,
		fetcher:   fetcher,
		store:     store,
		lookback:  lookback,
		batchSize: batchSize,
		now:       time.Now,
		log:       logger,
	}
}

// Run backfills each batch of candidate calls, writing each batch in one transaction.
// A call whose transcript cannot be fetched, or is not ready yet, is skipped.
func (b *Backfiller) Run(ctx context.Context) (*BackfillResult, error) {
	started := b.now()
	state := StateFailed
	defer func() {
		metrics.RunsTotal.WithLabelValues(Transcripts, string(state)).Inc()
		metrics.RunDuration.WithLabelValues(Transcripts).Observe(b.now().Sub(started).Seconds())
	}()

	res := &BackfillResult{}
	since := started.Add(-b.lookback)
	ids, err := b.store.CallsMissingTranscript(ctx, since)
	if err != nil {
		return res, fmt.Errorf("find calls missing transcripts: %w", err)
	}
	res.Candidates = len(ids)
	b.log.Info("Backfiller.Run: start", "since", since.UTC(), "candidates", len(ids))

	for start := 0; start < len(ids); start += b.batchSize {
		end := min(start+b.batchSize, len(ids))

		var patches []db.TranscriptPatch
		for _, id := range ids[start:end] {
			text, ok, err := b.fetch(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				res.Failed++
				b.log.Warn(fmt.Sprintf("Backfiller.Run: transcript for call %s: %v", id, err))
				continue
			}
			if !ok {
				res.Pending++
				b.log.Debug(fmt.Sprintf("Backfiller.Run: no transcript yet for call %s", id))
				continue
			}
			patches = append(patches, db.TranscriptPatch{CallID: id, Text: text})
		}

		if err := b.store.TranscriptsUpdate(ctx, patches); err != nil {
			return res, fmt.Errorf("write transcript batch %d: %w", start/b.batchSize+1, err)
		}
		res.Written += len(patches)
		metrics.RecordsWritten.WithLabelValues("transcript").Add(float64(len(patches)))
	}

	state = StateDone
	b.log.Info("Backfiller.Run: done",
		"written", res.Written, "pending", res.Pending, "failed", res.Failed)
	return res, nil
}

// fetch returns the transcript text of one call, with ok false if the call has no
// transcript content yet.
func (b *Backfiller) fetch(ctx context.Context, callID string) (string, bool, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return "", false, err
	}
	tr, err := b.fetcher.FetchTranscript(ctx, callID)
	if err != nil {
		countFetchError(Transcripts, err)
		return "", false, err
	}
	metrics.PagesFetched.WithLabelValues(Transcripts).Inc()

	text, err := tr.Text()
	if errors.Is(err, dialpad.ErrNoTranscript) || strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
