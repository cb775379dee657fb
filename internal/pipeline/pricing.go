package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lendz/syncer/internal/archive"
	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/metrics"
)

// Archive prefixes for LoanPASS responses.
const (
	SummaryArchivePrefix = "loanpass_summary"
	ProductArchivePrefix = "loanpass_product"
)

// PricingResult summarises one pricing sync.
type PricingResult struct {
	Products        int
	Written         int
	Failed          int
	SkippedFields   int
	ArchiveFailures int
}

// PricingSync pulls the pricing summary and then each product's full pricing result,
// writing every product in its own transaction.
type PricingSync struct {
	limiter  Limiter
	client   PricingClient
	archiver Archiver
	writer   ProductWriter
	now      func() time.Time
	log      *slog.Logger
}

// NewPricingSync makes a PricingSync.
func NewPricingSync(limiter Limiter, client PricingClient, archiver Archiver, writer ProductWriter, logger *slog.Logger) *PricingSync {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PricingSync{
		limiter:  limiter,
		client:   client,
		archiver: archiver,
		writer:   writer,
		now:      time.Now,
		log:      logger,
	}
}

// Run syncs every product in the summary. A failure of the summary request fails the
// run; a failure on one product is logged and its siblings continue.
func (p *PricingSync) Run(ctx context.Context) (*PricingResult, error) {
	started := p.now()
	state := StateFailed
	defer func() {
		metrics.RunsTotal.WithLabelValues(Pricing, string(state)).Inc()
		metrics.RunDuration.WithLabelValues(Pricing).Observe(p.now().Sub(started).Seconds())
	}()

	res := &PricingResult{}
	if err := p.limiter.Acquire(ctx); err != nil {
		return res, fmt.Errorf("rate limiter: %w", err)
	}
	summary, err := p.client.ExecuteSummary(ctx)
	if err != nil {
		countFetchError(Pricing, err)
		p.log.Error(fmt.Sprintf("PricingSync.Run: summary: %v", err))
		return res, fmt.Errorf("execute summary: %w", err)
	}
	metrics.PagesFetched.WithLabelValues(Pricing).Inc()
	p.archive(ctx, SummaryArchivePrefix, 0, summary.Body, res)

	seq := 0
	for _, ps := range summary.ProductResults {
		if ps.ProductID == "" {
			p.log.Warn("PricingSync.Run: summary entry without product id", "product_code", ps.ProductCode)
			continue
		}
		res.Products++
		seq++
		if err := p.syncProduct(ctx, ps.ProductID, seq, res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			p.log.Error(fmt.Sprintf("PricingSync.Run: product %s: %v", ps.ProductID, err))
			continue
		}
		res.Written++
	}

	state = StateDone
	p.log.Info("PricingSync.Run: done",
		"products", res.Products, "written", res.Written, "failed", res.Failed)
	return res, nil
}

// syncProduct fetches, archives and writes one product.
func (p *PricingSync) syncProduct(ctx context.Context, productID string, seq int, res *PricingResult) error {
	if err := p.limiter.Acquire(ctx); err != nil {
		return err
	}
	pr, err := p.client.ExecuteProduct(ctx, productID)
	if err != nil {
		countFetchError(Pricing, err)
		return err
	}
	metrics.PagesFetched.WithLabelValues(Pricing).Inc()
	p.archive(ctx, ProductArchivePrefix, seq, pr.Body, res)

	for _, s := range pr.Skipped {
		res.SkippedFields++
		metrics.RecordsSkipped.WithLabelValues("loanpass").Inc()
		p.log.Warn(fmt.Sprintf("PricingSync.Run: product %s skipped %v", pr.Product.ProductCode, s))
	}

	if _, err := p.writer.ProductUpsert(ctx, pr.Product); err != nil {
		return err
	}
	metrics.RecordsWritten.WithLabelValues("product_offering").Inc()
	return nil
}

func (p *PricingSync) archive(ctx context.Context, prefix string, seq int, body []byte, res *PricingResult) {
	name := archive.ObjectName(prefix, p.now(), seq)
	if err := p.archiver.Archive(ctx, name, body); err != nil {
		res.ArchiveFailures++
		metrics.ArchiveFailures.WithLabelValues(Pricing).Inc()
		p.log.Warn(fmt.Sprintf("PricingSync.Run: archive %s: %v", name, err))
	}
}
