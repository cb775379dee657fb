// Package app is the central orchestrator of the syncer. It loads configuration,
// acquires the resources of each run, runs the requested pipelines and releases the
// resources again, so that nothing outlives a run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lendz/syncer/apiclients/dialpad"
	"github.com/lendz/syncer/apiclients/loanpass"
	"github.com/lendz/syncer/config"
	"github.com/lendz/syncer/db"
	"github.com/lendz/syncer/internal/archive"
	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/mounts"
	"github.com/lendz/syncer/internal/pipeline"
	"github.com/lendz/syncer/internal/ratelimit"
	"github.com/lendz/syncer/internal/runlock"
	"github.com/lendz/syncer/web"

	"golang.org/x/sync/errgroup"
)

// App coordinates configuration, the API clients, the archive and the database.
type App struct {
	logOutput io.Writer
}

// New creates and returns a new App instance logging to stderr.
func New() *App {
	return &App{logOutput: os.Stderr}
}

// load reads the configuration and makes its logger.
func (a *App) load(cfgPath string) (*runner, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(a.logOutput, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &runner{cfg: cfg, log: logger, now: time.Now}, nil
}

// SyncCalls walks the Dialpad call list for the given window. A zero start uses the
// configured trailing lookback.
func (a *App) SyncCalls(ctx context.Context, cfgPath string, start, end time.Time) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	return r.Run(ctx, pipeline.Calls, pipeline.Window{Start: start, End: end})
}

// SyncTranscripts backfills transcripts for recent calls.
func (a *App) SyncTranscripts(ctx context.Context, cfgPath string) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	return r.Run(ctx, pipeline.Transcripts, pipeline.Window{})
}

// SyncPricing syncs LoanPASS product pricing.
func (a *App) SyncPricing(ctx context.Context, cfgPath string) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	return r.Run(ctx, pipeline.Pricing, pipeline.Window{})
}

// SyncAll runs the call and pricing pipelines concurrently and then the transcript
// backfill.
func (a *App) SyncAll(ctx context.Context, cfgPath string) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	return r.runAll(ctx)
}

// Serve runs the trigger server until ctx is cancelled.
func (a *App) Serve(ctx context.Context, cfgPath string) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	webApp, err := web.New(r.log, r.cfg.Web.ListenAddress, r)
	if err != nil {
		return err
	}
	return webApp.StartServer(ctx)
}

// InitDB creates the database schema.
func (a *App) InitDB(ctx context.Context, cfgPath string) error {
	r, err := a.load(cfgPath)
	if err != nil {
		return err
	}
	database, err := r.openDB(ctx)
	if err != nil {
		return err
	}
	r.log.Info(fmt.Sprintf("database initialised at %s", r.cfg.DatabasePath))
	return database.Close()
}

// ExportSQL writes the embedded sql files to dir/sql for editing. Point sql_dir in the
// configuration at the result to use the edited files.
func (a *App) ExportSQL(ctx context.Context, dir string) error {
	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		return err
	}
	written, err := sqlFS.Materialize(dir)
	if err != nil {
		return err
	}
	for _, f := range written {
		fmt.Fprintln(a.logOutput, f)
	}
	return nil
}

// runner runs pipelines against one configuration. It implements web.Runner.
type runner struct {
	cfg *config.Config
	log *slog.Logger
	now func() time.Time
}

// resources are shared by the pipelines of one run.
type resources struct {
	db       *db.DB
	archiver archive.Archiver
}

// Run runs the named pipeline under its run lock.
func (r *runner) Run(ctx context.Context, name string, w pipeline.Window) error {
	unlock, err := r.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	res, closeAll, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	switch name {
	case pipeline.Calls:
		return r.runCalls(ctx, res, w)
	case pipeline.Transcripts:
		return r.runTranscripts(ctx, res)
	case pipeline.Pricing:
		return r.runPricing(ctx, res)
	default:
		return fmt.Errorf("unknown pipeline %q", name)
	}
}

// runAll shares one database handle and archiver between all three pipelines.
func (r *runner) runAll(ctx context.Context) error {
	for _, name := range []string{pipeline.Calls, pipeline.Pricing, pipeline.Transcripts} {
		unlock, err := r.lock(ctx, name)
		if err != nil {
			return err
		}
		defer unlock()
	}

	res, closeAll, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	var g errgroup.Group
	g.Go(func() error {
		return r.runCalls(ctx, res, pipeline.Window{})
	})
	g.Go(func() error {
		return r.runPricing(ctx, res)
	})
	loadErr := g.Wait()
	if ctx.Err() != nil {
		return errors.Join(loadErr, ctx.Err())
	}
	return errors.Join(loadErr, r.runTranscripts(ctx, res))
}

// lock acquires the run lock for name, returning its release func.
func (r *runner) lock(ctx context.Context, name string) (func(), error) {
	var locker runlock.Locker = runlock.Noop{}
	if r.cfg.Redis.Addr != "" {
		rl, err := runlock.NewRedis(ctx, r.cfg.Redis.Addr, r.cfg.Redis.Password, r.cfg.Redis.DB, r.cfg.Redis.LockTTL, r.log)
		if err != nil {
			return nil, fmt.Errorf("run lock: %w", err)
		}
		locker = rl
	}
	lock, err := locker.Acquire(ctx, name)
	if err != nil {
		_ = locker.Close()
		return nil, fmt.Errorf("%s run lock: %w", name, err)
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn(fmt.Sprintf("could not release %s run lock: %v", name, err))
		}
		_ = locker.Close()
	}, nil
}

// open acquires the database and archiver of a run.
func (r *runner) open(ctx context.Context) (*resources, func(), error) {
	database, err := r.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	archiver, err := archive.New(ctx, r.cfg.Archive.Options(), r.log)
	if err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("archive: %w", err)
	}
	closeAll := func() {
		if err := archiver.Close(); err != nil {
			r.log.Warn(fmt.Sprintf("archive close: %v", err))
		}
		if err := database.Close(); err != nil {
			r.log.Warn(fmt.Sprintf("database close: %v", err))
		}
	}
	return &resources{db: database, archiver: archiver}, closeAll, nil
}

// openDB opens the database using the embedded sql files, or those in cfg.SQLDir.
func (r *runner) openDB(ctx context.Context) (*db.DB, error) {
	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, r.cfg.SQLDir)
	if err != nil {
		return nil, err
	}
	if sqlFS.FromDisk {
		r.log.Info(fmt.Sprintf("using sql files from %s", r.cfg.SQLDir))
	}
	database, err := db.NewConnection(ctx, r.cfg.DatabasePath, sqlFS, r.log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return database, nil
}

// limiter makes a fresh limiter for one pipeline.
func (r *runner) limiter() (*ratelimit.Limiter, error) {
	return ratelimit.New(r.cfg.RateLimit.MaxPerWindow, r.cfg.RateLimit.Window, r.log)
}

// httpClient is the base client wrapped by each bearer token.
func (r *runner) httpClient() *http.Client {
	return &http.Client{Timeout: r.cfg.HTTPTimeout}
}

func (r *runner) runCalls(ctx context.Context, res *resources, w pipeline.Window) error {
	if r.cfg.Dialpad.Token == nil {
		return errors.New("dialpad api_token is not configured")
	}
	if w.Start.IsZero() {
		if !w.End.IsZero() {
			return errors.New("a window end requires a start")
		}
		w = pipeline.DefaultWindow(r.now(), r.cfg.Dialpad.Lookback)
	}
	limiter, err := r.limiter()
	if err != nil {
		return err
	}
	client := dialpad.NewAPIClient(r.cfg.Dialpad.BaseURL, r.cfg.Dialpad.Token.Client(ctx, r.httpClient()), r.log)
	driver := pipeline.NewCallDriver(limiter, client, res.archiver, res.db, r.cfg.Dialpad.MaxPages, r.log)

	result, err := driver.Run(ctx, w)
	if result != nil {
		r.log.Info("calls run finished",
			"state", result.State, "pages", result.Pages, "written", result.Written,
			"skipped", result.Skipped, "archive_failures", result.ArchiveFailures)
	}
	return err
}

func (r *runner) runTranscripts(ctx context.Context, res *resources) error {
	if r.cfg.Dialpad.Token == nil {
		return errors.New("dialpad api_token is not configured")
	}
	limiter, err := r.limiter()
	if err != nil {
		return err
	}
	client := dialpad.NewAPIClient(r.cfg.Dialpad.BaseURL, r.cfg.Dialpad.Token.Client(ctx, r.httpClient()), r.log)
	backfiller := pipeline.NewBackfiller(limiter, client, res.db,
		r.cfg.Dialpad.TranscriptLookback, r.cfg.Dialpad.TranscriptBatchSize, r.log)

	_, err = backfiller.Run(ctx)
	return err
}

func (r *runner) runPricing(ctx context.Context, res *resources) error {
	if r.cfg.LoanPASS.Token == nil {
		return errors.New("loanpass api_token is not configured")
	}
	limiter, err := r.limiter()
	if err != nil {
		return err
	}
	client := loanpass.NewAPIClient(r.cfg.LoanPASS.BaseURL, r.cfg.LoanPASS.PricingProfileID,
		r.cfg.LoanPASS.Token.Client(ctx, r.httpClient()), r.log)
	pricing := pipeline.NewPricingSync(limiter, client, res.archiver, res.db, r.log)

	result, err := pricing.Run(ctx)
	if result != nil {
		r.log.Info("pricing run finished",
			"products", result.Products, "written", result.Written, "failed", result.Failed)
	}
	return err
}
