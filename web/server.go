package web

// This file describes the trigger server. Schedulers that cannot run the syncer binary
// directly POST to /run/{pipeline}; the run proceeds in the background and the request
// returns 202 Accepted, or 409 Conflict if that pipeline is already running in this
// process.
//
// Each endpoint handler is built by a func returning an http.Handler so that the router
// can provide arguments to the handler, as discussed in Mat Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// Helper functions, such as `ServerError` and `clientError` are at the end of the file.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lendz/syncer/internal/logging"
	"github.com/lendz/syncer/internal/pipeline"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the graceful shutdown of the http server.
const shutdownTimeout = 10 * time.Second

// Runner runs one pipeline to completion.
type Runner interface {
	Run(ctx context.Context, name string, w pipeline.Window) error
}

// WebApp is the configuration object for the trigger server.
type WebApp struct {
	log     *slog.Logger
	runner  Runner
	running map[string]*atomic.Bool
	runs    sync.WaitGroup
	runCtx  context.Context // parent of background runs
	server  *http.Server
}

// New initialises a WebApp listening on addr.
func New(logger *slog.Logger, addr string, runner Runner) (*WebApp, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if runner == nil {
		return nil, errors.New("no pipeline runner provided")
	}
	if addr == "" {
		return nil, errors.New("no listen address provided")
	}

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      30 * time.Second,
		MaxHeaderBytes:    1 << 19,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	webApp := &WebApp{
		log:    logger,
		runner: runner,
		running: map[string]*atomic.Bool{
			pipeline.Calls:       new(atomic.Bool),
			pipeline.Transcripts: new(atomic.Bool),
			pipeline.Pricing:     new(atomic.Bool),
		},
		runCtx: context.Background(),
		server: server,
	}
	return webApp, nil
}

// StartServer serves until ctx is cancelled, then shuts the server down and waits for
// background runs to finish. Runs in flight see their context cancelled.
func (web *WebApp) StartServer(ctx context.Context) error {
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	web.runCtx = runCtx
	web.server.Handler = web.routes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		web.log.Info(fmt.Sprintf("Starting server on %s", web.server.Addr))
		if err := web.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := web.server.Shutdown(shutdownCtx)
		cancelRuns()
		web.runs.Wait()
		web.log.Info("server stopped")
		return err
	})
	return g.Wait()
}

// Wait blocks until all background runs have finished.
func (web *WebApp) Wait() {
	web.runs.Wait()
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()

	r.Handle("/healthz", web.handleHealth()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle(
		"/run/{pipeline:(?:calls|transcripts|pricing)}",
		web.handleRun(),
	).Methods(http.MethodPost)

	errorLog := slog.NewLogLogger(web.log.Handler(), slog.LevelError)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(errorLog),
		handlers.PrintRecoveryStack(true),
	)(r)

	accessLog := slog.NewLogLogger(web.log.Handler(), slog.LevelInfo)
	return handlers.LoggingHandler(accessLog.Writer(), recovery)
}

// handleHealth reports liveness.
func (web *WebApp) handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
}

// runResponse is the body of an accepted run.
type runResponse struct {
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
}

// handleRun starts the named pipeline in the background.
func (web *WebApp) handleRun() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		name := mux.Vars(r)["pipeline"]
		running, ok := web.running[name]
		if !ok {
			web.notFound(w, r, fmt.Sprintf("unknown pipeline %q", name))
			return
		}

		form := &RunForm{}
		if err := DecodeForm(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}
		validator := NewValidator()
		form.Validate(validator)
		if !validator.Valid() {
			web.clientError(w, validator.String(), http.StatusBadRequest)
			return
		}
		window := form.Window()

		if !running.CompareAndSwap(false, true) {
			web.clientError(w, fmt.Sprintf("%s run already in progress", name), http.StatusConflict)
			return
		}

		web.runs.Add(1)
		go func() {
			defer web.runs.Done()
			defer running.Store(false)
			if err := web.runner.Run(web.runCtx, name, window); err != nil {
				web.log.Error("triggered run failed", "pipeline", name, "err", err)
				return
			}
			web.log.Info("triggered run finished", "pipeline", name)
		}()

		resp := runResponse{Pipeline: name, Status: "accepted"}
		if !window.Start.IsZero() {
			resp.Start = window.Start.Format(time.RFC3339)
		}
		if !window.End.IsZero() {
			resp.End = window.End.Format(time.RFC3339)
		}
		web.renderJSON(w, r, http.StatusAccepted, resp)
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// renderJSON encodes data before writing the status so that an encoding failure can
// still be reported as a server error.
func (web *WebApp) renderJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		web.ServerError(w, r, fmt.Errorf("json encoding error: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// ServerError logs and return an internal server error. The error should contain the
// information needed for logging.
func (web *WebApp) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	http.Error(w, message, status)
}

// notfound raises a 404 clientError.
func (web *WebApp) notFound(w http.ResponseWriter, r *http.Request, message string) {
	web.clientError(w, message, http.StatusNotFound)
}
