// ABOUTME: Gateway orchestrator that wires the store, vendors, dispatcher, and job workers
// ABOUTME: Owns the HTTP server lifecycle on a TCP or Tailscale listener

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/auth"
	"github.com/2389/slack-pulse/internal/blob"
	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/dedupe"
	"github.com/2389/slack-pulse/internal/dispatch"
	"github.com/2389/slack-pulse/internal/jobs"
	"github.com/2389/slack-pulse/internal/llm"
	"github.com/2389/slack-pulse/internal/messaging"
	"github.com/2389/slack-pulse/internal/metrics"
	"github.com/2389/slack-pulse/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	oauthStateTTL   = 10 * time.Minute
	dedupeMaxSize   = 100_000
)

// Deps are the gateway's swappable collaborators. New builds real ones
// from config; tests pass fakes to Assemble.
type Deps struct {
	Store     store.Store
	Connector messaging.Connector
	LLM       llm.Completer
	// Blob may be nil when image uploads are not configured.
	Blob    blob.Store
	OAuth   messaging.OAuthExchanger
	Metrics *metrics.Metrics
}

// Gateway runs the Slack webhook server and the analysis workers.
type Gateway struct {
	config      *config.Config
	store       store.Store
	queue       *jobs.Queue
	analysis    *analysis.Job
	dispatcher  *dispatch.Dispatcher
	oauth       messaging.OAuthExchanger
	tokens      *auth.JWTVerifier
	metrics     *metrics.Metrics
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// OpenStore opens the configured SQLite database.
func OpenStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PULSE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStoreWithOptions(store.Options{
		Driver:        cfg.Database.Driver,
		Path:          dbPath,
		EncryptionKey: cfg.Database.EncryptionKey,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New builds a gateway with real vendor clients from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	s, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	completer, err := llm.NewArk(ctx, cfg.LLM, logger, m)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	var blobs blob.Store
	if cfg.Analysis.ImageMode == config.ImageModeUpload {
		s3Store, err := blob.NewS3StoreFromConfig(ctx, cfg.Blob, logger, m)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating blob store: %w", err)
		}
		blobs = s3Store
	}

	connector := messaging.NewSlackConnector(messaging.SlackOptions{
		APIURL:    cfg.Slack.APIURL,
		RateLimit: cfg.Slack.RateLimit,
		RateBurst: cfg.Slack.RateBurst,
		Timeout:   cfg.Slack.RequestTimeout,
		Logger:    logger,
		Metrics:   m,
	})

	var oauth messaging.OAuthExchanger
	if cfg.Slack.ClientID != "" {
		oauth = &messaging.SlackOAuth{
			ClientID:     cfg.Slack.ClientID,
			ClientSecret: cfg.Slack.ClientSecret,
			Timeout:      cfg.Slack.RequestTimeout,
		}
	}

	gw, err := Assemble(cfg, Deps{
		Store:     s,
		Connector: connector,
		LLM:       completer,
		Blob:      blobs,
		OAuth:     oauth,
		Metrics:   m,
	}, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return gw, nil
}

// Assemble wires deps into a gateway without opening any listener.
func Assemble(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var tokens *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		tokens = v
	} else {
		logger.Warn("auth.jwt_secret not set: admin API and install state checks disabled")
	}

	queue := jobs.New(deps.Store, jobs.Options{
		Workers:      cfg.Jobs.Workers,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		PollInterval: cfg.Jobs.PollInterval,
		Timeout:      cfg.Jobs.Timeout,
		RetryBackoff: cfg.Jobs.RetryBackoff,
		Logger:       logger,
		Metrics:      deps.Metrics,
	})

	job := analysis.New(deps.Store, deps.Connector, deps.LLM, deps.Blob, analysis.Options{
		HistoryLimit:  cfg.Slack.HistoryLimit,
		ImageMode:     cfg.Analysis.ImageMode,
		VisionEnabled: cfg.Analysis.VisionEnabled(),
		Bucket:        cfg.Blob.Bucket,
		Logger:        logger,
	})
	queue.Register(analysis.JobName, job.Handle)

	dispatcher := dispatch.New(dispatch.Config{
		SigningSecret: cfg.Slack.SigningSecret,
		MaxRequestAge: cfg.Slack.MaxRequestAge,
		MentionDepth:  cfg.Slack.MentionDepth,
		VisionEnabled: cfg.Analysis.VisionEnabled(),
	}, dispatch.Deps{
		Store:     deps.Store,
		Connector: deps.Connector,
		LLM:       deps.LLM,
		Queue:     queue,
		Dedupe:    dedupe.NewFilter(cfg.Slack.DedupeTTL, dedupeMaxSize),
		Logger:    logger,
		Metrics:   deps.Metrics,
	})

	gw := &Gateway{
		config:     cfg,
		store:      deps.Store,
		queue:      queue,
		analysis:   job,
		dispatcher: dispatcher,
		oauth:      deps.OAuth,
		tokens:     tokens,
		metrics:    deps.Metrics,
		logger:     logger.With("component", "gateway"),
	}
	gw.handler = gw.routes()
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Queue returns the job queue, for callers that enqueue outside HTTP.
func (g *Gateway) Queue() *jobs.Queue {
	return g.queue
}

// Analysis returns the sentiment job, for running it synchronously.
func (g *Gateway) Analysis() *analysis.Job {
	return g.analysis
}

func (g *Gateway) listen(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.listenTailscale(ctx)
	}
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the workers and HTTP server and blocks until ctx is canceled
// or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.listen(ctx)
	if err != nil {
		return err
	}

	if err := g.queue.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting job workers: %w", err)
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})
	return grp.Wait()
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, drains workers, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "job workers", g.queue.Stop(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Store returns the gateway's store.
func (g *Gateway) Store() store.Store {
	return g.store
}
