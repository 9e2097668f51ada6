// Package app builds the emergency-response application from its
// configuration and runs it with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/config"
	"github.com/patric-chuzhbe/emergency/internal/ipchecker"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/locationwriter"
	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/metrics"
	"github.com/patric-chuzhbe/emergency/internal/ratelimit"
	"github.com/patric-chuzhbe/emergency/internal/router"
	"github.com/patric-chuzhbe/emergency/internal/service"
	"github.com/patric-chuzhbe/emergency/internal/storage"
)

const (
	shutdownTimeout       = 10 * time.Second
	limiterCleanupPeriod  = time.Minute
	limiterMaxIdle        = 10 * time.Minute
	serverlessDataDirMode = 0o755
)

// App owns the configuration, the storage, the background workers and the
// HTTP handler of a running service.
type App struct {
	cfg            *config.Config
	db             *storage.Store
	svc            *service.Service
	locationWriter *locationwriter.LocationWriter
	stopWorkers    context.CancelFunc
	httpHandler    http.Handler

	shutdownOnce sync.Once
	shutdownErr  error
}

type initOptions struct {
	cfg *config.Config
}

// InitOption customizes New.
type InitOption func(*initOptions)

// WithConfig uses cfg instead of loading the configuration from the environment.
func WithConfig(cfg *config.Config) InitOption {
	return func(options *initOptions) {
		options.cfg = cfg
	}
}

// New initializes a ready-to-serve App:
// - loads the configuration unless one is given
// - initializes the logger
// - prepares the serverless data directory
// - opens and migrates the database
// - starts the location writer
// - builds sessions, route groups and middleware
func New(optionsProto ...InitOption) (*App, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	var err error
	app := &App{cfg: options.cfg}
	if app.cfg == nil {
		app.cfg, err = config.New()
		if err != nil {
			return nil, err
		}
	}

	if err = logger.Init(app.cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `logger.Init()` calling: %w", err)
	}

	if app.cfg.SecretKey == config.DefaultSecretKey {
		logger.Log.Warnw("SECRET_KEY is not set, sessions are signed with the development key")
	}

	if app.cfg.IsServerless() {
		if err = os.MkdirAll(app.cfg.ServerlessDataDir, serverlessDataDirMode); err != nil {
			return nil, fmt.Errorf("in internal/app/app.go/New(): error while `os.MkdirAll()` calling: %w", err)
		}
	}

	logger.Log.Infow("opening database", "target", app.cfg.Target())
	app.db, err = storage.Open(context.Background(), app.cfg.DatabaseURI, app.cfg.DBConnectionTimeout)
	if err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `storage.Open()` calling: %w", err)
	}
	if err = app.db.Ping(context.Background()); err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `app.db.Ping()` calling: %w", err)
	}

	checker, err := ipchecker.New(app.cfg.TrustedSubnet, ipchecker.WithTrustedProxies(app.cfg.TrustedProxies...))
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	app.stopWorkers = stopWorkers

	app.locationWriter = locationwriter.New(
		app.db,
		app.cfg.LocationQueueCapacity,
		app.cfg.LocationFlushInterval,
	)
	app.locationWriter.Run(workersCtx)
	app.locationWriter.ListenErrors(func(err error) {
		logger.Log.Errorw("Error passed from the `app.locationWriter.ListenErrors()`", zap.Error(err))
	})

	loginLimiter := ratelimit.New(
		app.cfg.LoginRateLimit,
		app.cfg.LoginRateBurst,
		ratelimit.WithClientKey(checker.ClientKey),
	)
	loginLimiter.StartCleanup(workersCtx, limiterCleanupPeriod, limiterMaxIdle)

	hub := livefeed.NewHub()
	app.svc = service.New(app.db, app.locationWriter, hub)

	sessions := auth.New(
		app.db,
		app.cfg.AuthCookieName,
		[]byte(app.cfg.SecretKey),
		auth.WithLifetime(app.cfg.SessionLifetime),
		auth.WithSecureCookies(app.cfg.SecureCookies),
	)

	app.httpHandler = router.New(
		app.svc,
		sessions,
		hub,
		router.WithMetrics(metrics.New(), checker),
		router.WithLoginLimiter(loginLimiter),
	)

	return app, nil
}

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler {
	return a.httpHandler
}

// Service exposes the use cases for command-line tooling.
func (a *App) Service() *service.Service {
	return a.svc
}

// Run starts the HTTP server and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.RunContext(ctx)
}

// RunContext serves HTTP until ctx is done, then shuts the server down,
// flushes pending locations and closes the database.
func (a *App) RunContext(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.RunAddr)
	if err != nil {
		_ = a.Shutdown()
		return fmt.Errorf("in internal/app/app.go/RunContext(): error while `net.Listen()` calling: %w", err)
	}

	logger.Log.Infoln("server running", "RunAddr", listener.Addr().String())

	server := &http.Server{
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Flushing locations and exiting...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := server.Shutdown(shutdownCtx)
		closeErr := a.Shutdown()
		if shutdownErr != nil {
			return fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
		return closeErr
	case err := <-serverErrCh:
		closeErr := a.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return closeErr
		}
		return errors.Join(fmt.Errorf("server error: %w", err), closeErr)
	}
}

// Shutdown stops the background workers, waits for the final location
// flush and closes the database. Later calls return the first result.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.stopWorkers()
		a.locationWriter.Wait()
		a.shutdownErr = a.db.Close()
	})
	return a.shutdownErr
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}
