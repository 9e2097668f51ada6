// Package router assembles the HTTP handler of the application: the common
// middleware stack, the top-level pages and the route groups mounted under
// their prefixes.
package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/gzippedhttp"
	"github.com/patric-chuzhbe/emergency/internal/handlers"
	"github.com/patric-chuzhbe/emergency/internal/ipchecker"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/metrics"
	"github.com/patric-chuzhbe/emergency/internal/ratelimit"
	"github.com/patric-chuzhbe/emergency/internal/service"
	"github.com/patric-chuzhbe/emergency/internal/views"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Router holds the dependencies of the top-level routes.
type Router struct {
	db       pinger
	sessions *auth.Auth
}

type initOptions struct {
	metrics      *metrics.Metrics
	ipChecker    *ipchecker.IPChecker
	loginLimiter *ratelimit.RateLimiter
}

// InitOption customizes New.
type InitOption func(*initOptions)

// WithMetrics instruments every request and exposes /metrics to the
// trusted subnet of checker.
func WithMetrics(m *metrics.Metrics, checker *ipchecker.IPChecker) InitOption {
	return func(options *initOptions) {
		options.metrics = m
		options.ipChecker = checker
	}
}

// WithLoginLimiter throttles login and registration attempts.
func WithLoginLimiter(l *ratelimit.RateLimiter) InitOption {
	return func(options *initOptions) {
		options.loginLimiter = l
	}
}

// New builds the application handler.
func New(
	svc *service.Service,
	sessions *auth.Auth,
	feed *livefeed.Hub,
	optionsProto ...InitOption,
) http.Handler {
	options := &initOptions{
		loginLimiter: ratelimit.New(1, 5),
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	myRouter := Router{
		db:       svc,
		sessions: sessions,
	}

	router := chi.NewRouter()
	router.Use(
		logger.WithLoggingHTTPMiddleware,
		middleware.Recoverer,
	)
	if options.metrics != nil {
		router.Use(options.metrics.InstrumentHandler)
	}
	router.Use(
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
		sessions.AuthenticateUser,
	)

	router.Get(`/`, myRouter.GetIndex)
	router.Get(`/favicon.ico`, myRouter.GetFavicon)
	router.Get(`/ping`, myRouter.GetPing)
	router.Handle(`/static/*`, http.StripPrefix("/static/", views.StaticHandler()))

	if options.metrics != nil {
		if options.ipChecker == nil || options.ipChecker.IsTrustedSubnetEmpty() {
			logger.Log.Infow("no trusted subnet configured, /metrics is closed")
			router.Handle(`/metrics`, http.HandlerFunc(myRouter.GetMetricsClosed))
		} else {
			router.With(options.ipChecker.RestrictToTrustedSubnet).Handle(`/metrics`, options.metrics.Handler())
		}
	}

	router.Mount(`/auth`, handlers.NewAuth(svc, sessions, options.loginLimiter).Routes())
	router.Mount(`/emergency`, handlers.NewEmergency(svc, sessions).Routes())
	router.Mount(`/responder`, handlers.NewResponder(svc, sessions).Routes())
	router.Mount(`/dashboard`, handlers.NewDashboard(svc, sessions).Routes())
	router.Mount(`/map`, handlers.NewMap(svc, feed, sessions).Routes())

	return router
}

// GetIndex renders the landing page for the current, possibly anonymous, user.
func (router *Router) GetIndex(response http.ResponseWriter, request *http.Request) {
	page := views.Index(auth.CurrentUser(request.Context()))
	response.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(request.Context(), response); err != nil {
		logger.FromContext(request.Context()).Debugw("unable to render index", zap.Error(err))
	}
}

// GetFavicon answers with an empty body so browsers stop asking.
func (router *Router) GetFavicon(response http.ResponseWriter, _ *http.Request) {
	response.WriteHeader(http.StatusNoContent)
}

// GetMetricsClosed refuses the metrics exposition when no subnet is trusted.
func (router *Router) GetMetricsClosed(response http.ResponseWriter, _ *http.Request) {
	http.Error(response, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// GetPing reports whether the database answers.
func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.db.Ping(request.Context()); err != nil {
		logger.FromContext(request.Context()).Errorw("database ping failed", zap.Error(err))
		response.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.WriteHeader(http.StatusOK)
}
