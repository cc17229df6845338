package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/health"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-newsletter/internal/log"
)

// RouteRegistrar mounts a group of API routes on the public router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	// RateLimitMW is the coarse per-IP flood guard applied to every route;
	// the subscription window limiter runs inside the request pipeline.
	RateLimitMW  func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe
	ClientIPOpts httpmw.ClientIPOptions
	MaxBodyBytes int64
	Routes       []RouteRegistrar
}
