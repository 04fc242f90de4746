package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	csrfHandler "authguard/internal/csrf/handler"
	csrfMiddleware "authguard/internal/csrf/middleware"
	rlConfig "authguard/internal/ratelimit/config"
	rlHandler "authguard/internal/ratelimit/handler"
	rlMiddleware "authguard/internal/ratelimit/middleware"
	adminmw "authguard/pkg/platform/middleware/admin"
	"authguard/pkg/platform/middleware/metadata"
	"authguard/pkg/platform/middleware/request"
	"authguard/pkg/platform/middleware/requesttime"
	"authguard/pkg/requestcontext"
)

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(a.log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	resolver := metadata.New(a.cfg.TrustedProxies)
	r.Use(resolver.Handler)
	r.Use(request.Logger(a.log, request.NewMetrics(a.registry)))
	r.Use(upstreamIdentity(resolver, a.cfg.UserHeader))

	a.health.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	limits := rlMiddleware.New(a.checker, a.log)
	csrf := csrfMiddleware.New(a.csrf, a.csrf.Config(), a.log)

	r.Group(func(r chi.Router) {
		r.Use(limits.RateLimit(rlConfig.APIAction))
		csrfHandler.New(a.csrf, a.log).Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(a.cfg.AdminToken, a.log))
		rlHandler.New(a.admin, a.log).RegisterAdmin(r)
	})

	if a.proxy != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(limits.RateLimit(rlConfig.APIAction))
			r.Use(limits.RequireUnlocked(nil))
			r.Use(csrf.Protect)
			r.Handle("/*", a.proxy)
		})
	}
	return r
}

// upstreamIdentity copies the user asserted by the upstream auth layer into
// the request context so account limits and lockout checks can apply. The
// header is ignored unless the peer is a trusted proxy.
func upstreamIdentity(resolver *metadata.Resolver, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if header == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !resolver.FromTrustedProxy(r) {
				next.ServeHTTP(w, r)
				return
			}
			if userID := r.Header.Get(header); userID != "" {
				r = r.WithContext(requestcontext.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newUpstreamProxy(raw string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", raw)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, nil
}
