package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type Server struct {
	srv *http.Server
}

type HandlerFunc func(opts ...connect.HandlerOption) (string, http.Handler)

type options struct {
	handlers   []HandlerFunc
	ready      func() bool
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

type Option func(*options)

func WithHandlerFunc(fn HandlerFunc) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, fn)
	}
}

// WithReadiness makes /readyz report NOT_SERVING while ready returns false.
func WithReadiness(ready func() bool) Option {
	return func(o *options) {
		o.ready = ready
	}
}

// WithRegistry serves /metrics from reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

func New(
	ctx context.Context,
	address string,
	opts ...Option,
) (*Server, error) {
	o := options{
		ready:      func() bool { return true },
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// OpenTelemetry and prometheus metrics
	otelPrometheusExporter, err := otelprometheus.New(otelprometheus.WithRegisterer(o.registerer))
	if err != nil {
		return nil, err
	}
	metricsProvider := metric.NewMeterProvider(metric.WithReader(otelPrometheusExporter))
	r.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	otelInterceptor, err := otelconnect.NewInterceptor(otelconnect.WithMeterProvider(metricsProvider))
	if err != nil {
		return nil, err
	}

	// Service registration
	for _, handler := range o.handlers {
		path, h := handler(connect.WithInterceptors(otelInterceptor))
		r.Handle(strings.TrimSuffix(path, "/")+"/*", h)
	}

	// Liveliness and readiness probes
	r.Get("/healthz", healthZHandleFunc())
	r.Get("/readyz", readyZHandleFunc(ctx, o.ready))

	srv := &http.Server{
		Addr: address,
		// Use h2c, so we can serve HTTP/2 without TLS.
		Handler: h2c.NewHandler(
			r,
			&http2.Server{},
		),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       1 * time.Minute,
		WriteTimeout:      1 * time.Minute,
		MaxHeaderBytes:    16 * 1024, // 16KiB
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	return &Server{
		srv: srv,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

var (
	statusHealthy    = []byte(`{"status":"HEALTHY"}`)
	statusNotServing = []byte(`{"status":"NOT_SERVING"}`)
	statusServing    = []byte(`{"status":"SERVING"}`)
)

func readyZHandleFunc(ctx context.Context, ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		if ctx.Err() != nil || !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(statusNotServing)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(statusServing)
	}
}

func healthZHandleFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(statusHealthy)
	}
}
