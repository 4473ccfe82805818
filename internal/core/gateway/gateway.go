package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"whitelistd/internal/config"
	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"

	"github.com/gorilla/mux"
)

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 10 * time.Second

// Checker answers whether a peer may be served.
type Checker interface {
	IsWhitelisted(addr netaddr.Address) bool
}

// Gateway represents the guarded server in front of the upstream.
// It rejects non-whitelisted peers and proxies everything else.
type Gateway struct {
	config    *config.Config
	router    *mux.Router
	whitelist Checker
	metrics   *metrics.Collector
	logger    *logging.Logger
	upstream  *url.URL
	server    *http.Server

	// State management
	mu       sync.RWMutex
	addr     net.Addr
	shutdown chan struct{}
	once     sync.Once
}

// Dependencies contains all the dependencies required to create a Gateway
type Dependencies struct {
	Config    *config.Config
	Whitelist Checker
	Logger    *logging.Logger
	Metrics   *metrics.Collector
}

// NewGateway creates a new Gateway instance with the provided dependencies
func NewGateway(deps Dependencies) (*Gateway, error) {
	if deps.Config == nil {
		return nil, coreerrors.NewConfigError("config is required", nil)
	}
	if deps.Logger == nil {
		return nil, coreerrors.NewConfigError("logger is required", nil)
	}
	if deps.Whitelist == nil && deps.Config.Whitelist.Enforce != config.EnforceOff {
		return nil, coreerrors.NewConfigError("whitelist is required unless enforcement is off", nil)
	}

	upstream, err := url.Parse(deps.Config.Server.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, coreerrors.NewConfigError("invalid upstream URL", err).
			WithDetails(map[string]interface{}{"upstream": deps.Config.Server.Upstream})
	}

	g := &Gateway{
		config:    deps.Config,
		router:    mux.NewRouter(),
		whitelist: deps.Whitelist,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("gateway"),
		upstream:  upstream,
		shutdown:  make(chan struct{}),
	}

	g.setupRoutes()
	g.setupMiddleware()

	g.logger.Info("Gateway initialized successfully",
		logging.String("upstream", upstream.String()),
		logging.String("enforce", g.config.Whitelist.Enforce),
	)
	return g, nil
}

// setupRoutes configures all the routes for the gateway
func (g *Gateway) setupRoutes() {
	g.router.HandleFunc("/health", g.healthHandler).Methods(http.MethodGet)
	g.router.HandleFunc("/metrics", g.metricsHandler).Methods(http.MethodGet)

	// Everything else goes upstream.
	g.router.PathPrefix("/").Handler(g.proxyHandler())
}

// setupMiddleware configures the middleware chain. Logging wraps the
// whitelist check so rejected requests are logged and counted too.
func (g *Gateway) setupMiddleware() {
	if g.config.Server.EnableLogging {
		g.router.Use(g.loggingMiddleware())
	}
	g.router.Use(g.securityHeadersMiddleware())
	if g.config.Whitelist.Enforce == config.EnforceRequest {
		g.router.Use(g.whitelistMiddleware())
	}
}

// Handler exposes the routed handler, mainly for tests
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Serve listens on server.listen and serves until ctx is done or Shutdown
// is called.
func (g *Gateway) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.Server.Listen, err)
	}
	return g.ServeListener(ctx, ln)
}

// ServeListener serves on ln. In accept mode ln is wrapped so that
// non-whitelisted connections are closed before any byte is read.
func (g *Gateway) ServeListener(ctx context.Context, ln net.Listener) error {
	if g.config.Whitelist.Enforce == config.EnforceAccept {
		ln = NewGuardListener(ln, g.whitelist, g.logger, g.metrics)
	}

	read, write, idle := g.config.Server.Durations()
	server := &http.Server{
		Handler:      g.router,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	g.mu.Lock()
	g.server = server
	g.addr = ln.Addr()
	g.mu.Unlock()

	g.logger.LogServerStart(ln.Addr().String(), g.config.Whitelist.Enforce)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	case <-g.shutdown:
	}

	g.logger.LogServerStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Addr returns the bound address once serving has started
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.addr
}

// Shutdown gracefully stops Serve
func (g *Gateway) Shutdown() {
	g.once.Do(func() {
		close(g.shutdown)
		g.logger.Info("Gateway shutdown requested")
	})
}

// proxyHandler forwards to the configured upstream. Websocket upgrades are
// handled by the reverse proxy itself.
func (g *Gateway) proxyHandler() http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(g.upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("Upstream request failed", err,
			logging.String("path", r.URL.Path),
			logging.String("upstream", g.upstream.String()),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"Bad Gateway","message":"The upstream server is unavailable"}`))
	}
	return proxy
}

// healthHandler handles health check requests
func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"UP","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// metricsHandler handles metrics requests
func (g *Gateway) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if g.metrics != nil {
		g.metrics.ServeHTTP(w, r)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Metrics not available"}`))
	}
}
