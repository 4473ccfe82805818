package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	coreerrors "whitelistd/internal/core/errors"
	"whitelistd/internal/logging"
	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"
	"whitelistd/internal/whitelist"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Whitelist is the part of the whitelist manager the API drives.
type Whitelist interface {
	Add(addr netaddr.Address) (bool, error)
	Remove(addr netaddr.Address) (bool, error)
	Clear() error
	IsWhitelisted(addr netaddr.Address) bool
	Entries() []netaddr.Address
	Reload() error
}

// Dependencies contains everything the management API needs
type Dependencies struct {
	Whitelist Whitelist
	Logger    *logging.Logger
	Metrics   *metrics.Collector

	// Mutations are throttled to RequestsPerSecond with Burst; zero disables.
	RequestsPerSecond float64
	Burst             int
}

// ManagementAPI provides REST endpoints for whitelist management
type ManagementAPI struct {
	whitelist Whitelist
	logger    *logging.Logger
	metrics   *metrics.Collector
	limiter   *rate.Limiter
	startTime time.Time
}

// NewManagementAPI creates a new management API instance
func NewManagementAPI(deps Dependencies) *ManagementAPI {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	api := &ManagementAPI{
		whitelist: deps.Whitelist,
		logger:    logger.Named("api"),
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	if deps.RequestsPerSecond > 0 {
		burst := deps.Burst
		if burst < 1 {
			burst = 1
		}
		api.limiter = rate.NewLimiter(rate.Limit(deps.RequestsPerSecond), burst)
	}
	return api
}

// Handler returns a router serving /health, /metrics and /api/v1.
func (api *ManagementAPI) Handler() http.Handler {
	// Encoded paths keep "ws:%2F%2F..." addresses in one path segment.
	router := mux.NewRouter().UseEncodedPath()
	router.HandleFunc("/health", api.health).Methods(http.MethodGet)
	if api.metrics != nil {
		router.Handle("/metrics", api.metrics).Methods(http.MethodGet)
	}
	api.RegisterRoutes(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(&coreerrors.Error{Code: coreerrors.CodeNotFound, Message: "The requested resource does not exist"}).WriteHTTP(w)
	})
	return router
}

// RegisterRoutes registers all management API routes
func (api *ManagementAPI) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(api.loggingMiddleware)

	v1.HandleFunc("/whitelist", api.listEntries).Methods(http.MethodGet)
	v1.HandleFunc("/whitelist/{address}", api.checkEntry).Methods(http.MethodGet)

	mutations := v1.NewRoute().Subrouter()
	mutations.Use(api.rateLimitMiddleware)
	mutations.HandleFunc("/whitelist", api.addEntry).Methods(http.MethodPost)
	mutations.HandleFunc("/whitelist", api.clearEntries).Methods(http.MethodDelete)
	mutations.HandleFunc("/whitelist/{address}", api.removeEntry).Methods(http.MethodDelete)
	mutations.HandleFunc("/reload", api.reload).Methods(http.MethodPost)
}

// Response structures
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// EntryList is the body of GET /api/v1/whitelist
type EntryList struct {
	Entries []string `json:"entries"`
	Count   int      `json:"count"`
	Summary string   `json:"summary"`
}

// EntryStatus is the body of GET /api/v1/whitelist/{address}
type EntryStatus struct {
	Address     string `json:"address"`
	Family      string `json:"family"`
	Whitelisted bool   `json:"whitelisted"`
}

type addRequest struct {
	Address string `json:"address"`
}

func (api *ManagementAPI) health(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "UP",
		"entries": len(api.whitelist.Entries()),
		"uptime":  time.Since(api.startTime).Round(time.Second).String(),
	})
}

func (api *ManagementAPI) listEntries(w http.ResponseWriter, r *http.Request) {
	entries := api.whitelist.Entries()
	list := EntryList{Entries: make([]string, len(entries)), Count: len(entries)}
	for i, e := range entries {
		list.Entries[i] = e.String()
	}
	list.Summary = "Whitelist is empty"
	if len(entries) > 0 {
		list.Summary = whitelist.CountSummary(len(entries))
	}
	api.writeJSON(w, http.StatusOK, list)
}

func (api *ManagementAPI) checkEntry(w http.ResponseWriter, r *http.Request) {
	addr, ok := api.addressVar(w, r)
	if !ok {
		return
	}
	api.writeJSON(w, http.StatusOK, EntryStatus{
		Address:     addr.String(),
		Family:      addr.Family.String(),
		Whitelisted: api.whitelist.IsWhitelisted(addr),
	})
}

func (api *ManagementAPI) addEntry(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		coreerrors.NewValidationError("body", "expected {\"address\": \"...\"}").WriteHTTP(w)
		return
	}
	addr, err := netaddr.Parse(req.Address)
	if err != nil {
		coreerrors.NewAddressError(req.Address, err).WriteHTTP(w)
		return
	}

	added, err := api.whitelist.Add(addr)
	if !added {
		coreerrors.ErrAlreadyWhitelisted.WithDetails(map[string]interface{}{"address": addr.String()}).WriteHTTP(w)
		return
	}
	if err != nil {
		api.persistenceFailed(w, addr, err)
		return
	}

	api.logger.LogMutation("add", addr.String(), r.RemoteAddr)
	api.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Address whitelisted",
		Data:    map[string]string{"address": addr.String()},
	})
}

func (api *ManagementAPI) removeEntry(w http.ResponseWriter, r *http.Request) {
	addr, ok := api.addressVar(w, r)
	if !ok {
		return
	}

	removed, err := api.whitelist.Remove(addr)
	if !removed {
		coreerrors.ErrNotFound.WithDetails(map[string]interface{}{"address": addr.String()}).WriteHTTP(w)
		return
	}
	if err != nil {
		api.persistenceFailed(w, addr, err)
		return
	}

	api.logger.LogMutation("remove", addr.String(), r.RemoteAddr)
	api.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Address removed",
		Data:    map[string]string{"address": addr.String()},
	})
}

func (api *ManagementAPI) clearEntries(w http.ResponseWriter, r *http.Request) {
	if err := api.whitelist.Clear(); err != nil {
		api.persistenceFailed(w, netaddr.Address{}, err)
		return
	}
	api.logger.LogMutation("clear", "", r.RemoteAddr)
	api.writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "Whitelist cleared"})
}

func (api *ManagementAPI) reload(w http.ResponseWriter, r *http.Request) {
	if err := api.whitelist.Reload(); err != nil {
		var cerr *coreerrors.Error
		if !errors.As(err, &cerr) {
			cerr = coreerrors.ErrPersistenceFailed.WithError(err)
		}
		cerr.WriteHTTP(w)
		return
	}
	api.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Whitelist reloaded",
		Data:    map[string]int{"count": len(api.whitelist.Entries())},
	})
}

// persistenceFailed reports a save error. The in-memory change already
// happened, which the details say so clients do not retry blindly.
func (api *ManagementAPI) persistenceFailed(w http.ResponseWriter, addr netaddr.Address, err error) {
	var cerr *coreerrors.Error
	if !errors.As(err, &cerr) {
		cerr = coreerrors.ErrPersistenceFailed.WithError(err)
	}
	details := map[string]interface{}{"applied": true}
	if addr.Family.Valid() {
		details["address"] = addr.String()
	}
	cerr.WithDetails(details).WriteHTTP(w)
}

// addressVar parses the {address} route variable.
func (api *ManagementAPI) addressVar(w http.ResponseWriter, r *http.Request) (netaddr.Address, bool) {
	raw := mux.Vars(r)["address"]
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	addr, err := netaddr.Parse(raw)
	if err != nil {
		coreerrors.NewAddressError(raw, err).WriteHTTP(w)
		return netaddr.Address{}, false
	}
	return addr, true
}

func (api *ManagementAPI) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.limiter != nil && !api.limiter.Allow() {
			api.logger.Warn("Management API rate limit exceeded",
				logging.String("remote_addr", r.RemoteAddr),
				logging.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			coreerrors.ErrRateLimitExceeded.WriteHTTP(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *ManagementAPI) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		api.logger.LogRequest(r.Method, r.URL.Path, rec.status, float64(duration.Microseconds())/1000)
		if api.metrics != nil {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			api.metrics.RecordRequest(r.Method, path, rec.status, duration.Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Helper methods

func (api *ManagementAPI) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
