package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"whitelistd/internal/metrics"
	"whitelistd/internal/netaddr"
	"whitelistd/internal/storage"
	"whitelistd/internal/whitelist"
)

type failingStore struct{}

func (failingStore) Name() string { return "failing" }
func (failingStore) Close() error { return nil }
func (failingStore) Open(string) (io.ReadCloser, error) {
	return nil, storage.ErrNotExist
}
func (failingStore) Create(string) (io.WriteCloser, error) {
	return nil, stderrors.New("disk full")
}

func newTestAPI(t *testing.T, deps Dependencies) (http.Handler, *whitelist.Manager) {
	t.Helper()
	m, ok := deps.Whitelist.(*whitelist.Manager)
	if !ok {
		var err error
		m, err = whitelist.New(whitelist.Dependencies{})
		if err != nil {
			t.Fatal(err)
		}
		deps.Whitelist = m
	}
	return NewManagementAPI(deps).Handler(), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestAddListRemove(t *testing.T) {
	h, m := newTestAPI(t, Dependencies{})

	rec := do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"203.0.113.5:8303"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d body %q", rec.Code, rec.Body.String())
	}
	if !m.IsWhitelisted(netaddr.MustParse("203.0.113.5")) {
		t.Fatal("address not added")
	}

	rec = do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"203.0.113.5"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "ALREADY_WHITELISTED" {
		t.Fatalf("duplicate add = %d %q", rec.Code, rec.Body.String())
	}

	do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"2001:db8::1"}`)
	rec = do(t, h, http.MethodGet, "/api/v1/whitelist", "")
	var list EntryList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 || list.Entries[0] != "2001:db8::1" || list.Summary != "2 entries in whitelist" {
		t.Fatalf("list = %+v", list)
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/whitelist/203.0.113.5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d body %q", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodDelete, "/api/v1/whitelist/203.0.113.5", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Fatalf("second remove = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/whitelist", "")
	if !strings.Contains(rec.Body.String(), `"summary":"1 entry in whitelist"`) {
		t.Fatalf("list body = %q", rec.Body.String())
	}
}

func TestCheckEntry(t *testing.T) {
	h, m := newTestAPI(t, Dependencies{})
	m.Add(netaddr.MustParse("ws://198.51.100.7"))

	cases := []struct {
		path        string
		whitelisted bool
		family      string
	}{
		{"/api/v1/whitelist/ws:%2F%2F198.51.100.7", true, "ws-ipv4"},
		{"/api/v1/whitelist/198.51.100.7", false, "ipv4"},
		{"/api/v1/whitelist/2001:db8::1", false, "ipv6"},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodGet, tc.path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d %q", tc.path, rec.Code, rec.Body.String())
		}
		var st EntryStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatal(err)
		}
		if st.Whitelisted != tc.whitelisted || st.Family != tc.family {
			t.Fatalf("GET %s = %+v", tc.path, st)
		}
	}
}

func TestInvalidInput(t *testing.T) {
	h, _ := newTestAPI(t, Dependencies{})

	cases := []struct {
		method, path, body string
		code               string
	}{
		{http.MethodPost, "/api/v1/whitelist", `{"address":"nope"}`, "INVALID_ADDRESS"},
		{http.MethodPost, "/api/v1/whitelist", `not json`, "VALIDATION_FAILED"},
		{http.MethodGet, "/api/v1/whitelist/999.1.1.1", "", "INVALID_ADDRESS"},
		{http.MethodDelete, "/api/v1/whitelist/fe80::1%25eth0", "", "INVALID_ADDRESS"},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != tc.code {
			t.Errorf("%s %s = %d %q, want 400 %s", tc.method, tc.path, rec.Code, rec.Body.String(), tc.code)
		}
	}
}

func TestClear(t *testing.T) {
	h, m := newTestAPI(t, Dependencies{})
	m.Add(netaddr.MustParse("192.0.2.1"))
	m.Add(netaddr.MustParse("192.0.2.2"))

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodDelete, "/api/v1/whitelist", ""); rec.Code != http.StatusOK {
			t.Fatalf("clear #%d = %d", i, rec.Code)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestPersistenceFailureReported(t *testing.T) {
	m, err := whitelist.New(whitelist.Dependencies{Store: failingStore{}})
	if err != nil {
		t.Fatal(err)
	}
	h, _ := newTestAPI(t, Dependencies{Whitelist: m})

	rec := do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"192.0.2.1"}`)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "PERSISTENCE_FAILED" {
		t.Fatalf("add = %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"applied":true`) {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if !m.IsWhitelisted(netaddr.MustParse("192.0.2.1")) {
		t.Fatal("in-memory add lost")
	}
}

func TestRateLimitOnlyMutations(t *testing.T) {
	h, _ := newTestAPI(t, Dependencies{RequestsPerSecond: 0.001, Burst: 1})

	if rec := do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"192.0.2.1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first add = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/v1/whitelist", `{"address":"192.0.2.2"}`)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("second add = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}

	for i := 0; i < 5; i++ {
		if rec := do(t, h, http.MethodGet, "/api/v1/whitelist", ""); rec.Code != http.StatusOK {
			t.Fatalf("read #%d throttled: %d", i, rec.Code)
		}
	}
}

func TestZeroRateDisablesLimit(t *testing.T) {
	h, m := newTestAPI(t, Dependencies{RequestsPerSecond: 0, Burst: 0})
	for i := 1; i <= 20; i++ {
		body := `{"address":"192.0.2.` + strconv.Itoa(i) + `"}`
		if rec := do(t, h, http.MethodPost, "/api/v1/whitelist", body); rec.Code != http.StatusCreated {
			t.Fatalf("add #%d = %d %q", i, rec.Code, rec.Body.String())
		}
	}
	if m.Count() != 20 {
		t.Fatalf("count = %d, want 20", m.Count())
	}
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	collector := metrics.NewCollector()
	h, _ := newTestAPI(t, Dependencies{Metrics: collector})

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"UP"`) {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}

	do(t, h, http.MethodGet, "/api/v1/whitelist", "")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `whitelistd_http_requests_total{method="GET",path="/api/v1/whitelist",status="200"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path = %d", rec.Code)
	}
}

func TestReload(t *testing.T) {
	store := storage.NewMemoryStore()
	m, err := whitelist.New(whitelist.Dependencies{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	h, _ := newTestAPI(t, Dependencies{Whitelist: m})
	m.Add(netaddr.MustParse("192.0.2.1"))

	store.Put("whitelist.cfg", []byte("whitelist_add 198.51.100.7\n"))
	rec := do(t, h, http.MethodPost, "/api/v1/reload", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("reload = %d %q", rec.Code, rec.Body.String())
	}
	if !m.IsWhitelisted(netaddr.MustParse("198.51.100.7")) || m.IsWhitelisted(netaddr.MustParse("192.0.2.1")) {
		t.Fatalf("entries after reload = %v", m.Entries())
	}
}
