package apiclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/milan604/jsonapi-client/pkg/codec"
	"github.com/milan604/jsonapi-client/pkg/logger"
	"github.com/milan604/jsonapi-client/pkg/observability"
	"github.com/milan604/jsonapi-client/pkg/tokenstore"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type newUser struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

type recorder struct {
	mu           sync.Mutex
	unauthorized int
	notOk        []int
	network      []string
	server       []string
}

func record(c *Client) *recorder {
	r := &recorder{}
	c.OnUnauthorized(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.unauthorized++
	}).OnRequestNotOk(func(code int) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.notOk = append(r.notOk, code)
	}).OnNetworkError(func(msg string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.network = append(r.network, msg)
	}).OnServerError(func(msg string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.server = append(r.server, msg)
	})
	return r
}

// fired returns how many callbacks of any kind ran.
func (r *recorder) fired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unauthorized + len(r.notOk) + len(r.network) + len(r.server)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestGetSuccessMarksConnected(t *testing.T) {
	var gotPath, gotAccept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotAccept = r.Header.Get("Accept")
		writeJSON(w, http.StatusOK, `{"id":7,"name":"Ada"}`)
	}))
	defer ts.Close()

	c := New(ts.URL)
	rec := record(c)
	if c.IsConnected() {
		t.Fatalf("new client must start disconnected")
	}

	got, ok := Get[user](context.Background(), c, "users/7")
	if !ok {
		t.Fatalf("expected success")
	}
	if got != (user{ID: 7, Name: "Ada"}) {
		t.Fatalf("unexpected user %+v", got)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected after 200")
	}
	if gotPath != "/users/7" || gotAccept != "application/json" {
		t.Fatalf("unexpected request %q accept=%q", gotPath, gotAccept)
	}
	if rec.fired() != 0 {
		t.Fatalf("no callback expected on success")
	}
}

func TestURLIsPlainConcatenation(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RequestURI()
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL + "/api")
	if _, ok := Get[map[string]any](context.Background(), c, "v1/users?active=true"); !ok {
		t.Fatalf("expected success")
	}
	if got != "/api/v1/users?active=true" {
		t.Fatalf("unexpected request uri %q", got)
	}
}

func TestGetUnauthorized(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, int(status.Load()), `{"id":7,"name":"Ada"}`)
	}))
	defer ts.Close()

	c := New(ts.URL)
	rec := record(c)
	if _, ok := Get[user](context.Background(), c, "users/7"); !ok {
		t.Fatalf("expected first call to succeed")
	}

	status.Store(http.StatusUnauthorized)
	localCalls := 0
	got, ok := Get[user](context.Background(), c, "users/7", func() { localCalls++ })
	if ok || got != (user{}) {
		t.Fatalf("expected absent value, got %+v ok=%v", got, ok)
	}
	if rec.unauthorized != 1 || rec.fired() != 1 {
		t.Fatalf("expected exactly one onUnauthorized, recorder=%+v", rec)
	}
	if localCalls != 0 {
		t.Fatalf("local onError must not run on 401")
	}
	if !c.IsConnected() {
		t.Fatalf("401 must leave isConnected unchanged")
	}
}

func TestSendRejectedStatus(t *testing.T) {
	var gotBody, gotType, gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType, gotMethod = string(b), r.Header.Get("Content-Type"), r.Method
		writeJSON(w, http.StatusInternalServerError, `{"code":"internal_error"}`)
	}))
	defer ts.Close()

	c := New(ts.URL)
	var order []string
	c.OnRequestNotOk(func(code int) { order = append(order, fmt.Sprintf("notOk:%d", code)) })

	_, ok := Send[newUser, user](context.Background(), c, "users", newUser{Name: "Ada"}, func() {
		order = append(order, "local")
	})
	if ok {
		t.Fatalf("expected failure on 500")
	}
	if strings.Join(order, ",") != "local,notOk:500" {
		t.Fatalf("unexpected callback order %v", order)
	}
	if gotMethod != http.MethodPost || gotType != "application/json; charset=utf-8" {
		t.Fatalf("unexpected method %q content type %q", gotMethod, gotType)
	}
	if gotBody != `{"name":"Ada"}` {
		t.Fatalf("expected null email to be omitted, got %s", gotBody)
	}
}

func TestRejectedStatusCodes(t *testing.T) {
	for _, code := range []int{http.StatusCreated, http.StatusNoContent, http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			defer ts.Close()

			c := New(ts.URL)
			rec := record(c)
			if _, ok := Get[user](context.Background(), c, "x"); ok {
				t.Fatalf("only 200 succeeds")
			}
			if len(rec.notOk) != 1 || rec.notOk[0] != code || rec.fired() != 1 {
				t.Fatalf("expected onRequestNotOk(%d) once, recorder=%+v", code, rec)
			}
		})
	}
}

func TestLastCallbackRegistrationWins(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	var first, second int
	c := New(ts.URL).
		OnRequestNotOk(func(int) { first++ }).
		OnRequestNotOk(func(int) { second++ })
	Get[user](context.Background(), c, "x")
	if first != 0 || second != 1 {
		t.Fatalf("expected only the last handler, got first=%d second=%d", first, second)
	}
}

func TestBearerTokenHeader(t *testing.T) {
	var mu sync.Mutex
	var auth []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL).SetBearerToken("tok")
	Get[user](context.Background(), c, "a")
	c.SetBearerToken("")
	Get[user](context.Background(), c, "b")
	c.SetDefaultHeader("authorization", "Bearer direct")
	Get[user](context.Background(), c, "c")

	want := []string{"Bearer tok", "", "Bearer direct"}
	if strings.Join(auth, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, auth)
	}
	if c.BearerToken() != "direct" {
		t.Fatalf("token must follow the Authorization header, got %q", c.BearerToken())
	}
	c.RemoveDefaultHeader("Authorization")
	if c.BearerToken() != "" {
		t.Fatalf("removing Authorization must clear the token")
	}
}

func TestDefaultHeaders(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithHostHeader("X-Api-Key", "dev-key")).
		SetDefaultHeader("X-Tenant", "a").
		SetDefaultHeader("X-Tenant", "b").
		SetDefaultHeader("X-Gone", "1").
		RemoveDefaultHeader("X-Gone").
		RemoveDefaultHeader("X-Never-Set")

	Get[user](context.Background(), c, "")
	if got.Get("X-Tenant") != "b" || len(got.Values("X-Tenant")) != 1 {
		t.Fatalf("expected replaced header, got %v", got.Values("X-Tenant"))
	}
	if got.Get("X-Gone") != "" {
		t.Fatalf("removed header was sent")
	}
	if got.Get("X-Api-Key") != "dev-key" {
		t.Fatalf("host header missing")
	}

	snapshot := c.DefaultHeaders()
	snapshot.Set("X-Tenant", "mutated")
	if c.DefaultHeaders().Get("X-Tenant") != "b" {
		t.Fatalf("DefaultHeaders must return a copy")
	}
}

func TestRefreshTokenFromResponse(t *testing.T) {
	var mu sync.Mutex
	var auth []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		n := len(auth)
		mu.Unlock()
		if n == 1 {
			w.Header().Add(HeaderRefreshToken, "abc123")
			w.Header().Add(HeaderRefreshToken, "ignored")
		}
		writeJSON(w, http.StatusOK, `{"id":1}`)
	}))
	defer ts.Close()

	store := tokenstore.NewMemory(0)
	c := New(ts.URL, WithTokenStore(store))
	Get[user](context.Background(), c, "a")
	Get[user](context.Background(), c, "b")

	if auth[1] != "Bearer abc123" {
		t.Fatalf("expected refreshed token on next request, got %q", auth[1])
	}
	if saved, _ := store.Load(context.Background()); saved != "abc123" {
		t.Fatalf("expected refreshed token to be persisted, got %q", saved)
	}
}

func TestRefreshIgnoredOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRefreshToken, "nope")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := New(ts.URL).SetBearerToken("keep")
	Get[user](context.Background(), c, "a")
	if c.BearerToken() != "keep" {
		t.Fatalf("token must only refresh on 200, got %q", c.BearerToken())
	}
}

func TestTokenStoreLoadedAtConstruction(t *testing.T) {
	store := tokenstore.NewMemory(0)
	_ = store.Save(context.Background(), "stored")

	c := New("http://127.0.0.1:1", WithTokenStore(store))
	if c.BearerToken() != "stored" || c.DefaultHeaders().Get("Authorization") != "Bearer stored" {
		t.Fatalf("expected stored token, got %q", c.BearerToken())
	}
}

func TestConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	}))
	url := ts.URL

	c := New(url)
	rec := record(c)
	Get[user](context.Background(), c, "a")
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}
	ts.Close()

	local := 0
	got, ok := Get[user](context.Background(), c, "users/7", func() { local++ })
	if ok || got != (user{}) {
		t.Fatalf("expected absent value")
	}
	if c.IsConnected() {
		t.Fatalf("transport failure must clear isConnected")
	}
	if len(rec.network) != 1 || rec.fired() != 1 {
		t.Fatalf("expected exactly one onNetworkError, recorder=%+v", rec)
	}
	if !strings.HasPrefix(rec.network[0], "Network error: ") {
		t.Fatalf("unexpected message %q", rec.network[0])
	}
	if local != 0 {
		t.Fatalf("local onError only runs for rejected statuses")
	}
}

func TestMalformedBaseURLIsNetworkError(t *testing.T) {
	c := New("http://bad host")
	rec := record(c)
	if _, ok := Get[user](context.Background(), c, "x"); ok {
		t.Fatalf("expected failure")
	}
	if len(rec.network) != 1 {
		t.Fatalf("expected network error, recorder=%+v", rec)
	}
}

func TestUntrustedCertificateIsServerError(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	}))
	ts.Config.ErrorLog = log.New(io.Discard, "", 0)
	ts.StartTLS()
	defer ts.Close()

	c := New(ts.URL)
	rec := record(c)
	if _, ok := Get[user](context.Background(), c, "x"); ok {
		t.Fatalf("expected handshake failure")
	}
	if len(rec.server) != 1 || rec.fired() != 1 {
		t.Fatalf("expected exactly one onServerError, recorder=%+v", rec)
	}
	if !strings.HasPrefix(rec.server[0], "Server error: ") {
		t.Fatalf("unexpected message %q", rec.server[0])
	}
	if c.IsConnected() {
		t.Fatalf("server error must leave isConnected unchanged")
	}

	trusted := New(ts.URL, WithHTTPClient(ts.Client()))
	if _, ok := Get[map[string]any](context.Background(), trusted, "x"); !ok {
		t.Fatalf("expected success with the server's own client")
	}
}

func TestMalformedHTTPResponseIsServerError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = http.ReadRequest(bufio.NewReader(conn))
			_, _ = io.WriteString(conn, "SOMETHING ELSE ENTIRELY\r\n\r\n")
			_ = conn.Close()
		}
	}()

	c := New("http://" + ln.Addr().String())
	rec := record(c)
	if _, ok := Get[user](context.Background(), c, "x"); ok {
		t.Fatalf("expected failure")
	}
	if len(rec.server) != 1 {
		t.Fatalf("expected onServerError, recorder=%+v", rec)
	}
}

func TestUndecodablePayloadIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"x"`)
	}))
	defer ts.Close()

	c := New(ts.URL)
	rec := record(c)
	c.connected.Store(true)
	got, ok := Get[user](context.Background(), c, "x")
	if ok || got != (user{}) {
		t.Fatalf("expected absent value, got %+v ok=%v", got, ok)
	}
	if len(rec.network) != 1 || rec.fired() != 1 {
		t.Fatalf("expected one onNetworkError, recorder=%+v", rec)
	}
	if !strings.HasPrefix(rec.network[0], "Network error: ") {
		t.Fatalf("unexpected message %q", rec.network[0])
	}
	if c.IsConnected() {
		t.Fatalf("an undecodable payload must mark the client disconnected")
	}
}

func TestEmptyPayloadDecodesToZeroValue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	got, ok := Get[user](context.Background(), New(ts.URL), "x")
	if !ok || got != (user{}) {
		t.Fatalf("expected zero value success, got %+v ok=%v", got, ok)
	}
}

type cyclic struct {
	Name string  `json:"name"`
	Next *cyclic `json:"next"`
}

func TestEncodeFailureSendsNothing(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithCodecOptions(codec.Options{ReferenceCycles: codec.CycleError}))
	rec := record(c)
	body := &cyclic{Name: "a"}
	body.Next = body

	local := 0
	if _, ok := Send[*cyclic, user](context.Background(), c, "x", body, func() { local++ }); ok {
		t.Fatalf("expected encode failure")
	}
	if hits.Load() != 0 {
		t.Fatalf("nothing must be sent when encoding fails")
	}
	if local != 1 || rec.fired() != 0 {
		t.Fatalf("expected only the local onError, local=%d recorder=%+v", local, rec)
	}
}

func TestIgnoredCycleIsSent(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithCodecOptions(codec.Options{ReferenceCycles: codec.CycleIgnore, OmitNullFields: true}))
	body := &cyclic{Name: "a"}
	body.Next = body
	if _, ok := Send[*cyclic, map[string]any](context.Background(), c, "x", body); !ok {
		t.Fatalf("expected success")
	}
	if got != `{"name":"a"}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c := New(ts.URL, WithTimeout(50*time.Millisecond))
	rec := record(c)
	start := time.Now()
	if _, ok := Get[user](context.Background(), c, "slow"); ok {
		t.Fatalf("expected timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout was not applied")
	}
	if len(rec.network) != 1 {
		t.Fatalf("expected network error, recorder=%+v", rec)
	}
}

func TestCallerDeadlineWins(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithTimeout(10*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok := Get[map[string]any](ctx, c, "x"); !ok {
		t.Fatalf("caller deadline must replace the client timeout")
	}
}

func TestRequestIDAndHooks(t *testing.T) {
	var gotID, gotHook string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotHook = r.Header.Get("X-Correlation-ID"), r.Header.Get("X-Hook")
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL,
		WithRequestID("X-Correlation-ID"),
		WithRequestHook(func(r *http.Request) error {
			r.Header.Set("X-Hook", "yes")
			return nil
		}),
	)
	Get[user](context.Background(), c, "x")
	if _, err := uuid.Parse(gotID); err != nil {
		t.Fatalf("expected uuid request id, got %q", gotID)
	}
	if gotHook != "yes" {
		t.Fatalf("hook did not run")
	}

	failing := New(ts.URL, WithRequestHook(func(*http.Request) error { return errors.New("signing failed") }))
	rec := record(failing)
	if _, ok := Get[user](context.Background(), failing, "x"); ok || len(rec.network) != 1 {
		t.Fatalf("hook failure must be a network error, recorder=%+v", rec)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCircuitBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	failing := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("connection reset")
	})

	st := DefaultBreakerSettings("test")
	st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 }
	c := New("http://api.test", WithTransport(failing), WithCircuitBreaker(st))
	rec := record(c)

	for range 4 {
		Get[user](context.Background(), c, "x")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d", calls.Load())
	}
	if len(rec.network) != 4 {
		t.Fatalf("open breaker must report network errors, recorder=%+v", rec)
	}
}

func TestCircuitBreakerIgnoresStatusCodes(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	st := DefaultBreakerSettings("test")
	st.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	c := New(ts.URL, WithCircuitBreaker(st))
	for range 3 {
		Get[user](context.Background(), c, "x")
	}
	if calls.Load() != 3 {
		t.Fatalf("status codes must not trip the breaker, got %d calls", calls.Load())
	}
}

func TestRateLimitWaitFailureIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithRateLimit(0.01, 1))
	rec := record(c)
	if _, ok := Get[map[string]any](context.Background(), c, "a"); !ok {
		t.Fatalf("burst must allow the first call")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := Get[map[string]any](ctx, c, "b"); ok {
		t.Fatalf("expected limiter to refuse")
	}
	if len(rec.network) != 1 {
		t.Fatalf("expected network error, recorder=%+v", rec)
	}
}

func TestConcurrentExchangesRefreshSafely(t *testing.T) {
	var n atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRefreshToken, fmt.Sprintf("t%d", n.Add(1)))
		writeJSON(w, http.StatusOK, `{"id":1}`)
	}))
	defer ts.Close()

	c := New(ts.URL, WithTokenStore(tokenstore.NewMemory(0)))
	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			if _, ok := Get[user](context.Background(), c, "x"); !ok {
				t.Errorf("expected success")
			}
		})
	}
	wg.Wait()

	token := c.BearerToken()
	if !strings.HasPrefix(token, "t") || c.DefaultHeaders().Get("Authorization") != "Bearer "+token {
		t.Fatalf("token and header out of sync: %q / %q", token, c.DefaultHeaders().Get("Authorization"))
	}
}

func TestPrometheusMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			writeJSON(w, http.StatusOK, `{}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	pc := observability.NewPrometheusCollector()
	c := New(ts.URL, WithMetrics(pc))
	Get[map[string]any](context.Background(), c, "ok")
	Get[map[string]any](context.Background(), c, "ok")
	Get[map[string]any](context.Background(), c, "denied")

	expected := `
# HELP apiclient_requests_total Total number of API exchanges by outcome
# TYPE apiclient_requests_total counter
apiclient_requests_total{method="GET",outcome="success"} 2
apiclient_requests_total{method="GET",outcome="unauthorized"} 1
`
	if err := testutil.GatherAndCompare(pc.Registry(), strings.NewReader(expected), "apiclient_requests_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}

	inFlight := `
# HELP apiclient_in_flight_requests Current number of in-flight API exchanges
# TYPE apiclient_in_flight_requests gauge
apiclient_in_flight_requests 0
`
	if err := testutil.GatherAndCompare(pc.Registry(), strings.NewReader(inFlight), "apiclient_in_flight_requests"); err != nil {
		t.Fatalf("unexpected in-flight gauge: %v", err)
	}
}

func TestTracingSpanAndPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent, requestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		requestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := New(ts.URL, WithTracer(tp.Tracer("test")), WithRequestID(""))
	Get[user](context.Background(), c, "missing")

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "HTTP GET" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["apiclient.outcome"] != "rejected_status" || attrs["http.status_code"] != "404" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if attrs["http.route"] != "missing" || requestID == "" || attrs["request.id"] != requestID {
		t.Fatalf("span must carry route and request id %q, got %v", requestID, attrs)
	}
	if !strings.Contains(traceparent, span.SpanContext().TraceID().String()) {
		t.Fatalf("trace context not propagated: %q", traceparent)
	}
}

func TestLogLinesCarryBaseURLAndRequestID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	core, logs := observer.New(zap.DebugLevel)
	c := New(ts.URL, WithLogger(logger.NewFromZap(zap.New(core))), WithRequestID(""))
	Get[user](context.Background(), c, "x")

	entries := logs.FilterMessageSnippet("teapot").All()
	if len(entries) != 1 {
		t.Fatalf("expected one rejected-status line, got %v", logs.All())
	}
	fields := entries[0].ContextMap()
	if fields["base_url"] != ts.URL {
		t.Fatalf("expected base_url field, got %v", fields)
	}
	if id, _ := fields["request_id"].(string); id == "" {
		t.Fatalf("expected request_id field, got %v", fields)
	}
	if fields["component"] != "apiclient" {
		t.Fatalf("expected component field, got %v", fields)
	}
}
