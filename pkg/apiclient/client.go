package apiclient

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/milan604/jsonapi-client/pkg/codec"
	"github.com/milan604/jsonapi-client/pkg/logger"
	"github.com/milan604/jsonapi-client/pkg/tokenstore"
)

const (
	// DefaultTimeout bounds an exchange whose context carries no deadline.
	DefaultTimeout = 19 * time.Second

	// HeaderRefreshToken on a 200 response replaces the stored bearer token.
	HeaderRefreshToken = "X-Authorization"

	authScheme = "Bearer"

	tracerName = "github.com/milan604/jsonapi-client/pkg/apiclient"
)

// RequestHook can modify a request before it is sent.
type RequestHook func(*http.Request) error

// MetricsRecorder observes exchanges. observability.PrometheusCollector and
// observability.Metrics implement it.
type MetricsRecorder interface {
	ExchangeStarted(method string)
	ExchangeFinished(method, outcome string, elapsed time.Duration)
}

// Client is a JSON API client bound to one base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  http.RoundTripper
	codec      codec.Codec
	log        logger.LogManager
	timeout    time.Duration

	mu             sync.RWMutex
	headers        http.Header
	bearerToken    string
	onUnauthorized func()
	onRequestNotOk func(int)
	onNetworkError func(string)
	onServerError  func(string)

	connected atomic.Bool

	requestHooks    []RequestHook
	requestIDHeader string
	limiter         *rate.Limiter
	breaker         *gobreaker.CircuitBreaker[*http.Response]
	tracer          trace.Tracer
	metrics         []MetricsRecorder
	tokenStore      tokenstore.Store
}

// Option configures a Client.
type Option func(*Client)

// WithCodec replaces the JSON codec.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithCodecOptions configures the default JSON codec.
func WithCodecOptions(opts codec.Options) Option {
	return func(c *Client) {
		c.codec = codec.NewJSON(opts)
	}
}

// WithTimeout sets the ceiling applied to exchanges whose context has no
// deadline. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient uses a copy of hc; its transport is wrapped for gzip/deflate.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		cp := *hc
		c.httpClient = &cp
	}
}

// WithTransport sets the round tripper underneath the decompressing layer.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets a logger for the client.
func WithLogger(l logger.LogManager) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHostHeader adds a static header supplied by the hosting application,
// for example an API key that only development builds send.
func WithHostHeader(name, value string) Option {
	return func(c *Client) {
		c.headers.Set(name, value)
	}
}

// WithRequestHook adds a hook that runs before each request.
func WithRequestHook(hook RequestHook) Option {
	return func(c *Client) {
		if hook != nil {
			c.requestHooks = append(c.requestHooks, hook)
		}
	}
}

// WithRequestID stamps every request with a fresh UUID under header
// (X-Request-ID when empty). The id is also attached to log lines.
func WithRequestID(header string) Option {
	return func(c *Client) {
		if header == "" {
			header = "X-Request-ID"
		}
		c.requestIDHeader = header
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker fails exchanges fast, as network errors, after the
// transport keeps failing. HTTP status codes never trip the breaker.
func WithCircuitBreaker(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker[*http.Response](st)
	}
}

// WithTracer sets the tracer used for exchange spans. The global provider is
// used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics records every exchange on m. Repeated options add recorders.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = append(c.metrics, m)
		}
	}
}

// WithTokenStore loads the bearer token from s at construction and saves it
// whenever it changes.
func WithTokenStore(s tokenstore.Store) Option {
	return func(c *Client) {
		c.tokenStore = s
	}
}

// New creates a client for baseURL. The URL is not validated; a malformed
// one surfaces as a network error on the first call.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		codec:   codec.NewJSON(codec.DefaultOptions()),
		log:     logger.NewNop(),
		timeout: DefaultTimeout,
		headers: make(http.Header),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	base := c.transport
	if base == nil {
		base = c.httpClient.Transport
	}
	c.httpClient.Transport = NewTransport(base)

	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.log = c.log.With("component", "apiclient")

	if c.tokenStore != nil {
		c.loadStoredToken()
	}
	return c
}

// BaseURL returns the URL every path is appended to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsConnected reports whether the last exchange that reached a conclusion
// about connectivity succeeded. It starts false.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// DefaultHeaders returns a copy of the headers sent with every request.
func (c *Client) DefaultHeaders() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers.Clone()
}

// SetDefaultHeader replaces any header named name. Setting Authorization
// directly keeps BearerToken in sync.
func (c *Client) SetDefaultHeader(name, value string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Set(name, value)
	if http.CanonicalHeaderKey(name) == "Authorization" {
		c.bearerToken = tokenFromAuthorization(value)
	}
	return c
}

// RemoveDefaultHeader removes header name if present.
func (c *Client) RemoveDefaultHeader(name string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Del(name)
	if http.CanonicalHeaderKey(name) == "Authorization" {
		c.bearerToken = ""
	}
	return c
}

// BearerToken returns the token currently sent in the Authorization header.
func (c *Client) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

// SetBearerToken stores token and regenerates "Authorization: Bearer <token>".
// An empty token removes the header.
func (c *Client) SetBearerToken(token string) *Client {
	c.applyBearerToken(token)
	c.persistToken(context.Background(), token)
	return c
}

func (c *Client) applyBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = token
	if token == "" {
		c.headers.Del("Authorization")
		return
	}
	c.headers.Set("Authorization", authScheme+" "+token)
}

// OnUnauthorized registers the handler run on 401 responses.
func (c *Client) OnUnauthorized(fn func()) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
	return c
}

// OnRequestNotOk registers the handler run with the status code of any
// response other than 200 and 401.
func (c *Client) OnRequestNotOk(fn func(status int)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequestNotOk = fn
	return c
}

// OnNetworkError registers the handler run when the transport could not
// complete the exchange.
func (c *Client) OnNetworkError(fn func(msg string)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNetworkError = fn
	return c
}

// OnServerError registers the handler run on TLS or HTTP protocol faults.
func (c *Client) OnServerError(fn func(msg string)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onServerError = fn
	return c
}

type callbacks struct {
	onUnauthorized func()
	onRequestNotOk func(int)
	onNetworkError func(string)
	onServerError  func(string)
}

func (c *Client) callbacks() callbacks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return callbacks{
		onUnauthorized: c.onUnauthorized,
		onRequestNotOk: c.onRequestNotOk,
		onNetworkError: c.onNetworkError,
		onServerError:  c.onServerError,
	}
}

// withBaseURL tags ctx so *FCtx log lines name the API they concern.
func (c *Client) withBaseURL(ctx context.Context) context.Context {
	return context.WithValue(ctx, logger.BaseURLKey, c.baseURL)
}

func (c *Client) loadStoredToken() {
	ctx, cancel := context.WithTimeout(c.withBaseURL(context.Background()), 5*time.Second)
	defer cancel()
	token, err := c.tokenStore.Load(ctx)
	if err != nil {
		c.log.WarnFCtx(ctx, "load bearer token: %v", err)
		return
	}
	if token != "" {
		c.applyBearerToken(token)
	}
}

func (c *Client) persistToken(ctx context.Context, token string) {
	if c.tokenStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.withBaseURL(context.WithoutCancel(ctx)), 5*time.Second)
	defer cancel()
	if err := c.tokenStore.Save(ctx, token); err != nil {
		c.log.WarnFCtx(ctx, "save bearer token: %v", err)
	}
}

func tokenFromAuthorization(value string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, authScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}
