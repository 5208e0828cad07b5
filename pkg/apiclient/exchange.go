package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/milan604/jsonapi-client/pkg/apperr"
	cerrors "github.com/milan604/jsonapi-client/pkg/errors"
	"github.com/milan604/jsonapi-client/pkg/logger"
	"github.com/milan604/jsonapi-client/pkg/observability"
)

// maxDrainBytes bounds how much of an unused body is read so the connection
// can be reused.
const maxDrainBytes = 64 << 10

// Get issues GET <baseURL>/<path> and decodes a 200 payload into Resp.
// onError, when given, runs alongside OnRequestNotOk for rejected statuses.
// On any failure it returns the zero Resp and false.
func Get[Resp any](ctx context.Context, c *Client, path string, onError ...func()) (Resp, bool) {
	var out Resp
	if !c.exchange(ctx, http.MethodGet, path, nil, &out, onError) {
		var zero Resp
		return zero, false
	}
	return out, true
}

// Send POSTs the encoded body to <baseURL>/<path> and decodes a 200 payload
// into Resp. Classification and callbacks match Get.
func Send[Req, Resp any](ctx context.Context, c *Client, path string, body Req, onError ...func()) (Resp, bool) {
	var zero Resp
	payload, err := c.codec.Marshal(body)
	if err != nil {
		c.encodeFailed(ctx, path, err, onError)
		return zero, false
	}

	var out Resp
	if !c.exchange(ctx, http.MethodPost, path, payload, &out, onError) {
		return zero, false
	}
	return out, true
}

// result is what one round trip concluded.
type result struct {
	outcome Outcome
	status  int
	err     *cerrors.ClientError
	// refresh is set when a 200 carried a non-empty X-Authorization.
	refresh      bool
	refreshToken string
}

func (c *Client) exchange(ctx context.Context, method, path string, payload []byte, out any, onError []func()) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := c.baseURL + "/" + path
	ctx = c.withBaseURL(ctx)
	var requestID string
	if c.requestIDHeader != "" {
		requestID = uuid.NewString()
		ctx = context.WithValue(ctx, logger.RequestIDKey, requestID)
	}

	ctx, span := observability.TraceExternalCall(ctx, c.tracer, method, url)
	defer span.End()
	span.SetAttributes(observability.AttrHTTPRoute.String(path))
	if requestID != "" {
		span.SetAttributes(observability.AttrRequestID.String(requestID))
	}

	for _, m := range c.metrics {
		m.ExchangeStarted(method)
	}
	start := time.Now()

	res := c.roundTrip(ctx, method, url, payload, out)
	c.dispatch(ctx, method, url, res, onError)

	elapsed := time.Since(start)
	for _, m := range c.metrics {
		m.ExchangeFinished(method, res.outcome.String(), elapsed)
	}
	span.SetAttributes(observability.AttrOutcome.String(res.outcome.String()))
	if res.status != 0 {
		span.SetAttributes(observability.AttrHTTPStatusCode.Int(res.status))
	}
	if res.err != nil {
		observability.RecordSpanError(ctx, res.err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res.outcome == OutcomeSuccess
}

func (c *Client) roundTrip(ctx context.Context, method, url string, payload []byte, out any) result {
	req, err := c.newRequest(ctx, method, url, payload)
	if err != nil {
		return transportFailure(err, method, url)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportFailure(err, method, url)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		return transportFailure(err, method, url)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	res := result{outcome: ClassifyStatus(resp.StatusCode), status: resp.StatusCode}
	switch res.outcome {
	case OutcomeUnauthorized:
		res.err = cerrors.Unauthorized(cerrors.WithRequest(method, url))
		return res
	case OutcomeRejectedStatus:
		res.err = cerrors.RequestNotOK(resp.StatusCode, cerrors.WithRequest(method, url))
		return res
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// The stream broke after the status line: connectivity, not content.
		return transportFailure(err, method, url)
	}
	if err := c.codec.Decode(bytes.NewReader(data), out); err != nil {
		// Reported like any other failure to complete the exchange.
		res.outcome = OutcomeNetworkError
		res.err = cerrors.FromCode(apperr.ErrorCodeDecodeFailed,
			cerrors.WithCause(err),
			cerrors.WithStatusCode(resp.StatusCode),
			cerrors.WithRequest(method, url),
		)
		return res
	}
	if values := resp.Header.Values(HeaderRefreshToken); len(values) > 0 && values[0] != "" {
		res.refresh = true
		res.refreshToken = values[0]
	}
	return res
}

func transportFailure(err error, method, url string) result {
	outcome := ClassifyTransportError(err)
	if outcome == OutcomeServerError {
		return result{outcome: outcome, err: cerrors.Server(err, cerrors.WithRequest(method, url))}
	}
	return result{outcome: OutcomeNetworkError, err: cerrors.Network(err, cerrors.WithRequest(method, url))}
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	for name, values := range c.headers {
		req.Header[name] = append([]string(nil), values...)
	}
	c.mu.RUnlock()

	if payload != nil {
		req.Header.Set("Content-Type", c.codec.ContentType())
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.requestIDHeader != "" {
		if id, ok := ctx.Value(logger.RequestIDKey).(string); ok {
			req.Header.Set(c.requestIDHeader, id)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	for _, hook := range c.requestHooks {
		if err := hook(req); err != nil {
			return nil, fmt.Errorf("request hook failed: %w", err)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}
	return c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
}

// dispatch applies the side effects of res and runs exactly one handler kind.
func (c *Client) dispatch(ctx context.Context, method, url string, res result, onError []func()) {
	cb := c.callbacks()

	switch res.outcome {
	case OutcomeSuccess:
		c.connected.Store(true)
		if res.refresh {
			c.applyBearerToken(res.refreshToken)
			c.persistToken(ctx, res.refreshToken)
			c.log.DebugFCtx(ctx, "%s %s: bearer token refreshed from %s", method, url, HeaderRefreshToken)
		}
		c.log.DebugFCtx(ctx, "%s %s: %d", method, url, res.status)

	case OutcomeUnauthorized:
		c.log.WarnFCtx(ctx, "%s %s: unauthorized", method, url)
		if cb.onUnauthorized != nil {
			cb.onUnauthorized()
		}

	case OutcomeRejectedStatus:
		c.log.WarnFCtx(ctx, "%s %s: %d %s", method, url, res.status, http.StatusText(res.status))
		for _, fn := range onError {
			if fn != nil {
				fn()
			}
		}
		if cb.onRequestNotOk != nil {
			cb.onRequestNotOk(res.status)
		}

	case OutcomeNetworkError:
		c.connected.Store(false)
		msg := "Network error: " + res.err.Reason()
		c.log.ErrorFCtx(ctx, "%s %s: %s", method, url, msg)
		if cb.onNetworkError != nil {
			cb.onNetworkError(msg)
		}

	case OutcomeServerError:
		msg := "Server error: " + res.err.Reason()
		c.log.ErrorFCtx(ctx, "%s %s: %s", method, url, msg)
		if cb.onServerError != nil {
			cb.onServerError(msg)
		}
	}
}

// encodeFailed reports a body that could not be encoded. Nothing was sent,
// so connectivity state and the registered handlers are left alone; only
// the call-site onError runs.
func (c *Client) encodeFailed(ctx context.Context, path string, err error, onError []func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	url := c.baseURL + "/" + path
	ctx = c.withBaseURL(ctx)
	ce := cerrors.FromCode(apperr.ErrorCodeEncodeFailed, cerrors.WithCause(err), cerrors.WithRequest(http.MethodPost, url))
	c.log.ErrorFCtx(ctx, "%v", ce)
	observability.AddSpanEvent(ctx, "apiclient.encode_failed", observability.AttrHTTPURL.String(url))
	for _, m := range c.metrics {
		m.ExchangeStarted(http.MethodPost)
		m.ExchangeFinished(http.MethodPost, OutcomeEncodeFailed.String(), 0)
	}
	for _, fn := range onError {
		if fn != nil {
			fn()
		}
	}
}
