package apiclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
)

// Outcome is the terminal state of one exchange.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeUnauthorized
	OutcomeRejectedStatus
	OutcomeNetworkError
	OutcomeServerError
	// OutcomeEncodeFailed means the request body could not be encoded and
	// nothing was sent.
	OutcomeEncodeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeRejectedStatus:
		return "rejected_status"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeServerError:
		return "server_error"
	case OutcomeEncodeFailed:
		return "encode_failed"
	default:
		return "unknown"
	}
}

// ClassifyStatus maps an HTTP status code onto an Outcome.
func ClassifyStatus(code int) Outcome {
	switch code {
	case http.StatusOK:
		return OutcomeSuccess
	case http.StatusUnauthorized:
		return OutcomeUnauthorized
	default:
		return OutcomeRejectedStatus
	}
}

// ClassifyTransportError decides whether a failure that produced no HTTP
// response is a plain connectivity problem or a protocol-level fault of the
// peer. TLS record, alert and certificate failures and malformed HTTP
// responses are server errors; everything else (DNS, refused connections,
// resets, timeouts, cancellation, an open circuit breaker) is a network error.
func ClassifyTransportError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return OutcomeNetworkError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeNetworkError
	}

	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		verifyErr *tls.CertificateVerificationError
		authErr   x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		certErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &verifyErr),
		errors.As(err, &authErr),
		errors.As(err, &hostErr),
		errors.As(err, &certErr):
		return OutcomeServerError
	}

	// net/http reports unparsable status lines and headers as plain strings.
	msg := err.Error()
	if strings.Contains(msg, "malformed HTTP") || strings.Contains(msg, "server gave HTTP response to HTTPS client") {
		return OutcomeServerError
	}
	return OutcomeNetworkError
}
