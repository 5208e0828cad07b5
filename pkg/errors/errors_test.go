package errors

import (
	stdErrors "errors"
	"io"
	"strings"
	"testing"

	"github.com/milan604/jsonapi-client/pkg/apperr"
)

func TestWrapKeepsCauseAndStack(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, "codec: decode")
	if !stdErrors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be preserved")
	}
	if err.Error() != "codec: decode: unexpected EOF" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var e *Error
	if !stdErrors.As(err, &e) || !strings.Contains(e.StackTrace(), "TestWrapKeepsCauseAndStack") {
		t.Fatalf("expected stack to include the caller")
	}
	if Wrap(nil, "x") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestClientError(t *testing.T) {
	cause := stdErrors.New("connection refused")
	ce := Network(cause, WithRequest("GET", "http://x/users/7"))

	if !ce.IsCode(apperr.ErrorCodeNetwork.Code()) {
		t.Fatalf("unexpected code %q", ce.Code)
	}
	if ce.Reason() != "connection refused" {
		t.Fatalf("unexpected reason %q", ce.Reason())
	}
	if !strings.HasPrefix(ce.Error(), "network_error GET http://x/users/7: Network error") {
		t.Fatalf("unexpected error %q", ce.Error())
	}
	if !stdErrors.Is(ce, cause) {
		t.Fatalf("expected Unwrap to expose the cause")
	}

	got, ok := AsClientError(Wrap(ce, "outer"))
	if !ok || got != ce {
		t.Fatalf("expected to find the ClientError in the chain")
	}
}

func TestRequestNotOK(t *testing.T) {
	ce := RequestNotOK(503)
	if ce.StatusCode != 503 || ce.Reason() != apperr.ErrorCodeRequestNotOK.Message() {
		t.Fatalf("unexpected error %+v", ce)
	}
	if !strings.Contains(ce.Error(), "(status 503)") {
		t.Fatalf("status missing from %q", ce.Error())
	}
}
