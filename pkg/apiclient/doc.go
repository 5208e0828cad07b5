// Package apiclient is a typed JSON-over-HTTP client for a single API base URL.
//
// A Client composes "<baseURL>/<path>" for every call, attaches its default
// headers (including "Authorization: Bearer <token>" once a token is set) and
// classifies every exchange into one outcome:
//
//   - 200: the payload is decoded into the caller's type, the client is
//     marked connected, and an X-Authorization response header replaces the
//     stored bearer token.
//   - 401: the OnUnauthorized handler runs.
//   - any other status: the call-site onError and the OnRequestNotOk handler
//     run with the status code.
//   - no response, or a 200 whose payload cannot be read or decoded:
//     OnNetworkError runs and the client is marked disconnected. TLS and
//     HTTP protocol faults run OnServerError instead.
//
// Failures never propagate as errors; Get and Send return the zero value and
// false instead. Configuration methods return the client so they chain:
//
//	c := apiclient.New("http://localhost:8085").
//		OnUnauthorized(func() { relogin() }).
//		OnRequestNotOk(func(code int) { log.Printf("status %d", code) })
//	user, ok := apiclient.Get[User](ctx, c, "users/7")
//
// Exchanges may run concurrently on one Client. Header and token mutations
// are internally synchronized, but which value an in-flight request observes
// when the caller changes headers concurrently is unspecified; configure the
// client before sharing it.
package apiclient
