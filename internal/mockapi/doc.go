// Package mockapi is a small JWT-protected user API used by the sample CLI
// and by integration tests of the client. Successful authenticated calls can
// rotate the caller's token through the X-Authorization response header.
package mockapi
