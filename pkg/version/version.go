// Package version exposes build metadata set via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/milan604/jsonapi-client/pkg/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build. Defaults to "dev".
	Version = "dev"
	// Commit is the short git commit hash.
	Commit = ""
	// Date is the build timestamp in RFC3339.
	Date = ""
	// Go is the Go toolchain version used for the build.
	Go = runtime.Version()
)

// Info returns build metadata suitable for logging.
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
		"go":      Go,
	}
}

// String renders the metadata on one line.
func String() string {
	s := fmt.Sprintf("apiclient %s (%s)", Version, Go)
	if Commit != "" {
		s += " commit " + Commit
	}
	if Date != "" {
		s += " built " + Date
	}
	return s
}

// UserAgent is the User-Agent the CLI sends.
func UserAgent() string {
	return "apiclient/" + Version
}
