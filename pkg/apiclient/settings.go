package apiclient

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/milan604/jsonapi-client/pkg/codec"
	"github.com/milan604/jsonapi-client/pkg/config"
)

// DefaultBreakerSettings opens the breaker after five consecutive transport
// failures and probes again after thirty seconds.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// OptionsFromSettings converts validated settings into construction options.
// The bearer token and default headers are applied with NewFromSettings,
// since they are mutable client state rather than options.
func OptionsFromSettings(s config.ClientSettings) ([]Option, error) {
	cycles, err := codec.ParseCycleHandling(s.ReferenceCycles)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithTimeout(s.Timeout),
		WithCodecOptions(codec.Options{ReferenceCycles: cycles, OmitNullFields: s.OmitNullFields}),
	}
	if s.HostHeaderName != "" {
		opts = append(opts, WithHostHeader(s.HostHeaderName, s.HostHeaderValue))
	}
	if s.RequestIDHeader != "" {
		opts = append(opts, WithRequestID(s.RequestIDHeader))
	}
	if s.RateLimitRPS > 0 {
		opts = append(opts, WithRateLimit(s.RateLimitRPS, s.RateLimitBurst))
	}
	if s.BreakerEnabled {
		opts = append(opts, WithCircuitBreaker(DefaultBreakerSettings(s.BaseURL)))
	}
	return opts, nil
}

// NewFromSettings builds a client from settings; extra options apply last.
func NewFromSettings(s config.ClientSettings, extra ...Option) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts, err := OptionsFromSettings(s)
	if err != nil {
		return nil, err
	}
	c := New(s.BaseURL, append(opts, extra...)...)
	for name, value := range s.Headers {
		c.SetDefaultHeader(name, value)
	}
	// A token restored from the token store is newer than the configured one.
	if s.BearerToken != "" && c.BearerToken() == "" {
		c.SetBearerToken(s.BearerToken)
	}
	return c, nil
}
