package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
)

// Keys read by LoadClientSettings.
const (
	KeyBaseURL         = "client.base_url"
	KeyTimeout         = "client.timeout"
	KeyBearerToken     = "client.bearer_token"
	KeyHeaders         = "client.headers"
	KeyHostHeaderName  = "client.host_header.name"
	KeyHostHeaderValue = "client.host_header.value"
	KeyRequestID       = "client.request_id_header"
	KeyRateLimitRPS    = "client.rate_limit.rps"
	KeyRateLimitBurst  = "client.rate_limit.burst"
	KeyBreakerEnabled  = "client.breaker.enabled"
	KeyReferenceCycles = "codec.reference_cycles"
	KeyOmitNullFields  = "codec.omit_null_fields"
	KeyRedisAddr       = "redis.addr"
	KeyLogLevel        = "log.level"
	KeyLogEncoding     = "log.encoding"
)

// ClientSettings is the validated client section of the configuration.
// BaseURL is only checked for presence; a malformed one fails at call time
// like it does for apiclient.New.
type ClientSettings struct {
	BaseURL         string        `validate:"required"`
	Timeout         time.Duration `validate:"gte=0"`
	BearerToken     string
	Headers         map[string]string `validate:"dive,keys,required,endkeys"`
	HostHeaderName  string            `validate:"required_with=HostHeaderValue"`
	HostHeaderValue string
	RequestIDHeader string
	RateLimitRPS    float64 `validate:"gte=0"`
	RateLimitBurst  int     `validate:"gte=0"`
	BreakerEnabled  bool
	ReferenceCycles string `validate:"oneof=serialize ignore error"`
	OmitNullFields  bool
	RedisAddr       string `validate:"omitempty,hostname_port"`
}

// ClientDefaults returns the defaults matching a bare apiclient.New.
func ClientDefaults() map[string]any {
	return map[string]any{
		KeyTimeout:         19 * time.Second,
		KeyReferenceCycles: "serialize",
		KeyOmitNullFields:  true,
		KeyRateLimitBurst:  1,
		KeyLogLevel:        "info",
		KeyLogEncoding:     "console",
	}
}

// RegisterClientFlags defines the command line flags bound to the client
// keys. Bind the set with WithPFlags.
func RegisterClientFlags(fs *pflag.FlagSet) {
	fs.String(KeyBaseURL, "", "API base URL")
	fs.Duration(KeyTimeout, 19*time.Second, "per-request timeout")
	fs.String(KeyBearerToken, "", "initial bearer token")
	fs.String(KeyReferenceCycles, "serialize", "reference cycle handling: serialize, ignore or error")
	fs.Bool(KeyOmitNullFields, true, "omit null members from request bodies")
	fs.String(KeyRedisAddr, "", "redis address used to persist the bearer token")
	fs.String(KeyLogLevel, "info", "log level")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadClientSettings reads the client keys and validates them.
func (c *Config) LoadClientSettings() (ClientSettings, error) {
	s := ClientSettings{
		BaseURL:         strings.TrimSpace(c.GetString(KeyBaseURL)),
		Timeout:         c.GetDurationD(KeyTimeout, 19*time.Second),
		BearerToken:     c.GetString(KeyBearerToken),
		Headers:         c.GetStringMapString(KeyHeaders),
		HostHeaderName:  c.GetString(KeyHostHeaderName),
		HostHeaderValue: c.GetString(KeyHostHeaderValue),
		RequestIDHeader: c.GetString(KeyRequestID),
		RateLimitRPS:    c.GetFloat64(KeyRateLimitRPS),
		RateLimitBurst:  c.GetIntD(KeyRateLimitBurst, 1),
		BreakerEnabled:  c.GetBool(KeyBreakerEnabled),
		ReferenceCycles: strings.ToLower(c.GetStringD(KeyReferenceCycles, "serialize")),
		OmitNullFields:  c.GetBoolD(KeyOmitNullFields, true),
		RedisAddr:       c.GetString(KeyRedisAddr),
	}
	if err := s.Validate(); err != nil {
		return ClientSettings{}, err
	}
	return s, nil
}

// Validate checks s against its struct tags.
func (s ClientSettings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid client settings: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' (param=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid client settings: %s", strings.Join(msgs, "; "))
}
