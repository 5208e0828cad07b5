// Package app implements the apiclient command line: one-off GET and POST
// calls against a JSON API, and a local mock API to try them against.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/milan604/jsonapi-client/pkg/apiclient"
	"github.com/milan604/jsonapi-client/pkg/config"
	"github.com/milan604/jsonapi-client/pkg/logger"
	"github.com/milan604/jsonapi-client/pkg/observability"
	"github.com/milan604/jsonapi-client/pkg/tokenstore"
	"github.com/milan604/jsonapi-client/pkg/version"
)

const (
	cliName     = "apiclient"
	envPrefix   = "APICLIENT"
	keyUsername = "login.username"
	keyPassword = "login.password"

	// annotationWatchConfig marks commands that reload settings when the
	// config file changes.
	annotationWatchConfig = "apiclient/watch-config"
)

// GlobalOptions holds state shared by all commands.
type GlobalOptions struct {
	ConfigFile string

	cfg     *config.Config
	log     logger.LogManager
	obs     *observability.Observability
	metrics *observability.PrometheusCollector

	ctx      context.Context
	loggedIn atomic.Bool

	mu       sync.Mutex
	clients  map[string]*apiclient.Client
	onReload []func()
}

// NewRootCommand creates the root command with all subcommands.
func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{clients: map[string]*apiclient.Client{}}

	cmd := &cobra.Command{
		Use:   cliName,
		Short: "Call a JSON API with bearer-token auth",
		Long: `apiclient sends GET and POST requests to a JSON API and prints the decoded
response. Settings come from flags, APICLIENT_* environment variables and an
optional config file, in that order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			opts.close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default: apiclient.yaml in ., ~/.config/apiclient, /etc/apiclient)")
	config.RegisterClientFlags(pf)
	pf.String(keyUsername, "", "username used to log in and retry once when the API answers 401 (the token outlives the process only with --redis.addr)")
	pf.String(keyPassword, "", "password used to log in when the API answers 401")
	pf.String(observability.KeyEndpoint, "", "OTLP/HTTP endpoint for traces (host:port); tracing is off when empty")

	cmd.AddCommand(
		NewGetCommand(opts),
		NewPostCommand(opts),
		NewServeCommand(opts),
		NewVersionCommand(opts),
	)
	return cmd
}

func (o *GlobalOptions) init(cmd *cobra.Command) error {
	o.ctx = cmd.Context()
	if o.ctx == nil {
		o.ctx = context.Background()
	}

	source := config.WithConfigNamePaths(cliName)
	if o.ConfigFile != "" {
		source = config.WithFile(o.ConfigFile)
	}
	cfgOpts := []config.Option{
		config.WithDefaults(config.ClientDefaults()),
		source,
		config.WithEnv(envPrefix),
		config.WithPFlags(cmd.Flags()),
		config.WithSensitiveKeys(config.KeyBearerToken, keyPassword, keyAccounts),
	}
	if cmd.Annotations[annotationWatchConfig] == "true" {
		cfgOpts = append(cfgOpts, config.WithWatch(o.reload))
	}
	cfg, err := config.New(cfgOpts...)
	if err != nil {
		return err
	}
	o.cfg = cfg

	o.log, err = logger.NewLogger(logger.LoggerOptions{
		Level:    cfg.GetString(config.KeyLogLevel),
		Encoding: cfg.GetString(config.KeyLogEncoding),
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	o.log.DebugF("build: %v", version.Info())
	o.log.DebugF("effective settings: %v", cfg.MaskedSettings())

	if cfg.GetString(observability.KeyEndpoint) != "" {
		o.obs, err = observability.New(o.log, cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// OnReload registers fn to run after the watched config file changed.
func (o *GlobalOptions) OnReload(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReload = append(o.onReload, fn)
}

func (o *GlobalOptions) reload(name string) {
	o.mu.Lock()
	hooks := append([]func(){}, o.onReload...)
	o.mu.Unlock()

	if o.log != nil {
		o.log.InfoF("config file %s changed, reloading", name)
	}
	for _, fn := range hooks {
		fn()
	}
}

func (o *GlobalOptions) close() {
	if o.obs != nil {
		_ = o.obs.Shutdown(context.Background())
	}
	if o.log != nil {
		_ = o.log.Sync()
	}
}

// client returns the cached client for the configured base URL, building it
// on first use.
func (o *GlobalOptions) client() (*apiclient.Client, error) {
	settings, err := o.cfg.LoadClientSettings()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[settings.BaseURL]; ok {
		return c, nil
	}

	extra := []apiclient.Option{apiclient.WithLogger(o.log)}
	if o.metrics != nil {
		extra = append(extra, apiclient.WithMetrics(o.metrics))
	}
	if o.obs != nil {
		extra = append(extra,
			apiclient.WithTracer(o.obs.Tracer()),
			apiclient.WithMetrics(o.obs.Metrics()),
		)
	}
	if settings.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		extra = append(extra, apiclient.WithTokenStore(
			tokenstore.NewRedis(rdb, tokenstore.KeyFor(settings.BaseURL), 24*time.Hour),
		))
	}

	c, err := apiclient.NewFromSettings(settings, extra...)
	if err != nil {
		return nil, err
	}
	c.SetDefaultHeader("User-Agent", version.UserAgent())
	o.wireCallbacks(c)
	o.clients[settings.BaseURL] = c
	return c, nil
}

// wireCallbacks logs every failure kind and, when credentials are
// configured, logs in on 401 so a retried call carries a fresh token.
func (o *GlobalOptions) wireCallbacks(c *apiclient.Client) {
	username, password := o.cfg.GetString(keyUsername), o.cfg.GetString(keyPassword)
	var loggingIn atomic.Bool

	c.OnUnauthorized(func() {
		if username == "" {
			o.log.WarnF("unauthorized; set --%s/--%s or --%s", keyUsername, keyPassword, config.KeyBearerToken)
			return
		}
		// A 401 from the login call itself must not log in again.
		if !loggingIn.CompareAndSwap(false, true) {
			return
		}
		defer loggingIn.Store(false)

		o.log.InfoF("unauthorized; logging in as %s", username)
		resp, ok := apiclient.Send[loginRequest, loginResponse](o.ctx, c, "login",
			loginRequest{Username: username, Password: password})
		if ok && resp.Token != "" {
			c.SetBearerToken(resp.Token)
			o.loggedIn.Store(true)
			o.log.InfoF("logged in as %s", username)
		}
	}).OnRequestNotOk(func(status int) {
		o.log.WarnF("request rejected with status %d", status)
	}).OnNetworkError(func(msg string) {
		o.log.ErrorF("%s", msg)
	}).OnServerError(func(msg string) {
		o.log.ErrorF("%s", msg)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}
