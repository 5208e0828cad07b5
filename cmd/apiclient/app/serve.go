package app

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/milan604/jsonapi-client/internal/mockapi"
)

const (
	keyRotate   = "rotate"
	keyAccounts = "mockapi.accounts"
)

type serveOptions struct {
	*GlobalOptions
	addr   string
	secret string
	ttl    time.Duration
	rotate bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &serveOptions{GlobalOptions: globalOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock user API",
		Long: `Run a local JSON API to try the client against. Log in with POST /login
({"username":"demo","password":"demo"}), then GET /users/:id or POST /users
with the returned bearer token.

Extra accounts come from the mockapi.accounts map (username: password) of the
config file. Edits to rotate and mockapi.accounts in that file apply without a
restart.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationWatchConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mockapi.New(
				mockapi.WithLogger(opts.log),
				mockapi.WithSecret(opts.secret),
				mockapi.WithTokenTTL(opts.ttl),
			)
			opts.apply(srv)
			opts.OnReload(func() { opts.apply(srv) })
			return srv.Serve(ctx, opts.addr)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8085", "listen address")
	cmd.Flags().StringVar(&opts.secret, "secret", "mockapi-dev-secret", "HS256 signing secret")
	cmd.Flags().DurationVar(&opts.ttl, "token-ttl", time.Hour, "lifetime of issued tokens")
	cmd.Flags().BoolVar(&opts.rotate, keyRotate, false, "return a fresh token in X-Authorization on every authorized call")
	return cmd
}

// apply pushes the reloadable settings into a running server.
func (o *serveOptions) apply(srv *mockapi.Server) {
	srv.SetTokenRotation(o.cfg.GetBool(keyRotate))
	for username, password := range o.cfg.GetStringMapString(keyAccounts) {
		srv.SetAccount(username, password)
	}
}
