package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/milan604/jsonapi-client/pkg/apiclient"
	"github.com/milan604/jsonapi-client/pkg/observability"
)

var (
	errRequestFailed = errors.New("request failed")
	json             = jsoniter.ConfigCompatibleWithStandardLibrary
)

type requestOptions struct {
	*GlobalOptions
	showMetrics bool
}

func (o *requestOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.showMetrics, "metrics", false, "print exchange metrics to stderr after the call")
}

func (o *requestOptions) prepare() (*apiclient.Client, error) {
	if o.showMetrics {
		o.metrics = observability.NewPrometheusCollector()
	}
	return o.client()
}

// call runs exchange and, when it failed on a 401 that the login handler
// resolved, runs it once more with the new token.
func (o *requestOptions) call(exchange func() (any, bool)) (any, bool) {
	o.loggedIn.Store(false)
	v, ok := exchange()
	if !ok && o.loggedIn.Swap(false) {
		o.log.InfoF("retrying with the new token")
		v, ok = exchange()
	}
	return v, ok
}

func (o *requestOptions) finish(out io.Writer, v any, ok bool) error {
	if o.showMetrics && o.metrics != nil {
		if err := dumpMetrics(o.metrics, os.Stderr); err != nil {
			o.log.WarnF("dump metrics: %v", err)
		}
	}
	if !ok {
		return errRequestFailed
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func dumpMetrics(pc *observability.PrometheusCollector, w io.Writer) error {
	families, err := pc.Registry().Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// NewGetCommand creates the get command.
func NewGetCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &requestOptions{GlobalOptions: globalOpts}

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "GET <base-url>/PATH and print the JSON response",
		Example: `  # Fetch user 7 from the local mock API
  apiclient get users/7 --client.base_url http://localhost:8085 --login.username demo --login.password demo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.prepare()
			if err != nil {
				return err
			}
			v, ok := opts.call(func() (any, bool) {
				return apiclient.Get[any](cmd.Context(), c, args[0])
			})
			return opts.finish(cmd.OutOrStdout(), v, ok)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

// NewPostCommand creates the post command.
func NewPostCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &requestOptions{GlobalOptions: globalOpts}
	var data string

	cmd := &cobra.Command{
		Use:   "post PATH",
		Short: "POST a JSON body to <base-url>/PATH and print the JSON response",
		Example: `  apiclient post users --data '{"age":33,"count":11,"name":"Demo User"}'

  # Read the body from stdin
  echo '{"name":"Ada"}' | apiclient post users --data -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			c, err := opts.prepare()
			if err != nil {
				return err
			}
			v, ok := opts.call(func() (any, bool) {
				return apiclient.Send[any, any](cmd.Context(), c, args[0], body)
			})
			return opts.finish(cmd.OutOrStdout(), v, ok)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "JSON request body, or - to read stdin")
	opts.addFlags(cmd)
	return cmd
}

func readBody(data string, stdin io.Reader) (any, error) {
	if data == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		data = string(b)
	}
	var body any
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &body); err != nil {
		return nil, fmt.Errorf("--data is not valid JSON: %w", err)
	}
	return body, nil
}
