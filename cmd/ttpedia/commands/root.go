package commands

import (
	"context"
	"flag"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkgw/tectonopedia-ng/internal/app"
)

var (
	home        string
	syncURL     string
	apiBase     string
	loadTimeout time.Duration
	wire        *app.Wire
)

// Execute runs the CLI with os.Args.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

// newRootCmd builds the command tree. Flag defaults come from the
// environment; a malformed environment is reported when a command runs.
func newRootCmd() *cobra.Command {
	env, envErr := app.ConfigFromEnv()
	if envErr != nil {
		env = app.Config{Home: app.DefaultHome()}
	}

	root := &cobra.Command{
		Use:          "ttpedia",
		Short:        "Tectonopedia document sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			w, err := app.NewWire(cmd.Context(), app.Config{
				Home:        home,
				SyncURL:     syncURL,
				APIBase:     apiBase,
				LoadTimeout: loadTimeout,
			})
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", env.Home, "state dir ($TTPEDIA_HOME)")
	root.PersistentFlags().StringVar(&syncURL, "sync", env.SyncURL, "sync endpoint, e.g. ws://127.0.0.1:29180/ttpapi1/repo/sync ($TTPEDIA_REPO_SYNC_URL); empty runs offline")
	root.PersistentFlags().StringVar(&apiBase, "api", env.APIBase, "API base URL, e.g. http://127.0.0.1:29180 ($TTPEDIA_API_BASE)")
	root.PersistentFlags().DurationVar(&loadTimeout, "load-timeout", env.LoadTimeout, "how long to wait for a document from the peer ($TTPEDIA_LOAD_TIMEOUT)")
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(identityCmd(), importCmd(), showCmd(), watchCmd(), submitCmd())
	return root
}
