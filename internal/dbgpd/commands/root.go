// Package commands implements the dbgpd command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/backend"
	"github.com/dshills/dbgp/internal/config"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// rootOptions holds the persistent flags and what they produce.
type rootOptions struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
	logFile    string

	fs      afero.Fs
	environ func() []string

	cfg *config.Config
	log *app.Logger

	// listenReady, when set, is called once listen accepts connections.
	listenReady func(net.Addr)
}

// loadConfig reads the configuration and applies the logging flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Path:     o.configPath,
		EnvFiles: o.envFiles,
		Fs:       o.fs,
		Environ:  o.environ,
	})
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.logFile != "" {
		cfg.Log.File = o.logFile
	}
	return cfg, cfg.Validate()
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return app.Wrap("load", o.configPath, err)
	}
	lc, err := cfg.Log.LoggerConfig()
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()
	log, err := app.NewLogger(lc)
	if err != nil {
		return err
	}
	o.cfg, o.log = cfg, log
	return nil
}

func (o *rootOptions) teardown() error {
	if o.log == nil {
		return nil
	}
	log := o.log
	o.log = nil
	return log.Close()
}

// Execute runs the command line in args and flushes the log.
func Execute(ctx context.Context, info BuildInfo, args []string) error {
	o := &rootOptions{fs: afero.NewOsFs(), environ: os.Environ}
	return execute(ctx, newRootCmd(info, o), o, args)
}

func execute(ctx context.Context, root *cobra.Command, o *rootOptions, args []string) error {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if terr := o.teardown(); err == nil {
		err = terr
	}
	return err
}

func newRootCmd(info BuildInfo, o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "dbgpd",
		Short: "Headless DBGP debugger front end",
		Long: `dbgpd accepts connections from DBGP debugger engines, keeps a persistent
set of breakpoints in sync with every session and logs where each program
stops before letting it run on.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "dbgp.toml", "Configuration file")
	pf.StringSliceVar(&o.envFiles, "env-file", []string{".env"}, "Files with DBGP_* variables, read before the environment")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: console or json")
	pf.StringVar(&o.logFile, "log-file", "", "Write the log to a rotated file")

	root.AddCommand(
		newListenCmd(o),
		newConsoleCmd(o),
		newBreakpointsCmd(o),
		newVersionCmd(info),
	)
	return root
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// version needs neither configuration nor a logger
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(cmd.OutOrStdout(), info)
		},
	}
}

func printVersion(w io.Writer, info BuildInfo) error {
	_, err := fmt.Fprintf(w, "dbgpd %s (commit %s, built %s)\nDBGP protocol %s\n", info.Version, info.Commit, info.Date, backend.ProtocolVersion)
	return err
}
