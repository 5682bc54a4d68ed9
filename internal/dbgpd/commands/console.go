package commands

import (
	"github.com/spf13/cobra"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/backend"
)

type consoleOptions struct {
	root    *rootOptions
	address string
	idekey  string
}

func newConsoleCmd(root *rootOptions) *cobra.Command {
	o := &consoleOptions{root: root}
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open an interactive Lua console in a debugger front end",
		Long: `console connects to a DBGP front end (or proxy) as an engine with no
program. The front end drives the console with the interact command; the
session ends when the front end stops it or leaves interactive mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.address, "connect", "", "Front end host:port (default from the engine configuration)")
	f.StringVarP(&o.idekey, "idekey", "k", "", "idekey to present")
	return cmd
}

func (o *consoleOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	ec := o.root.cfg.Engine
	ec.Interactive = true

	opts := ec.ConnectOptions()
	opts.Interactive = true
	if o.address != "" {
		opts.Address = o.address
	}
	if o.idekey != "" {
		opts.IDEKey = o.idekey
	}
	opts.Stdin = cmd.InOrStdin()
	opts.Stdout = cmd.OutOrStdout()
	opts.Stderr = cmd.ErrOrStderr()

	d := backend.New(
		backend.WithOptions(ec.Options()),
		backend.WithLogger(o.root.log.Logger),
	)
	c, err := d.Connect(ctx, opts)
	if err != nil {
		return app.Wrap("connect", opts.Address, err)
	}
	c.Finish(ctx)
	return nil
}
