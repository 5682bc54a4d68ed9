package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/config"
	"github.com/dshills/dbgp/internal/config/watcher"
	"github.com/dshills/dbgp/internal/integration/debug"
)

const shutdownTimeout = 10 * time.Second

type listenOptions struct {
	root  *rootOptions
	flags *pflag.FlagSet

	host        string
	port        int
	idekey      string
	proxy       string
	breakpoints string
	pathMaps    []string
	profileDir  string
	watchExprs  []string
	noWatch     bool

	// ready is called with the listening address.
	ready func(net.Addr)
}

func newListenCmd(root *rootOptions) *cobra.Command {
	o := &listenOptions{root: root, ready: root.listenReady}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept engine connections and run every session to completion",
		Long: `listen waits for debugger engines. Each session gets the persisted
breakpoints; every stop is logged with its location, its locals and the
--watch-expr results, then the program resumes. When the program ends
the session is stopped.

Edits to the configuration file re-apply path maps, the idekey (which
re-registers with the proxy) and the log level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.host, "addr", "", "Interface to listen on")
	f.IntVarP(&o.port, "port", "p", config.DefaultPort, "Port to listen on, 0 picks a free one")
	f.StringVarP(&o.idekey, "idekey", "k", "", "Only accept engines presenting this idekey")
	f.StringVar(&o.proxy, "proxy", "", "Register with the DBGP proxy at host:port")
	f.StringVarP(&o.breakpoints, "breakpoints", "b", "", "Breakpoints file, loaded at start and saved at exit")
	f.StringArrayVar(&o.pathMaps, "path-map", nil, "Map a local path prefix to the engine's, local=remote (repeatable)")
	f.StringVar(&o.profileDir, "profile-dir", "", "Write profile_data of code profiling sessions here")
	f.StringArrayVar(&o.watchExprs, "watch-expr", nil, "Evaluate the expression at every stop and log the result (repeatable)")
	f.BoolVar(&o.noWatch, "no-watch", false, "Do not reload the configuration file when it changes")
	o.flags = f
	return cmd
}

// applyFlags lets explicit flags win over the configuration.
func (o *listenOptions) applyFlags(cfg *config.Config) error {
	if o.flags.Changed("addr") {
		cfg.IDE.Host = o.host
	}
	if o.flags.Changed("port") {
		cfg.IDE.Port = o.port
	}
	if o.flags.Changed("idekey") {
		cfg.IDE.IDEKey = o.idekey
	}
	if o.flags.Changed("proxy") {
		cfg.IDE.Proxy = o.proxy
	}
	if o.flags.Changed("breakpoints") {
		cfg.IDE.BreakpointsFile = o.breakpoints
	}
	return cfg.Validate()
}

// mappings merges the configured path maps with --path-map flags.
func (o *listenOptions) mappings(cfg *config.Config) ([]debug.Mapping, error) {
	maps := make([]debug.Mapping, 0, len(cfg.IDE.PathMaps)+len(o.pathMaps))
	for _, pm := range cfg.IDE.PathMaps {
		maps = append(maps, debug.Mapping{Local: pm.Local, Remote: pm.Remote})
	}
	for _, s := range o.pathMaps {
		m, err := debug.ParseMapping(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", app.ErrInvalidConfig, err)
		}
		maps = append(maps, m)
	}
	return maps, nil
}

func (o *listenOptions) run(ctx context.Context) error {
	cfg := o.root.cfg
	if err := o.applyFlags(cfg); err != nil {
		return err
	}
	maps, err := o.mappings(cfg)
	if err != nil {
		return err
	}
	log := o.root.log.Logger

	d := &driver{
		ctx:        ctx,
		log:        log.WithName("dbgpd"),
		fs:         o.root.fs,
		profileDir: o.profileDir,
		watches:    o.watchExprs,
	}
	m := debug.NewManager(debug.ManagerConfig{
		Address:         cfg.IDE.Address(),
		IDEKey:          cfg.IDE.IDEKey,
		ProxyAddress:    cfg.IDE.Proxy,
		AcceptTimeout:   cfg.IDE.AcceptTimeout.Duration,
		ResponseTimeout: cfg.IDE.ResponseTimeout.Duration,
		BreakpointsFile: cfg.IDE.BreakpointsFile,
		PathMaps:        maps,
		Handlers:        d.handlers(),
		Fs:              o.root.fs,
		Logger:          log,
	})

	if cfg.IDE.BreakpointsFile != "" {
		if err := m.Store().Load(ctx); err != nil {
			return app.Wrap("load", cfg.IDE.BreakpointsFile, err)
		}
	}

	if err := m.Listen(ctx); err != nil {
		return app.Wrap("listen", cfg.IDE.Address(), err)
	}
	log.Info("listening", "addr", m.Addr().String(), "idekey", cfg.IDE.IDEKey, "proxy", cfg.IDE.Proxy)

	if !o.noWatch && o.root.configPath != "" {
		w, err := o.watch(ctx, m, log)
		if err != nil {
			log.Error(err, "config reload disabled", "file", o.root.configPath)
		} else {
			defer w.Close()
		}
	}
	if o.ready != nil {
		o.ready(m.Addr())
	}

	var result *multierror.Error
	if err := m.Serve(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := m.Shutdown(sctx); err != nil {
		result = multierror.Append(result, err)
	}
	if errors.Is(sctx.Err(), context.DeadlineExceeded) {
		result = multierror.Append(result, app.ErrShutdownTimeout)
	}
	log.Info("stopped listening")
	return result.ErrorOrNil()
}

func (o *listenOptions) watch(ctx context.Context, m *debug.Manager, log logr.Logger) (*watcher.Watcher, error) {
	w, err := watcher.New(watcher.WithLogger(log.WithName("config")))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(o.root.configPath); err != nil {
		_ = w.Close()
		return nil, err
	}
	w.OnChange(func(ev watcher.Event) {
		if ev.Op == watcher.OpRemove {
			return
		}
		o.reload(ctx, m, log)
	})
	if err := w.Start(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// reload re-reads the configuration and applies what a running
// listener can change.
func (o *listenOptions) reload(ctx context.Context, m *debug.Manager, log logr.Logger) {
	cfg, err := o.root.loadConfig()
	if err == nil {
		err = o.applyFlags(cfg)
	}
	var maps []debug.Mapping
	if err == nil {
		maps, err = o.mappings(cfg)
	}
	if err != nil {
		log.Error(err, "config reload failed, keeping the previous settings")
		return
	}

	m.SetPathMaps(maps)
	if cfg.IDE.IDEKey != o.root.cfg.IDE.IDEKey {
		if err := m.SetIDEKey(ctx, cfg.IDE.IDEKey); err != nil {
			log.Error(err, "re-registering with the proxy failed", "idekey", cfg.IDE.IDEKey)
		}
	}
	if level, err := app.ParseLogLevel(cfg.Log.Level); err == nil {
		o.root.log.SetLevel(level)
	}
	o.root.cfg = cfg
	log.Info("configuration reloaded", "pathMaps", len(maps), "idekey", cfg.IDE.IDEKey)
}
