package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/dbgp/internal/app"
	"github.com/dshills/dbgp/internal/integration/debug"
)

var errNoBreakpointsFile = errors.New("no breakpoints file: set ide.breakpoints_file or pass --file")

type breakpointsOptions struct {
	root *rootOptions
	file string
}

func newBreakpointsCmd(root *rootOptions) *cobra.Command {
	o := &breakpointsOptions{root: root}
	cmd := &cobra.Command{
		Use:     "breakpoints",
		Aliases: []string{"bp"},
		Short:   "Edit the persisted breakpoints listen hands to every session",
	}
	cmd.PersistentFlags().StringVarP(&o.file, "file", "f", "", "Breakpoints file (default from ide.breakpoints_file)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List breakpoints",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := o.open(cmd.Context())
				if err != nil {
					return err
				}
				return printBreakpoints(cmd.OutOrStdout(), store.List())
			},
		},
		o.newAddCmd(),
		&cobra.Command{
			Use:   "remove ID...",
			Short: "Remove breakpoints by the id list shows",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.edit(cmd.Context(), func(ctx context.Context, store *debug.Store) error {
					for _, a := range args {
						id, err := strconv.Atoi(a)
						if err != nil {
							return fmt.Errorf("breakpoint id %q: %w", a, err)
						}
						if err := store.Remove(ctx, id); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every breakpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.edit(cmd.Context(), func(ctx context.Context, store *debug.Store) error {
					return store.RemoveAll(ctx)
				})
			},
		},
	)
	return cmd
}

type addOptions struct {
	language  string
	condition string
	call      string
	ret       string
	exception string
	watch     string
	temporary bool
	disabled  bool
}

func (o *breakpointsOptions) newAddCmd() *cobra.Command {
	a := &addOptions{}
	cmd := &cobra.Command{
		Use:   "add [FILE:LINE]",
		Short: "Add a breakpoint",
		Example: `  dbgpd breakpoints add src/main.lua:12
  dbgpd breakpoints add src/main.lua:40 --condition "n > 10"
  dbgpd breakpoints add --call handle_request --language lua
  dbgpd breakpoints add --exception error`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.edit(cmd.Context(), func(ctx context.Context, store *debug.Store) error {
				bp, err := a.breakpoint(args)
				if err != nil {
					return err
				}
				added, err := store.Add(ctx, bp)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %d: %s\n", added.GUID, added)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&a.language, "language", "l", "", "Only send to engines for this language")
	f.StringVar(&a.condition, "condition", "", "Stop only when the expression is true")
	f.StringVar(&a.call, "call", "", "Stop when the function is called")
	f.StringVar(&a.ret, "return", "", "Stop when the function returns")
	f.StringVar(&a.exception, "exception", "", "Stop when the exception is raised")
	f.StringVar(&a.watch, "watch", "", "Stop when the expression's value changes")
	f.BoolVar(&a.temporary, "temporary", false, "Remove the breakpoint after its first hit")
	f.BoolVar(&a.disabled, "disabled", false, "Add the breakpoint disabled")
	cmd.MarkFlagsMutuallyExclusive("call", "return", "exception", "watch")
	return cmd
}

func (a *addOptions) breakpoint(args []string) (*debug.Breakpoint, error) {
	bp := &debug.Breakpoint{
		Language:  a.language,
		State:     debug.StateEnabled,
		Temporary: a.temporary,
	}
	if a.disabled {
		bp.State = debug.StateDisabled
	}

	switch {
	case a.call != "":
		bp.Type, bp.Function = debug.BreakpointCall, a.call
	case a.ret != "":
		bp.Type, bp.Function = debug.BreakpointReturn, a.ret
	case a.exception != "":
		bp.Type, bp.Exception = debug.BreakpointException, a.exception
	case a.watch != "":
		bp.Type, bp.Expression = debug.BreakpointWatch, a.watch
	}
	if bp.Type != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s breakpoints take no FILE:LINE", bp.Type)
		}
		return bp, nil
	}

	if len(args) == 0 {
		return nil, errors.New("a line breakpoint needs FILE:LINE")
	}
	file, line, err := parseLocation(args[0])
	if err != nil {
		return nil, err
	}
	bp.Type, bp.Filename, bp.Line = debug.BreakpointLine, file, line
	if a.condition != "" {
		bp.Type, bp.Expression = debug.BreakpointConditional, a.condition
	}
	return bp, nil
}

// parseLocation splits FILE:LINE at the last colon, so Windows drive
// letters survive, and makes the file absolute.
func parseLocation(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("location %q: want FILE:LINE", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("location %q: bad line number", s)
	}
	file, err := filepath.Abs(s[:i])
	if err != nil {
		return "", 0, err
	}
	return file, line, nil
}

func (o *breakpointsOptions) path() (string, error) {
	if o.file != "" {
		return o.file, nil
	}
	if f := o.root.cfg.IDE.BreakpointsFile; f != "" {
		return f, nil
	}
	return "", errNoBreakpointsFile
}

func (o *breakpointsOptions) open(ctx context.Context) (*debug.Store, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}
	store := debug.NewStore(o.root.fs, o.root.log.Logger)
	store.SetPersistPath(path)
	if err := store.Load(ctx); err != nil {
		return nil, app.Wrap("load", path, err)
	}
	return store, nil
}

// edit loads the store, applies fn and saves the result.
func (o *breakpointsOptions) edit(ctx context.Context, fn func(context.Context, *debug.Store) error) error {
	store, err := o.open(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, store); err != nil {
		return err
	}
	if err := store.Save(); err != nil {
		path, _ := o.path()
		return app.Wrap("save", path, err)
	}
	return nil
}

func printBreakpoints(w io.Writer, bps []*debug.Breakpoint) error {
	if len(bps) == 0 {
		_, err := fmt.Fprintln(w, "no breakpoints")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tLOCATION\tSTATE\tLANGUAGE\tCONDITION")
	for _, bp := range bps {
		location := bp.Function
		switch bp.Type {
		case debug.BreakpointLine, debug.BreakpointConditional, debug.BreakpointSpawn:
			location = fmt.Sprintf("%s:%d", bp.Filename, bp.Line)
		case debug.BreakpointException:
			location = bp.Exception
		case debug.BreakpointWatch:
			location = "-"
		}
		language := bp.Language
		if language == "" {
			language = "any"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", bp.GUID, bp.Type, location, bp.State, language, bp.Expression)
	}
	return tw.Flush()
}
