package backend

import (
	"encoding/base64"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/dshills/dbgp/internal/dbgp"
)

// errDeferred marks a command whose response dispatch does not send.
var errDeferred = errors.New("response deferred")

type handler func(c *Client, args *dbgp.Args, resp *dbgp.Element) error

type command struct {
	opts []dbgp.Option
	run  handler
}

var commandTable map[string]command

func init() {
	idOpt := dbgp.Option{Short: 'd', Long: "breakpoint_id", Kind: dbgp.OptInt, Required: true}
	depthOpt := dbgp.Option{Short: 'd', Long: "depth", Kind: dbgp.OptInt, Default: "0"}
	contextOpt := dbgp.Option{Short: 'c', Long: "context_id", Kind: dbgp.OptInt, Default: "0"}
	propertyOpts := []dbgp.Option{
		depthOpt, contextOpt,
		{Short: 'n', Long: "name", Required: true},
		{Short: 'm', Long: "max_data", Kind: dbgp.OptInt},
		{Short: 'p', Long: "page", Kind: dbgp.OptInt, Default: "0"},
		{Short: 't', Long: "type"},
		{Short: 'k', Long: "key"},
		{Short: 'a', Long: "address"},
	}
	breakpointOpts := []dbgp.Option{
		{Short: 's', Long: "state", Default: "enabled"},
		{Short: 'n', Long: "lineno", Kind: dbgp.OptInt},
		{Short: 'h', Long: "hit_value", Kind: dbgp.OptInt},
		{Short: 'o', Long: "hit_condition"},
		{Short: 'r', Long: "temporary", Kind: dbgp.OptInt, Default: "0"},
	}

	commandTable = map[string]command{
		"status":      {run: cmdStatus},
		"feature_get": {opts: []dbgp.Option{{Short: 'n', Long: "feature_name", Required: true}}, run: cmdFeatureGet},
		"feature_set": {opts: []dbgp.Option{
			{Short: 'n', Long: "feature_name", Required: true},
			{Short: 'v', Long: "value", Required: true},
		}, run: cmdFeatureSet},

		dbgp.CmdRun:      {run: continueWith(dbgp.CmdRun)},
		dbgp.CmdStepInto: {run: continueWith(dbgp.CmdStepInto)},
		dbgp.CmdStepOver: {run: continueWith(dbgp.CmdStepOver)},
		dbgp.CmdStepOut:  {run: continueWith(dbgp.CmdStepOut)},
		dbgp.CmdStop:     {run: cmdStop},
		dbgp.CmdDetach:   {run: cmdDetach},
		"break":          {run: cmdBreak},

		"breakpoint_set": {opts: append([]dbgp.Option{
			{Short: 't', Long: "type", Required: true},
			{Short: 'f', Long: "filename"},
			{Short: 'm', Long: "function"},
			{Short: 'x', Long: "exception"},
		}, breakpointOpts...), run: cmdBreakpointSet},
		"breakpoint_get":     {opts: []dbgp.Option{idOpt}, run: cmdBreakpointGet},
		"breakpoint_update":  {opts: append([]dbgp.Option{idOpt}, breakpointOpts...), run: cmdBreakpointUpdate},
		"breakpoint_enable":  {opts: []dbgp.Option{idOpt}, run: cmdBreakpointEnable},
		"breakpoint_disable": {opts: []dbgp.Option{idOpt}, run: cmdBreakpointDisable},
		"breakpoint_remove":  {opts: []dbgp.Option{idOpt}, run: cmdBreakpointRemove},
		"breakpoint_list":    {run: cmdBreakpointList},

		"stack_depth":    {run: cmdStackDepth},
		"stack_get":      {opts: []dbgp.Option{depthOpt}, run: cmdStackGet},
		"context_names":  {opts: []dbgp.Option{depthOpt}, run: cmdContextNames},
		"context_get":    {opts: []dbgp.Option{depthOpt, contextOpt}, run: cmdContextGet},
		"property_get":   {opts: propertyOpts, run: cmdPropertyGet},
		"property_value": {opts: propertyOpts, run: cmdPropertyValue},
		"property_set": {opts: append(slices.Clone(propertyOpts),
			dbgp.Option{Short: 'l', Long: "length", Kind: dbgp.OptInt}), run: cmdPropertySet},
		"eval": {opts: []dbgp.Option{{Short: 'p', Long: "page", Kind: dbgp.OptInt, Default: "0"}}, run: cmdEval},
		"source": {opts: []dbgp.Option{
			{Short: 'f', Long: "file"},
			{Short: 'b', Long: "begin_line", Kind: dbgp.OptInt, Default: "0"},
			{Short: 'e', Long: "end_line", Kind: dbgp.OptInt, Default: "0"},
		}, run: cmdSource},
		"typemap_get": {run: cmdTypemapGet},

		"stdout": {opts: []dbgp.Option{{Short: 'c', Long: "copy", Kind: dbgp.OptInt, Required: true}}, run: cmdStdout},
		"stderr": {opts: []dbgp.Option{{Short: 'c', Long: "copy", Kind: dbgp.OptInt, Required: true}}, run: cmdStderr},
		"stdin":  {opts: []dbgp.Option{{Short: 'c', Long: "copy", Kind: dbgp.OptInt}}, run: cmdStdin},

		"interact":     {opts: []dbgp.Option{{Short: 'm', Long: "mode", Kind: dbgp.OptInt, Default: "1"}}, run: cmdInteract},
		"profile_data": {run: cmdProfileData},
		"help":         {run: cmdHelp},
	}
}

// handleWhileRunning answers a command read while the program runs.
// It returns false when the command should go to the command loop.
func (c *Client) handleWhileRunning(argv []string) bool {
	if c.Status() != dbgp.StatusRunning {
		return false
	}
	if !dbgp.IsAsync(argv[0]) {
		tid := dbgp.TransactionIDOf(argv)
		c.sendError(argv[0], tid, dbgp.Errorf(dbgp.ErrorCommandNotAvailable,
			"command %q is not available while running", argv[0]))
		return true
	}
	c.dispatch(argv)
	return true
}

// dispatch runs one command and sends its response. Stop and detach
// close the session once their response is out.
func (c *Client) dispatch(argv []string) {
	name := argv[0]
	cmd, ok := commandTable[name]
	if !ok {
		c.sendError(name, dbgp.TransactionIDOf(argv),
			dbgp.Errorf(dbgp.ErrorCommandNotSupported, "command %q is not supported", name))
		return
	}

	args, err := dbgp.ParseArgs(argv[1:], cmd.opts)
	if err != nil {
		c.sendError(name, dbgp.TransactionIDOf(argv), err)
		return
	}

	resp := dbgp.NewResponse(name, args.TransactionID)
	err = c.invoke(cmd, args, resp)
	switch {
	case errors.Is(err, errDeferred):
		return
	case err != nil:
		c.log.V(1).Info("command failed", "command", name, "error", err.Error())
		c.sendError(name, args.TransactionID, err)
	default:
		_ = c.send(resp)
	}
	if c.finished() {
		c.close()
	}
}

// invoke runs a handler, turning a panic into an internal exception.
func (c *Client) invoke(cmd command, args *dbgp.Args, resp *dbgp.Element) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Errorf("%v", r), "command handler panicked", "stack", string(debug.Stack()))
			err = dbgp.Errorf(dbgp.ErrorException, "%v", r)
		}
	}()
	return cmd.run(c, args, resp)
}

// asError converts any error into a DBGP error.
func asError(err error) *dbgp.Error {
	var de *dbgp.Error
	if errors.As(err, &de) {
		return de
	}
	return dbgp.NewError(dbgp.ErrorUnknown, err.Error())
}

// decodeData decodes the base64 data block of a command.
func decodeData(args *dbgp.Args) (string, error) {
	b, err := dbgp.DecodeData(args.Data, "base64")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func cmdStatus(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	c.mu.Lock()
	status, reason, msg := c.status, c.reason, c.lastError
	c.mu.Unlock()

	resp.Attr("status", status.String()).Attr("reason", reason.String())
	if msg != "" {
		payload, _ := dbgp.EncodeText(msg, "none")
		resp.CDATA(payload)
	}
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// featureValue returns the current value of a feature.
func (c *Client) featureValue(name string) (string, bool) {
	o := c.dbg.opts
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "language_supports_threads":
		return flag(o.SupportsThreads), true
	case "language_name":
		return o.Language, true
	case "language_version":
		return o.LanguageVersion, true
	case "encoding":
		return c.feat.encoding, true
	case "data_encoding":
		return c.feat.dataEncoding, true
	case "protocol_version":
		return ProtocolVersion, true
	case "supports_async":
		return "1", true
	case "supports_postmortem":
		return "0", true
	case "multiple_sessions":
		return flag(c.feat.multipleSessions), true
	case "max_children":
		return strconv.Itoa(c.feat.maxChildren), true
	case "max_data":
		return strconv.Itoa(c.feat.maxData), true
	case "max_depth":
		return strconv.Itoa(c.feat.maxDepth), true
	case "show_hidden":
		return flag(c.feat.showHidden), true
	case "notify_ok":
		return flag(c.feat.notifyOK), true
	case "breakpoint_languages":
		return o.Language, true
	case "breakpoint_types":
		return "line conditional watch call return exception", true
	}
	return "", false
}

func cmdFeatureGet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	name := args.String('n')
	resp.Attr("feature_name", name)

	if v, ok := c.featureValue(name); ok {
		resp.Attr("supported", "1")
		payload, _ := dbgp.EncodeText(v, "none")
		resp.CDATA(payload)
		return nil
	}
	if _, ok := commandTable[name]; ok {
		resp.Attr("supported", "1")
		return nil
	}
	resp.Attr("supported", "0")
	return nil
}

func cmdFeatureSet(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	name, value := args.String('n'), args.String('v')

	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return dbgp.Errorf(dbgp.ErrorInvalidArgs, "invalid value %q for %s", value, name)
		}
		c.mu.Lock()
		*dst = n
		c.mu.Unlock()
		return nil
	}
	setBool := func(dst *bool) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return dbgp.Errorf(dbgp.ErrorInvalidArgs, "invalid value %q for %s", value, name)
		}
		c.mu.Lock()
		*dst = n != 0
		c.mu.Unlock()
		return nil
	}

	var err error
	switch name {
	case "encoding":
		if _, lerr := htmlindex.Get(value); lerr != nil {
			return dbgp.Errorf(dbgp.ErrorEncoding, "encoding %q is not supported", value)
		}
		c.mu.Lock()
		c.feat.encoding = value
		c.mu.Unlock()
	case "data_encoding":
		if value != "base64" && value != "none" {
			return dbgp.Errorf(dbgp.ErrorEncoding, "data encoding %q is not supported", value)
		}
		c.mu.Lock()
		c.feat.dataEncoding = value
		c.mu.Unlock()
	case "max_children":
		err = setInt(&c.feat.maxChildren)
	case "max_data":
		err = setInt(&c.feat.maxData)
	case "max_depth":
		err = setInt(&c.feat.maxDepth)
	case "show_hidden":
		err = setBool(&c.feat.showHidden)
	case "notify_ok":
		err = setBool(&c.feat.notifyOK)
	case "multiple_sessions":
		err = setBool(&c.feat.multipleSessions)
	default:
		return dbgp.Errorf(dbgp.ErrorInvalidArgs, "feature %q can not be set", name)
	}
	if err != nil {
		return err
	}
	resp.Attr("feature_name", name).Attr("success", "1")
	return nil
}

// continueWith resumes the program. The response goes out at the next
// stop.
func continueWith(name string) handler {
	return func(c *Client, args *dbgp.Args, _ *dbgp.Element) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch c.status {
		case dbgp.StatusStarting, dbgp.StatusBreak, dbgp.StatusInteractive:
		default:
			return dbgp.Errorf(dbgp.ErrorCommandNotAvailable, "can not %s in state %s", name, c.status)
		}
		c.status, c.reason = dbgp.StatusRunning, dbgp.ReasonOK
		c.contTID, c.contCmd = args.TransactionID, name
		c.resume = name
		return errDeferred
	}
}

func cmdStop(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	c.quitting.Store(true)
	c.setStatus(dbgp.StatusStopped, dbgp.ReasonOK)
	resp.Attr("status", dbgp.StatusStopped.String()).Attr("reason", dbgp.ReasonOK.String())
	c.log.Info("stop requested by IDE")
	return nil
}

func cmdDetach(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	c.detached.Store(true)
	c.setStatus(dbgp.StatusStopped, dbgp.ReasonOK)
	resp.Attr("status", dbgp.StatusStopped.String()).Attr("reason", dbgp.ReasonOK.String())
	c.log.Info("detached by IDE")
	return nil
}

func cmdBreak(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	if c.Status() != dbgp.StatusRunning {
		return dbgp.Errorf(dbgp.ErrorCommandNotAvailable, "break is only available while running")
	}
	resp.Attr("success", "1")
	if err := c.send(resp); err != nil {
		return errDeferred
	}
	c.interrupt.Store(true)
	return errDeferred
}

func cmdStdout(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if err := c.stdout.setMode(args.Int('c')); err != nil {
		return err
	}
	resp.Attr("success", "1")
	return nil
}

func cmdStderr(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if err := c.stderr.setMode(args.Int('c')); err != nil {
		return err
	}
	resp.Attr("success", "1")
	return nil
}

func cmdStdin(c *Client, args *dbgp.Args, resp *dbgp.Element) error {
	if args.Has('c') {
		if err := c.stdin.setRedirect(args.Int('c') != 0); err != nil {
			return err
		}
		resp.Attr("success", "1")
		return nil
	}
	data, err := dbgp.DecodeData(args.Data, "base64")
	if err != nil {
		return err
	}
	if err := c.stdin.feed(data); err != nil {
		return err
	}
	resp.Attr("success", "1")
	return nil
}

func cmdProfileData(c *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	if c.dbg.profile == nil {
		return dbgp.Errorf(dbgp.ErrorCommandNotSupported, "engine is not profiling")
	}
	data, err := c.dbg.profile()
	if err != nil {
		return dbgp.Errorf(dbgp.ErrorUnknown, "profile data: %v", err)
	}
	resp.Attr("encoding", "base64").CDATA(base64.StdEncoding.EncodeToString(data))
	return nil
}

func cmdHelp(_ *Client, _ *dbgp.Args, resp *dbgp.Element) error {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	slices.Sort(names)
	resp.CDATA(strings.Join(names, "\n"))
	return nil
}
