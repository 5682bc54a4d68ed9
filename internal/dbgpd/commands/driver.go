package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/dshills/dbgp/internal/dbgp"
	"github.com/dshills/dbgp/internal/integration/debug"
)

// driver runs sessions unattended: it logs each stop and resumes, and
// stops the session once the program has ended.
type driver struct {
	ctx        context.Context
	log        logr.Logger
	fs         afero.Fs
	profileDir string

	// watches are evaluated at every stop.
	watches []string
}

func (d *driver) handlers() debug.SessionHandlers {
	return debug.SessionHandlers{
		OnStarted: d.started,
		OnBreak:   d.stopped,
		OnOutput:  d.output,
		OnNotify:  d.notify,
		OnProfile: d.profile,
		OnError:   d.failed,
		OnClosed:  d.closed,
	}
}

func (d *driver) sessionLog(s *debug.Session) logr.Logger {
	return d.log.WithValues("appid", s.AppID(), "thread", s.Thread())
}

func (d *driver) started(s *debug.Session) {
	info := s.Info()
	d.sessionLog(s).Info("session started",
		"language", s.Features().LanguageName,
		"file", s.PathMap().LocalPath(info.FileURI),
		"idekey", info.IDEKey,
		"host", info.Hostname,
	)
	d.resume(s)
}

func (d *driver) resume(s *debug.Session) {
	if err := s.Resume(d.ctx, debug.ResumeRun); err != nil {
		d.sessionLog(s).Error(err, "resume failed")
	}
}

func (d *driver) stopped(s *debug.Session, snap *debug.Snapshot) {
	log := d.sessionLog(s)
	switch snap.Status {
	case dbgp.StatusStopping:
		log.Info("program finished", "reason", snap.Reason.String())
		if err := s.Stop(d.ctx); err != nil {
			log.Error(err, "stop failed")
		}
		return
	case dbgp.StatusBreak, dbgp.StatusInteractive:
	default:
		return
	}

	nav := debug.NewStackNavigator(s)
	nav.Set(snap.Stack)
	location := "<unknown>"
	if f := nav.CurrentFrame(); f != nil {
		location = f.FormatLocation()
		if f.Where != "" {
			location = f.Where + " at " + location
		}
	}
	locals := make([]string, 0, len(snap.Locals))
	for _, p := range snap.Locals {
		locals = append(locals, debug.FormatProperty(p))
	}
	log.Info("stopped", "reason", snap.Reason.String(), "location", location, "locals", locals)
	log.V(1).Info("stack", "trace", nav.FormatStackTrace())

	insp := debug.NewVariableInspector(s)
	if len(d.watches) > 0 {
		d.logWatches(log, insp)
	}
	if v := log.V(1); v.Enabled() {
		d.logScopes(v, insp)
	}

	d.resume(s)
}

func (d *driver) logWatches(log logr.Logger, insp *debug.VariableInspector) {
	for _, w := range d.watches {
		insp.AddWatch(w)
	}
	insp.UpdateWatches(d.ctx)
	values := make([]string, 0, len(d.watches))
	for _, p := range insp.WatchResults() {
		if p.HasChildren && len(p.Children) == 0 {
			if err := insp.Expand(d.ctx, p); err != nil {
				log.V(1).Info("expanding watch failed", "watch", p.FullName, "error", err.Error())
			}
		}
		values = append(values, formatValue(p))
	}
	log.Info("watches", "values", values)
}

func (d *driver) logScopes(log logr.Logger, insp *debug.VariableInspector) {
	scopes, err := insp.Scopes(d.ctx, 0)
	if err != nil {
		log.Info("reading scopes failed", "error", err.Error())
		return
	}
	contexts := make([]debug.Context, 0, len(scopes))
	for c := range scopes {
		contexts = append(contexts, c)
	}
	slices.SortFunc(contexts, func(a, b debug.Context) int { return a.ID - b.ID })
	for _, c := range contexts {
		vars := make([]string, 0, len(scopes[c]))
		for _, p := range scopes[c] {
			vars = append(vars, debug.FormatProperty(p))
		}
		log.Info("scope", "context", c.Name, "variables", vars)
	}
}

// formatValue renders a property, listing the names of a container's
// first page of children.
func formatValue(p *debug.Property) string {
	if len(p.Children) == 0 {
		return debug.FormatProperty(p)
	}
	names := make([]string, 0, len(p.Children))
	for _, c := range p.Children {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("%s = {%s}", p.FullName, strings.Join(names, ", "))
}

func (d *driver) output(s *debug.Session, stream string, data []byte) {
	d.sessionLog(s).Info("program output", "stream", stream, "text", strings.TrimRight(string(data), "\n"))
}

func (d *driver) notify(s *debug.Session, name string, _ *dbgp.Node) {
	d.sessionLog(s).V(1).Info("notification", "name", name)
}

func (d *driver) failed(s *debug.Session, op string, err error) {
	d.sessionLog(s).Error(err, "command failed", "op", op)
}

func (d *driver) closed(s *debug.Session, err error) {
	log := d.sessionLog(s)
	if err != nil {
		log.Error(err, "session lost")
		return
	}
	log.Info("session ended")
}

func (d *driver) profile(s *debug.Session, data []byte) {
	log := d.sessionLog(s)
	if d.profileDir == "" {
		log.Info("profile received, not saved", "bytes", len(data))
		return
	}
	name := filepath.Join(d.profileDir, fmt.Sprintf("%s-%s.prof", s.AppID(), time.Now().Format("20060102T150405")))
	if err := d.fs.MkdirAll(d.profileDir, 0o755); err != nil {
		log.Error(err, "saving profile failed", "dir", d.profileDir)
		return
	}
	if err := afero.WriteFile(d.fs, name, data, 0o644); err != nil {
		log.Error(err, "saving profile failed", "file", name)
		return
	}
	log.Info("profile saved", "file", name, "bytes", len(data))
}
