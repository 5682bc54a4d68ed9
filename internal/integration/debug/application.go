package debug

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Application groups the sessions of one debugged program, one per
// thread.
type Application struct {
	id string

	mu       sync.Mutex
	sessions []*Session
	current  *Session
}

// ID returns the engine's appid.
func (a *Application) ID() string { return a.id }

// Sessions returns the sessions ordered by thread id.
func (a *Application) Sessions() []*Session {
	a.mu.Lock()
	out := slices.Clone(a.sessions)
	a.mu.Unlock()

	slices.SortStableFunc(out, func(x, y *Session) int {
		return compareIDs(x.Thread(), y.Thread())
	})
	return out
}

// compareIDs orders numeric ids numerically and everything
// else lexically.
func compareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na - nb
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SessionCount returns the number of live sessions.
func (a *Application) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// CurrentSession returns the session the user is looking at.
func (a *Application) CurrentSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SetCurrentSession makes s current if it belongs to a.
func (a *Application) SetCurrentSession(s *Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.sessions, s) {
		return false
	}
	a.current = s
	return true
}

func (a *Application) add(s *Session) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	if a.current == nil {
		a.current = s
	}
	return len(a.sessions)
}

// remove drops s and returns how many sessions remain.
func (a *Application) remove(s *Session) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = slices.DeleteFunc(a.sessions, func(x *Session) bool { return x == s })
	if a.current == s {
		a.current = nil
		if len(a.sessions) > 0 {
			a.current = a.sessions[0]
		}
	}
	return len(a.sessions)
}

// Shutdown stops every session of the application.
func (a *Application) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range a.Sessions() {
		if err := s.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Applications is the registry of running applications keyed by appid.
type Applications struct {
	mu   sync.Mutex
	apps map[string]*Application
}

// NewApplications creates an empty registry.
func NewApplications() *Applications {
	return &Applications{apps: make(map[string]*Application)}
}

// Add registers s with its application, creating it on first sight. It
// returns the application and its session count after the add.
func (r *Applications) Add(s *Session) (*Application, int) {
	r.mu.Lock()
	app, ok := r.apps[s.AppID()]
	if !ok {
		app = &Application{id: s.AppID()}
		r.apps[s.AppID()] = app
	}
	r.mu.Unlock()
	return app, app.add(s)
}

// Get returns the application with the given appid.
func (r *Applications) Get(appid string) (*Application, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[appid]
	return app, ok
}

// Release removes s. An application with no sessions left is dropped.
func (r *Applications) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[s.AppID()]
	if !ok {
		return
	}
	if app.remove(s) == 0 {
		delete(r.apps, s.AppID())
	}
}

// List returns the applications ordered by appid.
func (r *Applications) List() []*Application {
	r.mu.Lock()
	out := make([]*Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b *Application) int { return compareIDs(a.id, b.id) })
	return out
}

// Shutdown stops every session of every application.
func (r *Applications) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, app := range r.List() {
		if err := app.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
