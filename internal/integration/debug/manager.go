package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/dshills/dbgp/internal/dbgp"
)

// BufferProbe reports whether the editor has unsaved buffers.
type BufferProbe func() bool

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Address is where engines connect, host:port.
	Address string
	IDEKey  string

	// ProxyAddress, when set, registers the IDE with a DBGP proxy.
	ProxyAddress string

	AcceptTimeout   time.Duration
	ResponseTimeout time.Duration

	// BreakpointsFile persists the breakpoint store.
	BreakpointsFile string

	PathMaps []Mapping

	Interrupt InterruptProbe
	Unsaved   BufferProbe
	Handlers  SessionHandlers

	Fs     afero.Fs
	Logger logr.Logger
}

// Manager owns the listener, proxy registration, application registry
// and breakpoint store of an IDE.
type Manager struct {
	cfg     ManagerConfig
	log     logr.Logger
	store   *Store
	apps    *Applications
	pathMap *PathMap

	mu       sync.Mutex
	idekey   string
	listener *Listener
	proxy    *ProxyClient

	wg sync.WaitGroup
}

// NewManager creates a manager. Nothing listens until Listen.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	m := &Manager{
		cfg:     cfg,
		log:     cfg.Logger.WithName("debug"),
		store:   NewStore(cfg.Fs, cfg.Logger),
		apps:    NewApplications(),
		pathMap: NewPathMap(cfg.PathMaps...),
		idekey:  cfg.IDEKey,
	}
	if cfg.BreakpointsFile != "" {
		m.store.SetPersistPath(cfg.BreakpointsFile)
	}
	return m
}

// Store returns the breakpoint store.
func (m *Manager) Store() *Store { return m.store }

// Applications returns the application registry.
func (m *Manager) Applications() *Applications { return m.apps }

// PathMap returns the path map shared by all sessions.
func (m *Manager) PathMap() *PathMap { return m.pathMap }

// Addr returns the listening address, or nil before Listen.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Listen starts accepting engine connections and registers with the
// proxy. It refuses while the editor has unsaved buffers.
func (m *Manager) Listen(ctx context.Context) error {
	if m.cfg.Unsaved != nil && m.cfg.Unsaved() {
		return ErrUnsavedBuffers
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return nil
	}

	l, err := Listen(ListenerConfig{
		Address:       m.cfg.Address,
		AcceptTimeout: m.cfg.AcceptTimeout,
		Interrupt:     m.cfg.Interrupt,
		Logger:        m.cfg.Logger,
	})
	if err != nil {
		return err
	}

	if m.cfg.ProxyAddress != "" {
		p := NewProxyClient(ProxyConfig{
			Address: m.cfg.ProxyAddress,
			Port:    l.Port(),
			IDEKey:  m.idekey,
			Timeout: m.cfg.ResponseTimeout,
			Logger:  m.cfg.Logger,
		})
		if err := p.Register(ctx); err != nil {
			_ = l.Close()
			return err
		}
		m.proxy = p
	}
	m.listener = l
	return nil
}

// Serve hands every accepted connection to a new session until ctx ends,
// the listener closes or the user interrupts. Accept timeouts are
// logged and waiting continues. Ending ctx is not an error.
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l == nil {
		return ErrListenerClosed
	}

	for {
		conn, err := l.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionTimeout):
			m.log.Info("still waiting for an engine", "addr", l.Addr().String())
			continue
		case errors.Is(err, ErrListenerClosed):
			return nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil
		default:
			return err
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.startSession(ctx, conn); err != nil {
				m.log.Error(err, "session refused", "remote", conn.RemoteAddr().String())
			}
		}()
	}
}

// startSession runs the handshake, negotiation and initial breakpoint
// sync for one connection.
func (m *Manager) startSession(ctx context.Context, conn net.Conn) (*Session, error) {
	m.mu.Lock()
	key := m.idekey
	m.mu.Unlock()

	s, err := Handshake(ctx, conn, SessionConfig{
		IDEKey:          key,
		ResponseTimeout: m.cfg.ResponseTimeout,
		PathMap:         m.pathMap,
		Logger:          m.cfg.Logger,
		Handlers:        m.cfg.Handlers,
	})
	if err != nil {
		return nil, err
	}

	_, count := m.apps.Add(s)
	go func() {
		<-s.Done()
		m.store.ReleaseSession(s)
		m.apps.Release(s)
	}()

	if s.Info().Profiling {
		return s, m.collectProfile(ctx, s)
	}

	if err := s.Initialize(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	if err := m.store.AttachSession(ctx, s); err != nil {
		s.reportError("initial breakpoint sync", err)
	}
	if s.isClosed() {
		m.store.ReleaseSession(s)
		return s, nil
	}

	if count == 1 {
		if h := m.cfg.Handlers.OnStarted; h != nil {
			h(s)
		}
		return s, nil
	}
	if s.Status() == dbgp.StatusStarting {
		// new threads run until they reach a breakpoint
		if err := s.Resume(ctx, ResumeRun); err != nil {
			s.reportError("resume thread", err)
		}
	}
	return s, nil
}

func (m *Manager) collectProfile(ctx context.Context, s *Session) error {
	data, err := s.ProfileData(ctx)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("profile_data: %w", err)
	}
	if h := m.cfg.Handlers.OnProfile; h != nil {
		h(s, data)
	}
	return s.Stop(ctx)
}

// SetIDEKey changes the idekey checked at handshake and registered with
// the proxy.
func (m *Manager) SetIDEKey(ctx context.Context, key string) error {
	m.mu.Lock()
	m.idekey = key
	p := m.proxy
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.SetKey(ctx, key)
}

// SetPathMaps replaces the path maps of every session.
func (m *Manager) SetPathMaps(maps []Mapping) {
	m.pathMap.Set(maps)
}

// Stop deregisters from the proxy and closes the listener. Running
// sessions are left alone.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	l, p := m.listener, m.proxy
	m.listener, m.proxy = nil, nil
	m.mu.Unlock()

	var result *multierror.Error
	if p != nil {
		if err := p.Deregister(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if l != nil {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Shutdown stops listening, stops every session and saves breakpoints.
func (m *Manager) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := m.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.apps.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	m.wg.Wait()
	if m.cfg.BreakpointsFile != "" {
		if err := m.store.Save(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
