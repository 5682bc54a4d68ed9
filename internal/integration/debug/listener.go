package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// interruptPollInterval is how often Next checks the interrupt probe.
const interruptPollInterval = 100 * time.Millisecond

// InterruptProbe reports whether the user asked to stop waiting.
type InterruptProbe func() bool

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address is host:port. Port 0 picks a free port.
	Address string

	// AcceptTimeout bounds each Next call; zero waits forever.
	AcceptTimeout time.Duration

	// Interrupt is polled while Next waits.
	Interrupt InterruptProbe

	Logger logr.Logger
}

// Listener accepts engine connections on a background goroutine and
// hands them out one at a time.
type Listener struct {
	ln   net.Listener
	cfg  ListenerConfig
	log  logr.Logger
	conn chan net.Conn
	quit chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen opens the listening socket and starts accepting.
func Listen(cfg ListenerConfig) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	l := &Listener{
		ln:   ln,
		cfg:  cfg,
		log:  log.WithName("listener"),
		conn: make(chan net.Conn, 1),
		quit: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	l.log.Info("listening", "addr", ln.Addr().String())
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	if a, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error(err, "accept failed")
			continue
		}
		l.log.V(1).Info("connection accepted", "remote", c.RemoteAddr().String())

		select {
		case l.conn <- c:
		case <-l.quit:
			_ = c.Close()
			return
		}
	}
}

// Next waits for the next engine connection.
func (l *Listener) Next(ctx context.Context) (net.Conn, error) {
	ticker := time.NewTicker(interruptPollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if l.cfg.AcceptTimeout > 0 {
		t := time.NewTimer(l.cfg.AcceptTimeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case c := <-l.conn:
			return c, nil
		case <-l.quit:
			return nil, ErrListenerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("no engine connected within %s: %w", l.cfg.AcceptTimeout, ErrSessionTimeout)
		case <-ticker.C:
			if l.cfg.Interrupt != nil && l.cfg.Interrupt() {
				return nil, ErrUserInterrupt
			}
		}
	}
}

// Close stops accepting and closes any connection nobody picked up.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		err = l.ln.Close()
		l.wg.Wait()
		select {
		case c := <-l.conn:
			_ = c.Close()
		default:
		}
		l.log.Info("listener closed")
	})
	return err
}
