package debug

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/dshills/dbgp/internal/dbgp"
)

// ProxyConfig configures a ProxyClient.
type ProxyConfig struct {
	// Address is the proxy's IDE registration address.
	Address string

	// Port is the port this IDE listens on.
	Port int

	IDEKey string

	// Attempts bounds registration retries.
	Attempts uint64

	// Timeout bounds one round trip.
	Timeout time.Duration

	Logger logr.Logger
}

// ProxyClient registers the IDE with a DBGP proxy so engines can reach
// it by idekey.
type ProxyClient struct {
	cfg ProxyConfig
	log logr.Logger

	mu         sync.Mutex
	key        string
	registered bool
	address    string
	port       int
}

// NewProxyClient creates a proxy client. Nothing is sent until Register.
func NewProxyClient(cfg ProxyConfig) *ProxyClient {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResponseTimeout
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &ProxyClient{
		cfg: cfg,
		log: log.WithName("proxy").WithValues("proxy", cfg.Address),
		key: cfg.IDEKey,
	}
}

// Registered reports whether the proxy accepted the last proxyinit.
func (p *ProxyClient) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

// EngineAddress returns the address engines should connect to, as
// reported by the proxy.
func (p *ProxyClient) EngineAddress() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address, p.port
}

// Key returns the registered idekey.
func (p *ProxyClient) Key() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// Register sends proxyinit for the current key.
func (p *ProxyClient) Register(ctx context.Context) error {
	key := p.Key()
	cmd := dbgp.NewCommand("proxyinit").
		WithInt('p', p.cfg.Port).
		With('k', key).
		With('m', "1")

	n, err := p.retry(ctx, cmd)
	if err != nil {
		return fmt.Errorf("register with proxy %s: %w", p.cfg.Address, err)
	}

	p.mu.Lock()
	p.registered = true
	p.address = n.Attr("address")
	p.port = n.AttrInt("port")
	p.mu.Unlock()
	p.log.Info("registered with proxy", "idekey", key, "engine_address", n.Attr("address"), "engine_port", n.AttrInt("port"))
	return nil
}

// Deregister sends proxystop for the current key.
func (p *ProxyClient) Deregister(ctx context.Context) error {
	if !p.Registered() {
		return nil
	}
	key := p.Key()
	if _, err := p.retry(ctx, dbgp.NewCommand("proxystop").With('k', key)); err != nil {
		return fmt.Errorf("deregister from proxy %s: %w", p.cfg.Address, err)
	}
	p.mu.Lock()
	p.registered = false
	p.mu.Unlock()
	p.log.Info("deregistered from proxy", "idekey", key)
	return nil
}

// SetKey changes the idekey, re-registering when registered.
func (p *ProxyClient) SetKey(ctx context.Context, key string) error {
	if key == p.Key() {
		return nil
	}
	wasRegistered := p.Registered()
	if wasRegistered {
		if err := p.Deregister(ctx); err != nil {
			p.log.Error(err, "deregister old key failed")
		}
	}
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
	if !wasRegistered {
		return nil
	}
	return p.Register(ctx)
}

// retry runs a round trip with exponential back-off. Refusals by the
// proxy are not retried.
func (p *ProxyClient) retry(ctx context.Context, cmd *dbgp.Command) (*dbgp.Node, error) {
	var n *dbgp.Node
	op := func() error {
		var err error
		n, err = p.roundTrip(ctx, cmd)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.Attempts), ctx)
	notify := func(err error, wait time.Duration) {
		p.log.Info("proxy not reachable, retrying", "command", cmd.Name, "error", err.Error(), "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return n, nil
}

// roundTrip sends one proxy command and reads the reply. Proxies answer
// either with a framed message or with bare XML before closing.
func (p *ProxyClient) roundTrip(ctx context.Context, cmd *dbgp.Command) (*dbgp.Node, error) {
	d := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.cfg.Address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(p.cfg.Timeout))

	// proxies key on the command text alone; no transaction id
	line := cmd.Name
	for _, a := range cmd.Args {
		line += fmt.Sprintf(" -%c %s", a.Flag, dbgp.Quote(a.Value))
	}
	if err := dbgp.WriteCommand(conn, line); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(conn)
	if err != nil && len(raw) == 0 {
		return nil, err
	}
	payload := bytes.TrimRight(raw, "\x00")
	if len(payload) > 0 && payload[0] >= '0' && payload[0] <= '9' {
		if payload, err = dbgp.ReadMessage(bufio.NewReader(bytes.NewReader(raw))); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	n, err := dbgp.ParseNode(payload)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if de := n.Err(); de != nil {
		return nil, backoff.Permanent(de)
	}
	if n.HasAttr("success") && !n.AttrBool("success") {
		return nil, backoff.Permanent(fmt.Errorf("%s refused by proxy", cmd.Name))
	}
	return n, nil
}
