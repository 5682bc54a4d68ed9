package dbgp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// MaxMessageLength is the maximum allowed payload length for a framed message (64MB).
const MaxMessageLength = 64 * 1024 * 1024

// WriteMessage writes payload as one engine-to-IDE frame: the decimal
// length, a NUL, the payload, and a trailing NUL.
func WriteMessage(w io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+24)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, 0)
	frame = append(frame, payload...)
	frame = append(frame, 0)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", closedOr(err))
	}
	return nil
}

// ReadMessage reads one engine-to-IDE frame and returns its payload.
// EOF in any phase yields ErrConnectionClosed.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	length := 0
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read length: %w", closedOr(err))
		}
		if b == 0 {
			break
		}
		if b < '0' || b > '9' {
			return nil, fmt.Errorf("read length: unexpected byte %q: %w", b, ErrProtocol)
		}
		length = length*10 + int(b-'0')
		digits++
		if length > MaxMessageLength {
			return nil, fmt.Errorf("read length: %w", ErrMessageTooLarge)
		}
	}
	if digits == 0 {
		return nil, fmt.Errorf("read length: empty length: %w", ErrProtocol)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", closedOr(err))
	}

	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read terminator: %w", closedOr(err))
	}
	if b != 0 {
		return nil, fmt.Errorf("read terminator: unexpected byte %q: %w", b, ErrProtocol)
	}
	return payload, nil
}

// WriteCommand writes an IDE-to-engine command terminated by one NUL.
func WriteCommand(w io.Writer, cmd string) error {
	buf := make([]byte, 0, len(cmd)+1)
	buf = append(buf, cmd...)
	buf = append(buf, 0)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write command: %w", closedOr(err))
	}
	return nil
}

// ReadCommand reads one NUL-terminated command.
func ReadCommand(r *bufio.Reader) (string, error) {
	line, err := r.ReadString(0)
	if err != nil {
		return "", fmt.Errorf("read command: %w", closedOr(err))
	}
	return line[:len(line)-1], nil
}

// closedOr maps end-of-stream conditions to ErrConnectionClosed.
func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrConnectionClosed
	}
	return err
}

// Conn is a DBGP connection over a stream socket. Writes are serialized;
// reads must come from a single goroutine.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewConn(conn), nil
}

// Send writes a framed message.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return WriteMessage(c.conn, payload)
}

// Receive reads a framed message.
func (c *Conn) Receive() ([]byte, error) {
	return ReadMessage(c.reader)
}

// SendCommand writes a NUL-terminated command.
func (c *Conn) SendCommand(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return WriteCommand(c.conn, cmd)
}

// ReceiveCommand reads a NUL-terminated command.
func (c *Conn) ReceiveCommand() (string, error) {
	return ReadCommand(c.reader)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
