package backend

import (
	"bytes"
	"io"
	"sync"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Stream modes set by the stdout and stderr commands.
const (
	StreamDisable  = 0
	StreamCopy     = 1
	StreamRedirect = 2
)

// streamOut writes program output to the original stream, to the IDE,
// or both.
type streamOut struct {
	client *Client
	kind   string
	orig   io.Writer

	mu   sync.Mutex
	mode int
}

func (s *streamOut) Write(p []byte) (int, error) {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	if mode != StreamDisable && len(p) > 0 && !s.client.finished() {
		_ = s.client.send(dbgp.NewStream(s.kind, p))
	}
	if mode == StreamRedirect {
		return len(p), nil
	}
	return s.orig.Write(p)
}

// setMode changes the mode. Setting the current mode again fails.
func (s *streamOut) setMode(mode int) error {
	if mode < StreamDisable || mode > StreamRedirect {
		return dbgp.Errorf(dbgp.ErrorInvalidArgs, "invalid %s mode %d", s.kind, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == mode {
		return dbgp.Errorf(dbgp.ErrorStreamRedirectFailed, "%s is already in mode %d", s.kind, mode)
	}
	s.mode = mode
	return nil
}

// streamIn reads from the original stdin, or from data the IDE sends
// with the stdin command once redirection is on.
type streamIn struct {
	client *Client
	orig   io.Reader

	mu         sync.Mutex
	cond       *sync.Cond
	buf        bytes.Buffer
	redirected bool
	eof        bool
	stopped    bool
}

func newStreamIn(c *Client, orig io.Reader) *streamIn {
	s := &streamIn{client: c, orig: orig}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *streamIn) Read(p []byte) (int, error) {
	s.mu.Lock()
	if !s.redirected {
		s.mu.Unlock()
		return s.orig.Read(p)
	}
	defer s.mu.Unlock()

	notified := false
	for s.buf.Len() == 0 && !s.eof && !s.stopped && s.redirected {
		if !notified {
			notified = true
			s.mu.Unlock()
			s.notify()
			s.mu.Lock()
			continue
		}
		s.cond.Wait()
	}
	if s.buf.Len() > 0 {
		return s.buf.Read(p)
	}
	if !s.redirected && !s.stopped {
		// redirection was switched off while waiting
		s.mu.Unlock()
		n, err := s.orig.Read(p)
		s.mu.Lock()
		return n, err
	}
	return 0, io.EOF
}

// notify tells the IDE a read is waiting.
func (s *streamIn) notify() {
	c := s.client
	c.mu.Lock()
	ok := c.feat.notifyOK
	c.mu.Unlock()
	if ok && !c.finished() {
		_ = c.send(dbgp.NewNotify("stdin"))
	}
}

// setRedirect turns redirection on or off. Repeating the current
// setting fails.
func (s *streamIn) setRedirect(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redirected == on {
		return dbgp.Errorf(dbgp.ErrorStreamRedirectFailed, "stdin redirection is already %s", onOff(on))
	}
	s.redirected = on
	if on {
		s.eof = false
		s.buf.Reset()
	}
	s.cond.Broadcast()
	return nil
}

// feed appends IDE data. Empty data closes the stream.
func (s *streamIn) feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.redirected {
		return dbgp.Errorf(dbgp.ErrorStreamRedirectFailed, "stdin is not redirected")
	}
	if len(data) == 0 {
		s.eof = true
	} else {
		s.buf.Write(data)
	}
	s.cond.Broadcast()
	return nil
}

// stop releases blocked readers when the session ends.
func (s *streamIn) stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
