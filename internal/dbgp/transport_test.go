package dbgp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWriteMessageFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("<a/>")))
	assert.Equal(t, "4\x00<a/>\x00", buf.String())
}

func TestReadMessage(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("5\x00hello\x000\x00\x00"))

	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	assert.Empty(t, msg)

	_, err = ReadMessage(r)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadMessageEOFInEveryPhase(t *testing.T) {
	for _, input := range []string{
		"",           // before length
		"12",         // inside length
		"5\x00hel",   // inside payload
		"5\x00hello", // before terminator
		"5\x00",      // right after length
	} {
		_, err := ReadMessage(bufio.NewReader(bytes.NewBufferString(input)))
		assert.ErrorIs(t, err, ErrConnectionClosed, "%q", input)
	}
}

func TestReadMessageProtocolErrors(t *testing.T) {
	for _, input := range []string{
		"1a\x00x\x00",
		"\x00x\x00",
		"-1\x00\x00",
		"1\x00xy",
	} {
		_, err := ReadMessage(bufio.NewReader(bytes.NewBufferString(input)))
		assert.ErrorIs(t, err, ErrProtocol, "%q", input)
	}
}

func TestReadMessageTooLarge(t *testing.T) {
	_, err := ReadMessage(bufio.NewReader(bytes.NewBufferString("999999999999\x00")))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloads := rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 1, 8).Draw(t, "payloads")

		var buf bytes.Buffer
		for _, p := range payloads {
			if err := WriteMessage(&buf, p); err != nil {
				t.Fatalf("write: %v", err)
			}
		}

		// One byte per read exercises chunking independence.
		r := bufio.NewReaderSize(iotest.OneByteReader(&buf), 16)
		for i, want := range payloads {
			got, err := ReadMessage(r)
			if err != nil {
				t.Fatalf("read %d: %v", i, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("payload %d: got %q want %q", i, got, want)
			}
		}
		if _, err := ReadMessage(r); !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected closed after last message, got %v", err)
		}
	})
}

func TestCommandFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCommand(&buf, "status -i 1"))
	require.NoError(t, WriteCommand(&buf, "run -i 2"))
	assert.Equal(t, "status -i 1\x00run -i 2\x00", buf.String())

	r := bufio.NewReader(&buf)
	cmd, err := ReadCommand(r)
	require.NoError(t, err)
	assert.Equal(t, "status -i 1", cmd)

	cmd, err = ReadCommand(r)
	require.NoError(t, err)
	assert.Equal(t, "run -i 2", cmd)

	_, err = ReadCommand(r)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = ReadCommand(bufio.NewReader(bytes.NewBufferString("partial")))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteErrors(t *testing.T) {
	err := WriteMessage(failingWriter{io.ErrClosedPipe}, []byte("x"))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	boom := errors.New("boom")
	err = WriteCommand(failingWriter{boom}, "x")
	assert.ErrorIs(t, err, boom)
}

func TestConnOverPipe(t *testing.T) {
	a, b := net.Pipe()
	engine := NewConn(a)
	ide := NewConn(b)
	defer engine.Close()
	defer ide.Close()

	go func() {
		_ = ide.SendCommand("feature_get -i 1 -n language_name")
	}()
	cmd, err := engine.ReceiveCommand()
	require.NoError(t, err)
	assert.Equal(t, "feature_get -i 1 -n language_name", cmd)

	go func() {
		_ = engine.Send([]byte("<response/>"))
	}()
	msg, err := ide.Receive()
	require.NoError(t, err)
	assert.Equal(t, "<response/>", string(msg))

	require.NoError(t, engine.Close())
	_, err = ide.Receive()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
