package dbgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandEncode(t *testing.T) {
	cmd := NewCommand("breakpoint_set").
		With('t', "line").
		With('f', "file:///my app/main.go").
		WithInt('n', 12).
		WithData([]byte("x > 1"))

	line := cmd.Encode(5)
	assert.Equal(t, `breakpoint_set -i 5 -t line -f "file:///my app/main.go" -n 12 -- eCA+IDE=`, line)

	argv, err := Line2Argv(line)
	require.NoError(t, err)
	args, err := ParseArgs(argv[1:], []Option{
		{Short: 't'}, {Short: 'f'}, {Short: 'n', Kind: OptInt},
	})
	require.NoError(t, err)
	assert.Equal(t, "5", args.TransactionID)
	assert.Equal(t, "file:///my app/main.go", args.String('f'))
	assert.Equal(t, 12, args.Int('n'))

	data, err := DecodeData(args.Data, "base64")
	require.NoError(t, err)
	assert.Equal(t, "x > 1", string(data))
}

func TestCommandRawData(t *testing.T) {
	cmd := NewCommand("stdin").WithData([]byte("abc"))
	cmd.RawData = true
	assert.Equal(t, "stdin -i 1 -- abc", cmd.Encode(1))

	v, ok := NewCommand("x").With('c', "1").Arg('c')
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = NewCommand("x").Arg('c')
	assert.False(t, ok)
}

func TestDecodeData(t *testing.T) {
	out, err := DecodeData("plain", "none")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	_, err = DecodeData("!!!", "base64")
	assert.Equal(t, ErrorEncoding, CodeOf(err))
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "no such breakpoint", ErrorMessage(ErrorBreakpointDoesNotExist))
	assert.Equal(t, "unknown error", ErrorMessage(ErrorCode(12345)))

	err := NewError(ErrorStackDepth, "")
	assert.Equal(t, "stack depth invalid", err.Message)
	assert.ErrorIs(t, err, &Error{Code: ErrorStackDepth})
	assert.NotErrorIs(t, err, &Error{Code: ErrorContextInvalid})
	assert.Equal(t, ErrorOK, CodeOf(nil))
	assert.Equal(t, ErrorUnknown, CodeOf(assert.AnError))
}

func TestStatusNames(t *testing.T) {
	for _, name := range []string{"starting", "stopping", "stopped", "running", "break", "interactive"} {
		s, ok := ParseStatus(name)
		require.True(t, ok, name)
		assert.Equal(t, name, s.String())
	}
	_, ok := ParseStatus("bogus")
	assert.False(t, ok)

	r, ok := ParseReason("exception")
	assert.True(t, ok)
	assert.Equal(t, ReasonException, r)

	assert.True(t, IsContinuation("step_over"))
	assert.False(t, IsContinuation("stop"))
	assert.True(t, IsAsync("break"))
	assert.False(t, IsAsync("eval"))
}
