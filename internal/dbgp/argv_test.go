package dbgp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLine2Argv(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"status -i 1", []string{"status", "-i", "1"}},
		{"  run   -i   2  ", []string{"run", "-i", "2"}},
		{`eval -i 3 -- "a b"`, []string{"eval", "-i", "3", "--", "a b"}},
		{`x -f 'it''s'`, []string{"x", "-f", "its"}},
		{`x -f "say \"hi\""`, []string{"x", "-f", `say "hi"`}},
		{`x -f "C:\path\file"`, []string{"x", "-f", `C:\path\file`}},
		{`x -f a\ b`, []string{"x", "-f", "a b"}},
		{`x -f ""`, []string{"x", "-f", ""}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := Line2Argv(tt.line)
		require.NoError(t, err, tt.line)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Line2Argv(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestLine2ArgvUnterminated(t *testing.T) {
	for _, line := range []string{`eval -- "abc`, `x 'abc`} {
		_, err := Line2Argv(line)
		require.Error(t, err)
		assert.Equal(t, ErrorCommandParse, CodeOf(err))
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.String().Draw(t, "value")
		argv, err := Line2Argv("cmd -x " + Quote(value))
		if err != nil {
			t.Fatalf("Line2Argv: %v", err)
		}
		if len(argv) != 3 || argv[2] != value {
			t.Fatalf("round trip of %q gave %q", value, argv)
		}
	})
}

var breakpointSetOptions = []Option{
	{Short: 't', Long: "type", Required: true},
	{Short: 'n', Long: "lineno", Kind: OptInt, Default: "0"},
	{Short: 'f', Long: "filename"},
	{Short: 'h', Long: "hit_value", Kind: OptInt},
}

func TestParseArgs(t *testing.T) {
	argv, err := Line2Argv("-i 7 -t line -n 12 -f file:///a.go -- Zm9v")
	require.NoError(t, err)

	args, err := ParseArgs(argv, breakpointSetOptions)
	require.NoError(t, err)
	assert.Equal(t, "7", args.TransactionID)
	assert.Equal(t, "line", args.String('t'))
	assert.Equal(t, 12, args.Int('n'))
	assert.Equal(t, "file:///a.go", args.String('f'))
	assert.True(t, args.Has('f'))
	assert.False(t, args.Has('h'))
	assert.Equal(t, "Zm9v", args.Data)
}

func TestParseArgsDefaultsAndUnknown(t *testing.T) {
	args, err := ParseArgs([]string{"-t", "call", "-z", "ignored", "-q", "-f", "x"}, breakpointSetOptions)
	require.NoError(t, err)
	assert.Equal(t, "-1", args.TransactionID)
	assert.Equal(t, 0, args.Int('n'))
	assert.Equal(t, "x", args.String('f'))
}

func TestParseArgsLongNames(t *testing.T) {
	args, err := ParseArgs([]string{"--transaction_id", "9", "--type", "line"}, breakpointSetOptions)
	require.NoError(t, err)
	assert.Equal(t, "9", args.TransactionID)
	assert.Equal(t, "line", args.String('t'))
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		argv []string
		code ErrorCode
	}{
		{[]string{"-t", "line", "-t", "call"}, ErrorDuplicateArgs},
		{[]string{"-i", "1", "-i", "2", "-t", "x"}, ErrorDuplicateArgs},
		{[]string{"-n", "3"}, ErrorInvalidArgs},
		{[]string{"-t", "line", "-n", "abc"}, ErrorInvalidArgs},
		{[]string{"-t"}, ErrorInvalidArgs},
	}
	for _, tt := range tests {
		_, err := ParseArgs(tt.argv, breakpointSetOptions)
		require.Error(t, err, "%v", tt.argv)
		assert.Equal(t, tt.code, CodeOf(err), "%v", tt.argv)
	}
}

func TestParseArgsKeepsTransactionIDOnError(t *testing.T) {
	args, err := ParseArgs([]string{"-i", "4", "-n", "x"}, breakpointSetOptions)
	require.Error(t, err)
	assert.Equal(t, "4", args.TransactionID)
}

func TestTransactionIDOf(t *testing.T) {
	assert.Equal(t, "12", TransactionIDOf([]string{"bogus", "-i", "12"}))
	assert.Equal(t, "-1", TransactionIDOf([]string{"bogus"}))
}
