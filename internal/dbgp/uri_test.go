package dbgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileURIRoundTrip(t *testing.T) {
	assert.Equal(t, "file:///home/u/a%20b.go", FileURI("/home/u/a b.go"))
	assert.Equal(t, "dbgp:///eval", FileURI("<eval>"))
	assert.Equal(t, "file:///x", FileURI("file:///x"))
	assert.Empty(t, FileURI(""))

	assert.Equal(t, "/home/u/a b.go", URIToPath("file:///home/u/a%20b.go"))
	assert.Equal(t, "/x", URIToPath("file://localhost/x"))
	assert.Equal(t, "plain", URIToPath("plain"))
}

func TestIsPseudoFile(t *testing.T) {
	assert.True(t, IsPseudoFile("<string>"))
	assert.False(t, IsPseudoFile("/a/<b>.go"))
	assert.False(t, IsPseudoFile(""))
}
