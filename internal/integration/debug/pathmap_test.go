package debug

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping(" /home/dev/proj = /srv/app ")
	require.NoError(t, err)
	assert.Equal(t, Mapping{Local: "/home/dev/proj", Remote: "/srv/app"}, m)

	for _, bad := range []string{"", "/a", "=/b", "/a="} {
		_, err := ParseMapping(bad)
		assert.Error(t, err, bad)
	}
}

func TestPathMapLongestPrefixWins(t *testing.T) {
	pm := NewPathMap(
		Mapping{Local: "/home/dev", Remote: "/srv"},
		Mapping{Local: "/home/dev/proj", Remote: "/opt/app"},
	)

	tests := []struct {
		local  string
		remote string
	}{
		{"/home/dev/proj/main.lua", "/opt/app/main.lua"},
		{"/home/dev/other/x.lua", "/srv/other/x.lua"},
		{"/home/dev/project/x.lua", "/srv/project/x.lua"},
		{"/tmp/y.lua", "/tmp/y.lua"},
	}
	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			assert.Equal(t, tt.remote, pm.ToRemote(tt.local))
			assert.Equal(t, filepath.FromSlash(tt.local), pm.ToLocal(tt.remote))
		})
	}
}

func TestPathMapWindowsRemote(t *testing.T) {
	pm := NewPathMap(Mapping{Local: "/home/dev/proj", Remote: `C:\work\proj`})

	assert.Equal(t, `C:\work\proj\lib\a.lua`, pm.ToRemote("/home/dev/proj/lib/a.lua"))
	assert.Equal(t, filepath.FromSlash("/home/dev/proj/lib/a.lua"), pm.ToLocal(`c:\WORK\proj\lib\a.lua`))
	assert.Equal(t, "file:///C:/work/proj/lib/a.lua", pm.RemoteURI("/home/dev/proj/lib/a.lua"))
}

func TestPathMapURIs(t *testing.T) {
	pm := NewPathMap(Mapping{Local: "/home/dev/proj", Remote: "/srv/app"})

	assert.Equal(t, "file:///srv/app/a%20b.lua", pm.RemoteURI("/home/dev/proj/a b.lua"))
	assert.Equal(t, filepath.FromSlash("/home/dev/proj/a b.lua"), pm.LocalPath("file:///srv/app/a%20b.lua"))
	assert.Equal(t, "dbgp:///eval", pm.RemoteURI("<eval>"))
	assert.Empty(t, pm.RemoteURI(""))
	assert.Empty(t, pm.LocalPath(""))
}

func TestPathMapSetReplaces(t *testing.T) {
	pm := NewPathMap(Mapping{Local: "/a", Remote: "/b"})
	pm.Set([]Mapping{{Local: "/c", Remote: "/d"}})
	assert.Equal(t, []Mapping{{Local: "/c", Remote: "/d"}}, pm.Mappings())
	assert.Equal(t, "/a/x", pm.ToRemote("/a/x"))

	var nilMap *PathMap
	assert.Nil(t, nilMap.Mappings())
	assert.Equal(t, "/a/x", nilMap.ToRemote("/a/x"))
}
