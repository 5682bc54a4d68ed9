package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleSession builds a session that never touches the network.
func idleSession(t *testing.T, appid, thread string) *Session {
	t.Helper()
	cfg := SessionConfig{}
	cfg.setDefaults()
	s := newSession(nil, InitInfo{AppID: appid, Thread: thread}, cfg)
	t.Cleanup(s.cancel)
	return s
}

func TestApplicationsGroupByAppID(t *testing.T) {
	apps := NewApplications()

	main := idleSession(t, "100", "1")
	worker := idleSession(t, "100", "10")
	helper := idleSession(t, "100", "2")
	other := idleSession(t, "7", "1")

	app, n := apps.Add(main)
	assert.Equal(t, "100", app.ID())
	assert.Equal(t, 1, n)
	_, n = apps.Add(worker)
	assert.Equal(t, 2, n)
	_, n = apps.Add(helper)
	assert.Equal(t, 3, n)
	_, n = apps.Add(other)
	assert.Equal(t, 1, n)

	list := apps.List()
	require.Len(t, list, 2)
	assert.Equal(t, "7", list[0].ID())
	assert.Equal(t, "100", list[1].ID())

	// threads sort numerically
	assert.Equal(t, []*Session{main, helper, worker}, app.Sessions())
	assert.Same(t, main, app.CurrentSession())
}

func TestApplicationCurrentSession(t *testing.T) {
	apps := NewApplications()
	a := idleSession(t, "1", "1")
	b := idleSession(t, "1", "2")
	stranger := idleSession(t, "2", "1")

	app, _ := apps.Add(a)
	apps.Add(b)

	assert.True(t, app.SetCurrentSession(b))
	assert.False(t, app.SetCurrentSession(stranger))
	assert.Same(t, b, app.CurrentSession())

	// the current session moves on when it goes away
	apps.Release(b)
	assert.Same(t, a, app.CurrentSession())
	assert.Equal(t, 1, app.SessionCount())

	apps.Release(a)
	_, ok := apps.Get("1")
	assert.False(t, ok)
	assert.Empty(t, apps.List())

	// releasing an unknown session is harmless
	apps.Release(stranger)
}

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2", "10", -1},
		{"10", "2", 1},
		{"main", "worker", -1},
		{"x", "x", 0},
		{"3", "main", -1},
	}
	for _, tt := range tests {
		got := compareIDs(tt.a, tt.b)
		if sign(got) != tt.want {
			t.Errorf("compareIDs(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
