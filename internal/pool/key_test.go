package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	spec := KeySpec{
		WorkDir:      "/home/user/project",
		RuntimeFlags: []string{"-Xmx512m"},
		Classpath:    "lib/a.jar:lib/b.jar",
		EntryClass:   "pkg.Main",
	}
	assert.Equal(t, spec.Key(), spec.Key())
	assert.Len(t, spec.Key(), 32)
}

func TestKeySeparatesEveryField(t *testing.T) {
	t.Parallel()

	base := KeySpec{
		WorkDir:      "/w",
		RuntimeFlags: []string{"-a"},
		Classpath:    "cp",
		EntryClass:   "pkg.Main",
	}

	variants := []KeySpec{
		{WorkDir: "/other", RuntimeFlags: []string{"-a"}, Classpath: "cp", EntryClass: "pkg.Main"},
		{WorkDir: "/w", RuntimeFlags: []string{"-b"}, Classpath: "cp", EntryClass: "pkg.Main"},
		{WorkDir: "/w", RuntimeFlags: []string{"-a", "-b"}, Classpath: "cp", EntryClass: "pkg.Main"},
		{WorkDir: "/w", RuntimeFlags: []string{"-a"}, Classpath: "other", EntryClass: "pkg.Main"},
		{WorkDir: "/w", RuntimeFlags: []string{"-a"}, Classpath: "cp", EntryClass: "pkg.Other"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Key(), v.Key(), "%+v must not collide with base", v)
	}
}

func TestKeyFlagBoundariesMatter(t *testing.T) {
	t.Parallel()

	a := KeySpec{RuntimeFlags: []string{"-ab"}}
	b := KeySpec{RuntimeFlags: []string{"-a", "b"}}
	assert.NotEqual(t, a.Key(), b.Key())
}
