package mfspub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceRoots(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		filesPrefix, namespace, namespacePrefix string
		nsRoot, root                            string
	}{
		{"publish", "acme", "", "/publish/acme", "/publish/acme"},
		{"publish", "acme", "   ", "/publish/acme", "/publish/acme"},
		{"publish", "acme", "releases", "/publish/acme", "/publish/acme/releases"},
		{"/publish/", "acme", "a/b", "/publish/acme", "/publish/acme/a/b"},
		{"publish//x", "acme", "./releases", "/publish/x/acme", "/publish/x/acme/releases"},
		{"publish/../other", "acme", "", "/other/acme", "/other/acme"},
		{"", "acme", "", "/acme", "/acme"},
		{"publish", "acme", "a/../b", "/publish/acme", "/publish/acme/b"},
		{"publish", "org:acme", "", "/publish/org:acme", "/publish/org:acme"},
	}

	for _, tc := range testcases {
		nsRoot, root, err := namespaceRoots(tc.filesPrefix, tc.namespace, tc.namespacePrefix)
		require.NoError(t, err, "%+v", tc)
		assert.Equal(t, tc.nsRoot, nsRoot, "%+v", tc)
		assert.Equal(t, tc.root, root, "%+v", tc)
	}
}

func TestNamespaceRootsInvalid(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		filesPrefix, namespace, namespacePrefix string
	}{
		{"publish", "", ""},
		{"publish", "  ", ""},
		{"", "..", ""},
		{"publish", "acme", ".."},
		{"publish", "acme", "."},
		{"publish", "acme", "../other"},
		{"publish", "acme", "/elsewhere"},
	}

	for _, tc := range testcases {
		_, _, err := namespaceRoots(tc.filesPrefix, tc.namespace, tc.namespacePrefix)
		assert.ErrorIs(t, err, ErrInvalidPath, "%+v", tc)
	}
}

func TestResolveRelative(t *testing.T) {
	t.Parallel()

	p, err := resolveRelative("/publish/acme", "lib/a.jar")
	require.NoError(t, err)
	assert.Equal(t, "/publish/acme/lib/a.jar", p)

	p, err = resolveRelative("/publish/acme", "/lib//a.jar")
	require.NoError(t, err)
	assert.Equal(t, "/publish/acme/lib/a.jar", p)

	p, err = resolveRelative("/publish/acme", "lib/../b.jar")
	require.NoError(t, err)
	assert.Equal(t, "/publish/acme/b.jar", p)

	for _, rel := range []string{"", "/", ".", "..", "../other/a.jar", "lib/../../x"} {
		_, err := resolveRelative("/publish/acme", rel)
		assert.ErrorIs(t, err, ErrInvalidPath, rel)
	}
}
