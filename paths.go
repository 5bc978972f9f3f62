package mfspub

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

var mfsBase = &url.URL{Scheme: "ipfs", Path: "/"}

// resolveSegments resolves each segment as a directory reference against the
// previous result, the way hierarchical URIs are resolved, then collapses
// empty segments.
func resolveSegments(base *url.URL, segments ...string) string {
	u := base
	for _, seg := range segments {
		u = u.ResolveReference(&url.URL{Path: seg + "/"})
	}
	return path.Clean(u.Path)
}

// isBelow reports whether p is a strict descendant of dir.
func isBelow(dir, p string) bool {
	if dir == "/" {
		return p != "/" && strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}

// namespaceRoots derives the snapshot root of a namespace and the root that
// relative paths are resolved under.
func namespaceRoots(filesPrefix, namespace, namespacePrefix string) (nsRoot, root string, err error) {
	if strings.TrimSpace(namespace) == "" {
		return "", "", fmt.Errorf("%w: blank namespace", ErrInvalidPath)
	}

	nsRoot = resolveSegments(mfsBase, filesPrefix, namespace)
	if nsRoot == "/" {
		return "", "", fmt.Errorf("%w: namespace %q resolves to the MFS root", ErrInvalidPath, namespace)
	}

	if strings.TrimSpace(namespacePrefix) == "" {
		return nsRoot, nsRoot, nil
	}
	root = resolveSegments(mfsBase, filesPrefix, namespace, namespacePrefix)
	if !isBelow(nsRoot, root) {
		return "", "", fmt.Errorf("%w: namespace prefix %q escapes %s", ErrInvalidPath, namespacePrefix, nsRoot)
	}
	return nsRoot, root, nil
}

// resolveRelative resolves relPath under root.
func resolveRelative(root, relPath string) (string, error) {
	rel := strings.TrimLeft(relPath, "/")
	u := (&url.URL{Scheme: mfsBase.Scheme, Path: root + "/"}).ResolveReference(&url.URL{Path: rel})
	p := path.Clean(u.Path)
	if !isBelow(root, p) {
		return "", fmt.Errorf("%w: %q is not below %s", ErrInvalidPath, relPath, root)
	}
	return p, nil
}
