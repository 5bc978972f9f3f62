/*
Package mfspub publishes namespaces of build artifacts through an IPFS node.

A namespace (for example a group of related artifacts) lives in a subtree of
the node's Mutable File System:

	/<filesPrefix>/<namespace>/[<namespacePrefix>/]<relative path>

Writes land in MFS directly. Publishing snapshots the namespace subtree,
pins it, and points an IPNS name bound to a node key at it:

	/ipns/<key id> -> /ipfs/<namespace root CID>

Refreshing does the opposite: the namespace subtree is replaced with the
snapshot the IPNS name currently points to.

Within a build session a Registry hands out at most one NamespacePublisher per
namespace and flushes all of them once at the end of the session.
*/
package mfspub

import (
	"context"
	"errors"
	"io"

	"github.com/ipfs/go-cid"
)

// ErrClosed is returned by operations on a closed publisher.
var ErrClosed = errors.New("namespace publisher is closed")

// ErrInvalidPath signals a namespace or relative path that does not resolve
// under the namespace root.
var ErrInvalidPath = errors.New("invalid namespace path")

// ErrPublishFailed signals an error when attempting to publish.
var ErrPublishFailed = errors.New("could not publish namespace")

// Publisher is an object capable of reading, writing and publishing one
// namespace.
type Publisher interface {
	// Namespace returns the namespace this publisher publishes.
	Namespace() string

	// Pending reports whether content was written since the last successful
	// publish.
	Pending() bool

	// Stat returns the stat of a path relative to the namespace root. The
	// boolean is false when the path does not exist.
	Stat(ctx context.Context, relPath string) (Stat, bool, error)

	// Get opens the content of c. The boolean is false when the node does not
	// know c.
	Get(ctx context.Context, c cid.Cid) (io.ReadCloser, bool, error)

	// Put writes r to a path relative to the namespace root, replacing any
	// existing content.
	Put(ctx context.Context, relPath string, r io.Reader) error

	// RefreshNamespace replaces the namespace subtree with the snapshot
	// currently published under the namespace key.
	RefreshNamespace(ctx context.Context) (bool, error)

	// PublishNamespace snapshots the namespace subtree and publishes it under
	// the namespace key.
	PublishNamespace(ctx context.Context) (bool, error)

	// Close publishes pending content if configured to and releases the
	// publisher. It is safe to call more than once.
	Close(ctx context.Context) error
}
