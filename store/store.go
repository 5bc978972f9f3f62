// Package store describes the subset of an IPFS node's command API that
// namespace publishing relies on.
//
// A Store is a remote, blocking client: every method is one round trip to the
// node. Implementations return the node's failures unchanged; callers decide
// what "does not exist" means through IsNotFound and IsNotPublished.
package store

import (
	"context"
	"io"

	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
)

// StatResult is the raw answer of files/stat.
type StatResult struct {
	Hash           string
	Size           int64
	CumulativeSize int64
	Blocks         int
	Type           string
}

// Key is one entry of the node's keychain.
type Key struct {
	Name string
	ID   string
}

// PublishResult is the answer of name/publish.
type PublishResult struct {
	Name  string
	Value string
}

// Store is the set of node operations used by a namespace publisher.
type Store interface {
	// Identity returns the peer ID of the node.
	Identity(ctx context.Context) (string, error)

	// FilesStat stats an MFS path.
	FilesStat(ctx context.Context, mfsPath string) (StatResult, error)
	// FilesWrite writes r to an MFS path, creating it and its parents and
	// truncating existing content.
	FilesWrite(ctx context.Context, mfsPath string, r io.Reader) error
	// FilesCp copies an immutable path into MFS, creating parents.
	FilesCp(ctx context.Context, src path.Path, dst string) error
	// FilesRm removes an MFS path recursively.
	FilesRm(ctx context.Context, mfsPath string) error
	// FilesMv moves an MFS path to a destination that does not exist yet.
	FilesMv(ctx context.Context, src, dst string) error

	// Cat opens the content of a file node.
	Cat(ctx context.Context, c cid.Cid) (io.ReadCloser, error)

	// PinAdd recursively pins c.
	PinAdd(ctx context.Context, c cid.Cid) error

	// NameResolve resolves an IPNS path to the path it points to.
	NameResolve(ctx context.Context, name path.Path) (path.Path, error)
	// NamePublish publishes p under the key called keyName.
	NamePublish(ctx context.Context, p path.Path, keyName string) (PublishResult, error)

	// KeyList lists the node's keys.
	KeyList(ctx context.Context) ([]Key, error)
	// KeyGen generates a new key called name.
	KeyGen(ctx context.Context, name string) (Key, error)
}
