package store

import (
	"errors"
	"strings"

	ipld "github.com/ipfs/go-ipld-format"
)

// The node's command API has no structured error codes for missing
// objects; these are the messages it uses instead.
const (
	// NotFoundMessage is reported by files/* commands for missing MFS paths.
	NotFoundMessage = "file does not exist"

	ipldNotFoundMessage       = "ipld: could not find"
	blockstoreNotFoundMessage = "blockstore: block not found"
)

// ErrResolveFailed carries the message the node reports when an IPNS name has
// no record yet.
var ErrResolveFailed = errors.New("could not resolve name")

// IsNotFound reports whether err is the node saying that a path or content
// identifier does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if ipld.IsNotFound(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, NotFoundMessage) ||
		strings.Contains(msg, ipldNotFoundMessage) ||
		strings.Contains(msg, blockstoreNotFoundMessage)
}

// IsNotPublished reports whether err is the node failing to resolve an IPNS
// name that was never published.
func IsNotPublished(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrResolveFailed) {
		return true
	}
	return strings.Contains(err.Error(), ErrResolveFailed.Error())
}
