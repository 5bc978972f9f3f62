package mfspub

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/ipfs/go-mfspub/store"
)

const fileType = "file"

// Stat describes one MFS node at the time it was queried.
type Stat struct {
	hash           cid.Cid
	size           int64
	cumulativeSize int64
	file           bool
}

// NewStat decodes a raw files/stat answer.
func NewStat(raw store.StatResult) (Stat, error) {
	c, err := cid.Decode(raw.Hash)
	if err != nil {
		return Stat{}, fmt.Errorf("invalid hash %q in stat: %w", raw.Hash, err)
	}
	return Stat{
		hash:           c,
		size:           raw.Size,
		cumulativeSize: raw.CumulativeSize,
		file:           raw.Type == fileType,
	}, nil
}

// Hash returns the CID of the node.
func (s Stat) Hash() cid.Cid { return s.hash }

// Size returns the size of the node; it is only meaningful for files.
func (s Stat) Size() int64 { return s.size }

// CumulativeSize returns the size of the node and everything below it.
func (s Stat) CumulativeSize() int64 { return s.cumulativeSize }

// IsFile reports whether the node is a file.
func (s Stat) IsFile() bool { return s.file }

// IsDirectory reports whether the node is a directory.
func (s Stat) IsDirectory() bool { return !s.file }

func (s Stat) String() string {
	kind := "directory"
	if s.file {
		kind = fileType
	}
	return fmt.Sprintf("%s %s (size %d, cumulative %d)", kind, s.hash, s.size, s.cumulativeSize)
}
