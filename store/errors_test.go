package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "mfs", err: errors.New("file does not exist"), want: true},
		{name: "wrapped mfs", err: fmt.Errorf("files/stat /publish/x: %w", errors.New("file does not exist")), want: true},
		{name: "ipld message", err: errors.New("block was not found locally (offline): ipld: could not find bafkqaaa"), want: true},
		{name: "blockstore", err: errors.New("blockstore: block not found"), want: true},
		{name: "ipld typed", err: ipld.ErrNotFound{Cid: cid.Undef}, want: true},
		{name: "transport", err: errors.New("dial tcp 127.0.0.1:5001: connect: connection refused"), want: false},
		{name: "resolve", err: errors.New("could not resolve name"), want: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNotFound(tc.err))
		})
	}
}

func TestIsNotPublished(t *testing.T) {
	t.Parallel()

	assert.False(t, IsNotPublished(nil))
	assert.True(t, IsNotPublished(ErrResolveFailed))
	assert.True(t, IsNotPublished(fmt.Errorf("name/resolve: %w", ErrResolveFailed)))
	assert.True(t, IsNotPublished(errors.New("could not resolve name: routing: not found")))
	assert.False(t, IsNotPublished(errors.New("file does not exist")))
}
