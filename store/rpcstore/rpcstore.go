// Package rpcstore implements store.Store against a running node's HTTP
// command API.
package rpcstore

import (
	"context"
	"fmt"
	"io"

	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	kuborpc "github.com/ipfs/kubo/client/rpc"
	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"

	"github.com/ipfs/go-mfspub/store"
)

var log = logging.Logger("mfspub-rpc")

// DefaultKeyType is the type of keys generated by KeyGen.
const DefaultKeyType = "ed25519"

// Store talks to a node through its HTTP command API.
type Store struct {
	api  *kuborpc.HttpApi
	addr string
}

var _ store.Store = (*Store)(nil)

// New wraps an existing API client.
func New(api *kuborpc.HttpApi) *Store {
	return &Store{api: api}
}

// Dial connects to the node listening at addr and checks that it answers.
// Any failure is a configuration problem (bad address or node not running)
// and is returned as is.
func Dial(ctx context.Context, addr string) (*Store, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid node multiaddr %q: %w", addr, err)
	}

	if madns.Matches(maddr) {
		resolved, err := madns.DefaultResolver.Resolve(ctx, maddr)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", maddr, err)
		}
		if len(resolved) == 0 {
			return nil, fmt.Errorf("resolving %s: no addresses", maddr)
		}
		maddr = resolved[0]
	}

	api, err := kuborpc.NewApi(maddr)
	if err != nil {
		return nil, err
	}

	s := New(api)
	s.addr = addr

	id, err := s.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to IPFS node at %s: %w", addr, err)
	}
	log.Debugf("connected to IPFS node ID=%s at '%s'", id, addr)
	return s, nil
}

// Addr returns the multiaddr the store was dialed with, if any.
func (s *Store) Addr() string {
	return s.addr
}

func (s *Store) Identity(ctx context.Context) (string, error) {
	var out struct {
		ID string
	}
	if err := s.api.Request("id").Exec(ctx, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (s *Store) FilesStat(ctx context.Context, mfsPath string) (store.StatResult, error) {
	var out store.StatResult
	if err := s.api.Request("files/stat", mfsPath).Exec(ctx, &out); err != nil {
		return store.StatResult{}, err
	}
	return out, nil
}

func (s *Store) FilesWrite(ctx context.Context, mfsPath string, r io.Reader) error {
	return s.api.Request("files/write", mfsPath).
		Option("create", true).
		Option("truncate", true).
		Option("parents", true).
		FileBody(r).
		Exec(ctx, nil)
}

func (s *Store) FilesCp(ctx context.Context, src path.Path, dst string) error {
	return s.api.Request("files/cp", src.String(), dst).
		Option("parents", true).
		Exec(ctx, nil)
}

func (s *Store) FilesRm(ctx context.Context, mfsPath string) error {
	return s.api.Request("files/rm", mfsPath).
		Option("recursive", true).
		Option("force", true).
		Exec(ctx, nil)
}

func (s *Store) FilesMv(ctx context.Context, src, dst string) error {
	return s.api.Request("files/mv", src, dst).Exec(ctx, nil)
}

func (s *Store) Cat(ctx context.Context, c cid.Cid) (io.ReadCloser, error) {
	resp, err := s.api.Request("cat", path.FromCid(c).String()).Send(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}

func (s *Store) PinAdd(ctx context.Context, c cid.Cid) error {
	return s.api.Request("pin/add", path.FromCid(c).String()).
		Option("recursive", true).
		Exec(ctx, nil)
}

func (s *Store) NameResolve(ctx context.Context, name path.Path) (path.Path, error) {
	var out struct {
		Path string
	}
	err := s.api.Request("name/resolve", name.String()).
		Option("recursive", true).
		Exec(ctx, &out)
	if err != nil {
		return nil, err
	}
	return path.NewPath(out.Path)
}

func (s *Store) NamePublish(ctx context.Context, p path.Path, keyName string) (store.PublishResult, error) {
	var out store.PublishResult
	err := s.api.Request("name/publish", p.String()).
		Option("key", keyName).
		Exec(ctx, &out)
	if err != nil {
		return store.PublishResult{}, err
	}
	return out, nil
}

type keyOutput struct {
	Name string
	Id   string
}

func (s *Store) KeyList(ctx context.Context) ([]store.Key, error) {
	var out struct {
		Keys []keyOutput
	}
	if err := s.api.Request("key/list").Exec(ctx, &out); err != nil {
		return nil, err
	}
	keys := make([]store.Key, 0, len(out.Keys))
	for _, k := range out.Keys {
		keys = append(keys, store.Key{Name: k.Name, ID: k.Id})
	}
	return keys, nil
}

func (s *Store) KeyGen(ctx context.Context, name string) (store.Key, error) {
	var out keyOutput
	err := s.api.Request("key/gen", name).
		Option("type", DefaultKeyType).
		Exec(ctx, &out)
	if err != nil {
		return store.Key{}, err
	}
	return store.Key{Name: out.Name, ID: out.Id}, nil
}

// DialStore is Dial returning the store.Store interface.
func DialStore(ctx context.Context, addr string) (store.Store, error) {
	s, err := Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return s, nil
}
