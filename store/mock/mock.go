// Package mock provides an in-memory store.Store.
//
// It keeps an MFS tree, an object table addressed by CID, pins, a keychain
// and IPNS records, and reports missing things with the same messages a real
// node uses, so callers classify its errors exactly like the node's.
package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ipfs/boxo/ipns"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	mh "github.com/multiformats/go-multihash"

	"github.com/ipfs/go-mfspub/store"
)

// Operation names accepted by Fail and Calls.
const (
	OpIdentity    = "id"
	OpFilesStat   = "files/stat"
	OpFilesWrite  = "files/write"
	OpFilesCp     = "files/cp"
	OpFilesRm     = "files/rm"
	OpFilesMv     = "files/mv"
	OpCat         = "cat"
	OpPinAdd      = "pin/add"
	OpNameResolve = "name/resolve"
	OpNamePublish = "name/publish"
	OpKeyList     = "key/list"
	OpKeyGen      = "key/gen"
)

// entry is a mutable MFS node; children is nil for files.
type entry struct {
	data     []byte
	children map[string]*entry
}

func newDir() *entry {
	return &entry{children: make(map[string]*entry)}
}

func (e *entry) isDir() bool {
	return e.children != nil
}

// object is an immutable node; links is nil for files.
type object struct {
	data  []byte
	links map[string]cid.Cid
	size  int64
}

// Store is an in-memory node.
type Store struct {
	mu sync.Mutex

	root    *entry
	objects map[cid.Cid]object
	pins    map[cid.Cid]struct{}
	keys    []store.Key
	names   map[string]path.Path

	calls    map[string]int
	failures map[string]error
	failAt   map[string]map[int]error
}

var _ store.Store = (*Store)(nil)

// New returns an empty node.
func New() *Store {
	return &Store{
		root:     newDir(),
		objects:  make(map[cid.Cid]object),
		pins:     make(map[cid.Cid]struct{}),
		names:    make(map[string]path.Path),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		failAt:   make(map[string]map[int]error),
	}
}

// Fail makes every following call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// FailAt makes only the n-th call of op, counting from the first call ever
// made, return err.
func (s *Store) FailAt(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt[op] == nil {
		s.failAt[op] = make(map[int]error)
	}
	s.failAt[op][n] = err
}

// Calls returns how many times op was called.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Pinned reports whether c was pinned.
func (s *Store) Pinned(c cid.Cid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pins[c]
	return ok
}

// Record returns the value last published under the key called keyName.
func (s *Store) Record(keyName string) (path.Path, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Name == keyName {
			p, ok := s.names[k.ID]
			return p, ok
		}
	}
	return nil, false
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	if err, ok := s.failAt[op][s.calls[op]]; ok {
		return err
	}
	return s.failures[op]
}

func errNotExist() error {
	return errors.New(store.NotFoundMessage)
}

func splitPath(p string) ([]string, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("paths must start with a leading slash")
	}
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts, nil
}

func (s *Store) lookup(p string) (*entry, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	cur := s.root
	for _, seg := range parts {
		if !cur.isDir() {
			return nil, errNotExist()
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, errNotExist()
		}
		cur = next
	}
	return cur, nil
}

// parent returns the directory holding p, creating missing directories.
func (s *Store) parent(p string) (*entry, string, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("cannot operate on the root")
	}
	cur := s.root
	for _, seg := range parts[:len(parts)-1] {
		next, ok := cur.children[seg]
		if !ok {
			next = newDir()
			cur.children[seg] = next
		}
		if !next.isDir() {
			return nil, "", fmt.Errorf("%s was not a directory", seg)
		}
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}

// snapshot records e and its descendants as immutable objects.
func (s *Store) snapshot(e *entry) (cid.Cid, object, error) {
	if !e.isDir() {
		c, err := cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum(e.data)
		if err != nil {
			return cid.Undef, object{}, err
		}
		obj := object{data: append([]byte(nil), e.data...), size: int64(len(e.data))}
		s.objects[c] = obj
		return c, obj, nil
	}

	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	obj := object{links: make(map[string]cid.Cid, len(names))}
	for _, name := range names {
		c, child, err := s.snapshot(e.children[name])
		if err != nil {
			return cid.Undef, object{}, err
		}
		obj.links[name] = c
		obj.size += child.size
		fmt.Fprintf(&buf, "%s %s\n", name, c)
	}
	obj.data = buf.Bytes()
	obj.size += int64(buf.Len())

	c, err := cid.NewPrefixV1(cid.DagProtobuf, mh.SHA2_256).Sum(obj.data)
	if err != nil {
		return cid.Undef, object{}, err
	}
	s.objects[c] = obj
	return c, obj, nil
}

func (s *Store) materialize(c cid.Cid) (*entry, error) {
	obj, ok := s.objects[c]
	if !ok {
		return nil, ipld.ErrNotFound{Cid: c}
	}
	if obj.links == nil {
		return &entry{data: append([]byte(nil), obj.data...)}, nil
	}
	dir := newDir()
	for name, link := range obj.links {
		child, err := s.materialize(link)
		if err != nil {
			return nil, err
		}
		dir.children[name] = child
	}
	return dir, nil
}

func (s *Store) Identity(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpIdentity); err != nil {
		return "", err
	}
	return "12D3KooWMockNode", nil
}

func (s *Store) FilesStat(ctx context.Context, mfsPath string) (store.StatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFilesStat); err != nil {
		return store.StatResult{}, err
	}

	e, err := s.lookup(mfsPath)
	if err != nil {
		return store.StatResult{}, err
	}
	c, obj, err := s.snapshot(e)
	if err != nil {
		return store.StatResult{}, err
	}

	res := store.StatResult{
		Hash:           c.String(),
		CumulativeSize: obj.size,
		Type:           "directory",
		Blocks:         len(obj.links),
	}
	if !e.isDir() {
		res.Type = "file"
		res.Size = int64(len(e.data))
	}
	return res, nil
}

func (s *Store) FilesWrite(ctx context.Context, mfsPath string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFilesWrite); err != nil {
		return err
	}

	dir, name, err := s.parent(mfsPath)
	if err != nil {
		return err
	}
	if existing, ok := dir.children[name]; ok && existing.isDir() {
		return fmt.Errorf("%s is a directory", mfsPath)
	}
	dir.children[name] = &entry{data: data}
	return nil
}

func (s *Store) FilesCp(ctx context.Context, src path.Path, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFilesCp); err != nil {
		return err
	}

	ip, err := path.NewImmutablePath(src)
	if err != nil {
		return err
	}
	e, err := s.materialize(ip.RootCid())
	if err != nil {
		return err
	}

	dir, name, err := s.parent(dst)
	if err != nil {
		return err
	}
	if _, ok := dir.children[name]; ok {
		return fmt.Errorf("directory already has entry by that name")
	}
	dir.children[name] = e
	return nil
}

func (s *Store) FilesRm(ctx context.Context, mfsPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFilesRm); err != nil {
		return err
	}

	if _, err := s.lookup(mfsPath); err != nil {
		return err
	}
	dir, name, err := s.parent(mfsPath)
	if err != nil {
		return err
	}
	delete(dir.children, name)
	return nil
}

func (s *Store) FilesMv(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFilesMv); err != nil {
		return err
	}

	e, err := s.lookup(src)
	if err != nil {
		return err
	}
	srcDir, srcName, err := s.parent(src)
	if err != nil {
		return err
	}
	dstDir, dstName, err := s.parent(dst)
	if err != nil {
		return err
	}
	if _, ok := dstDir.children[dstName]; ok {
		return fmt.Errorf("directory already has entry by that name")
	}
	delete(srcDir.children, srcName)
	dstDir.children[dstName] = e
	return nil
}

func (s *Store) Cat(ctx context.Context, c cid.Cid) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCat); err != nil {
		return nil, err
	}

	obj, ok := s.objects[c]
	if !ok {
		return nil, ipld.ErrNotFound{Cid: c}
	}
	if obj.links != nil {
		return nil, fmt.Errorf("this dag node is a directory")
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Store) PinAdd(ctx context.Context, c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPinAdd); err != nil {
		return err
	}

	if _, ok := s.objects[c]; !ok {
		return ipld.ErrNotFound{Cid: c}
	}
	s.pins[c] = struct{}{}
	return nil
}

func (s *Store) NameResolve(ctx context.Context, name path.Path) (path.Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpNameResolve); err != nil {
		return nil, err
	}

	segs := name.Segments()
	if len(segs) < 2 || name.Namespace() != path.IPNSNamespace {
		return nil, fmt.Errorf("not an IPNS path: %s", name)
	}
	n, err := ipns.NameFromString(segs[1])
	if err != nil {
		return nil, err
	}
	p, ok := s.names[n.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrResolveFailed, name)
	}
	return p, nil
}

func (s *Store) NamePublish(ctx context.Context, p path.Path, keyName string) (store.PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpNamePublish); err != nil {
		return store.PublishResult{}, err
	}

	for _, k := range s.keys {
		if k.Name == keyName {
			s.names[k.ID] = p
			return store.PublishResult{Name: k.ID, Value: p.String()}, nil
		}
	}
	return store.PublishResult{}, fmt.Errorf("no key named %s was found", keyName)
}

func (s *Store) KeyList(ctx context.Context) ([]store.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpKeyList); err != nil {
		return nil, err
	}
	return append([]store.Key(nil), s.keys...), nil
}

func (s *Store) KeyGen(ctx context.Context, name string) (store.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpKeyGen); err != nil {
		return store.Key{}, err
	}

	for _, k := range s.keys {
		if k.Name == name {
			return store.Key{}, fmt.Errorf("key with name '%s' already exists", name)
		}
	}
	c, err := cid.NewPrefixV1(cid.Libp2pKey, mh.SHA2_256).Sum([]byte(name))
	if err != nil {
		return store.Key{}, err
	}
	n, err := ipns.NameFromCid(c)
	if err != nil {
		return store.Key{}, err
	}
	k := store.Key{Name: name, ID: n.String()}
	s.keys = append(s.keys, k)
	return k, nil
}

// AddKey adds a key as if it had been generated earlier on the node.
func (s *Store) AddKey(ctx context.Context, name string) (store.Key, error) {
	k, err := s.KeyGen(ctx, name)
	if err != nil {
		return store.Key{}, err
	}
	s.mu.Lock()
	s.calls[OpKeyGen]--
	s.mu.Unlock()
	return k, nil
}
