package mfspub

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/boxo/ipns"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"

	"github.com/ipfs/go-mfspub/store"
)

// keyLocks serializes key lookup and creation per key name, so publishers
// sharing a key name never generate it twice.
var keyLocks = struct {
	sync.Mutex
	m map[string]*keyLock
}{m: make(map[string]*keyLock)}

type keyLock struct {
	sync.Mutex
	refs int
}

func lockKey(name string) func() {
	keyLocks.Lock()
	l, ok := keyLocks.m[name]
	if !ok {
		l = &keyLock{}
		keyLocks.m[name] = l
	}
	l.refs++
	keyLocks.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		keyLocks.Lock()
		l.refs--
		if l.refs == 0 {
			delete(keyLocks.m, name)
		}
		keyLocks.Unlock()
	}
}

// getOrCreateKey looks up the key called name, generating it when it is
// missing and create is set. The boolean is false when the key is missing
// and may not be created.
func getOrCreateKey(ctx context.Context, st store.Store, name string, create bool) (store.Key, bool, error) {
	unlock := lockKey(name)
	defer unlock()

	keys, err := st.KeyList(ctx)
	if err != nil {
		return store.Key{}, false, fmt.Errorf("listing keys: %w", err)
	}
	for _, k := range keys {
		if k.Name == name {
			return k, true, nil
		}
	}
	if !create {
		return store.Key{}, false, nil
	}

	k, err := st.KeyGen(ctx, name)
	if err != nil {
		return store.Key{}, false, fmt.Errorf("generating key %q: %w", name, err)
	}
	log.Infof("generated key '%s' (%s)", k.Name, k.ID)
	return k, true, nil
}

// ipnsPath returns the /ipns/ path of a key.
func ipnsPath(k store.Key) (path.Path, error) {
	name, err := ipns.NameFromString(k.ID)
	if err != nil {
		return nil, fmt.Errorf("key %q has an invalid id %q: %w", k.Name, k.ID, err)
	}
	return name.AsPath(), nil
}

// resolveKey returns the root CID the key currently points at.
func resolveKey(ctx context.Context, st store.Store, k store.Key) (cid.Cid, error) {
	name, err := ipnsPath(k)
	if err != nil {
		return cid.Undef, err
	}
	p, err := st.NameResolve(ctx, name)
	if err != nil {
		return cid.Undef, err
	}
	ip, err := path.NewImmutablePath(p)
	if err != nil {
		return cid.Undef, fmt.Errorf("%s resolved to %s: %w", name, p, err)
	}
	return ip.RootCid(), nil
}
