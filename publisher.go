package mfspub

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs/go-mfspub/store"
)

var log = logging.Logger("mfspub")

// Sibling directories used while a refresh replaces the namespace root.
const (
	stagingSuffix  = ".refreshing"
	previousSuffix = ".previous"
)

// Options configures a NamespacePublisher.
type Options struct {
	// Multiaddr of the node. Only used by the Registry to dial.
	Multiaddr string

	Namespace       string
	FilesPrefix     string
	NamespacePrefix string

	// KeyName is the node key the namespace is published under. Defaults
	// to Namespace.
	KeyName string
	// CreateKey allows generating KeyName when the node does not have it.
	CreateKey bool

	// Refresh refreshes the namespace when the publisher is constructed.
	Refresh bool
	// PublishOnClose publishes pending content on Close.
	PublishOnClose bool

	// SessionKey overrides the key a Registry stores the publisher under.
	// Defaults to Namespace.
	SessionKey string

	// Journal records successful publishes. Optional.
	Journal *Journal
	// OnClose runs once when the publisher is closed.
	OnClose func()
}

func (o Options) keyName() string {
	if strings.TrimSpace(o.KeyName) == "" {
		return o.Namespace
	}
	return o.KeyName
}

func (o Options) sessionKey() string {
	if o.SessionKey == "" {
		return o.Namespace
	}
	return o.SessionKey
}

// NamespacePublisher reads, writes and publishes one namespace.
type NamespacePublisher struct {
	store store.Store

	namespace      string
	nsRoot         string
	root           string
	keyName        string
	createKey      bool
	publishOnClose bool
	journal        *Journal

	pending atomic.Bool
	closed  atomic.Bool

	releaseOnce sync.Once
	onClose     func()
}

var _ Publisher = (*NamespacePublisher)(nil)

// NewNamespacePublisher constructs a publisher for opts.Namespace on st,
// refreshing the namespace first when opts.Refresh is set.
func NewNamespacePublisher(ctx context.Context, st store.Store, opts Options) (*NamespacePublisher, error) {
	if st == nil {
		panic("nil store")
	}

	nsRoot, root, err := namespaceRoots(opts.FilesPrefix, opts.Namespace, opts.NamespacePrefix)
	if err != nil {
		return nil, err
	}

	p := &NamespacePublisher{
		store:          st,
		namespace:      opts.Namespace,
		nsRoot:         nsRoot,
		root:           root,
		keyName:        opts.keyName(),
		createKey:      opts.CreateKey,
		publishOnClose: opts.PublishOnClose,
		journal:        opts.Journal,
		onClose:        opts.OnClose,
	}

	if opts.Refresh {
		if _, err := p.RefreshNamespace(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Namespace implements Publisher.
func (p *NamespacePublisher) Namespace() string {
	return p.namespace
}

// NamespaceRoot returns the MFS path that is snapshotted and refreshed.
func (p *NamespacePublisher) NamespaceRoot() string {
	return p.nsRoot
}

// Root returns the MFS path relative paths are resolved under.
func (p *NamespacePublisher) Root() string {
	return p.root
}

// KeyName returns the name of the key the namespace is published under.
func (p *NamespacePublisher) KeyName() string {
	return p.keyName
}

// Pending implements Publisher.
func (p *NamespacePublisher) Pending() bool {
	return p.pending.Load()
}

// Closed reports whether Close was called.
func (p *NamespacePublisher) Closed() bool {
	return p.closed.Load()
}

// Stat implements Publisher. Paths that do not exist give false.
func (p *NamespacePublisher) Stat(ctx context.Context, relPath string) (Stat, bool, error) {
	if p.closed.Load() {
		return Stat{}, false, ErrClosed
	}
	mfsPath, err := resolveRelative(p.root, relPath)
	if err != nil {
		return Stat{}, false, err
	}
	return p.stat(ctx, mfsPath)
}

func (p *NamespacePublisher) stat(ctx context.Context, mfsPath string) (Stat, bool, error) {
	raw, err := p.store.FilesStat(ctx, mfsPath)
	if err != nil {
		if store.IsNotFound(err) {
			return Stat{}, false, nil
		}
		return Stat{}, false, err
	}
	st, err := NewStat(raw)
	if err != nil {
		return Stat{}, false, err
	}
	return st, true, nil
}

// Get implements Publisher.
func (p *NamespacePublisher) Get(ctx context.Context, c cid.Cid) (io.ReadCloser, bool, error) {
	if p.closed.Load() {
		return nil, false, ErrClosed
	}
	rc, err := p.store.Cat(ctx, c)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rc, true, nil
}

// Put implements Publisher. A successful write marks the namespace pending.
func (p *NamespacePublisher) Put(ctx context.Context, relPath string, r io.Reader) error {
	if p.closed.Load() {
		return ErrClosed
	}
	mfsPath, err := resolveRelative(p.root, relPath)
	if err != nil {
		return err
	}
	if err := p.store.FilesWrite(ctx, mfsPath, r); err != nil {
		return err
	}
	p.pending.Store(true)
	return nil
}

// RefreshNamespace implements Publisher.
func (p *NamespacePublisher) RefreshNamespace(ctx context.Context) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}

	ctx, span := StartSpan(ctx, "RefreshNamespace", namespaceAttrs(p.namespace, p.nsRoot))
	defer span.End()

	log.Infof("refreshing IPNS %s at %s...", p.namespace, p.nsRoot)
	k, ok, err := getOrCreateKey(ctx, p.store, p.keyName, p.createKey)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Infof("not refreshed: key '%s' not available and not allowed to create it", p.keyName)
		return false, nil
	}

	root, err := resolveKey(ctx, p.store, k)
	if err != nil {
		if store.IsNotPublished(err) {
			log.Debugf("could not refresh IPNS %s: not published yet", k.ID)
			return false, nil
		}
		return false, err
	}

	if err := p.store.PinAdd(ctx, root); err != nil {
		return false, err
	}
	if err := p.replaceRoot(ctx, root); err != nil {
		return false, err
	}

	log.Infof("refreshed IPNS %s at %s (%s)", p.namespace, p.nsRoot, root)
	return true, nil
}

// replaceRoot swaps the namespace root for a copy of root. The copy is staged
// next to the namespace root and the current root is moved aside, so a
// failure at any step leaves the namespace root in place.
func (p *NamespacePublisher) replaceRoot(ctx context.Context, root cid.Cid) error {
	staging := p.nsRoot + stagingSuffix
	previous := p.nsRoot + previousSuffix

	for _, dir := range []string{staging, previous} {
		if err := p.store.FilesRm(ctx, dir); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("clearing %s: %w", dir, err)
		}
	}
	if err := p.store.FilesCp(ctx, path.FromCid(root), staging); err != nil {
		return fmt.Errorf("copying %s to %s: %w", root, staging, err)
	}

	hadRoot := true
	if err := p.store.FilesMv(ctx, p.nsRoot, previous); err != nil {
		if !store.IsNotFound(err) {
			return fmt.Errorf("moving %s aside: %w", p.nsRoot, err)
		}
		hadRoot = false
	}
	if err := p.store.FilesMv(ctx, staging, p.nsRoot); err != nil {
		if hadRoot {
			if rerr := p.store.FilesMv(ctx, previous, p.nsRoot); rerr != nil {
				log.Errorf("restoring %s from %s: %s", p.nsRoot, previous, rerr)
			}
		}
		return fmt.Errorf("moving %s to %s: %w", staging, p.nsRoot, err)
	}
	if hadRoot {
		if err := p.store.FilesRm(ctx, previous); err != nil {
			log.Errorf("removing %s: %s", previous, err)
		}
	}
	return nil
}

// PublishNamespace implements Publisher.
func (p *NamespacePublisher) PublishNamespace(ctx context.Context) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}
	return p.publish(ctx)
}

// publish clears pending content up front so that writes racing with it
// are published next time, and restores it when nothing got published.
func (p *NamespacePublisher) publish(ctx context.Context) (published bool, err error) {
	ctx, span := StartSpan(ctx, "PublishNamespace", namespaceAttrs(p.namespace, p.nsRoot))
	defer span.End()

	wasPending := p.pending.Swap(false)
	defer func() {
		if !published && wasPending {
			p.pending.Store(true)
		}
	}()

	log.Infof("publishing IPNS %s at %s...", p.namespace, p.nsRoot)
	st, ok, err := p.stat(ctx, p.nsRoot)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrPublishFailed, p.namespace, err)
	}
	if !ok {
		log.Infof("not published: %s does not exist", p.nsRoot)
		return false, nil
	}

	k, ok, err := getOrCreateKey(ctx, p.store, p.keyName, p.createKey)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrPublishFailed, p.namespace, err)
	}
	if !ok {
		log.Infof("not published: key '%s' not available nor allowed to create it", p.keyName)
		return false, nil
	}

	if err := p.store.PinAdd(ctx, st.Hash()); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrPublishFailed, p.namespace, err)
	}
	res, err := p.store.NamePublish(ctx, path.FromCid(st.Hash()), k.Name)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrPublishFailed, p.namespace, err)
	}
	log.Infof("published IPNS %s (pointing to %s)", res.Name, res.Value)

	if p.journal != nil {
		rec := PublishRecord{
			Namespace: p.namespace,
			Key:       k.Name,
			Name:      res.Name,
			Value:     res.Value,
			Published: time.Now(),
		}
		if err := p.journal.Put(ctx, rec); err != nil {
			log.Errorf("recording publish of %s: %s", p.namespace, err)
		}
	}
	return true, nil
}

// LastPublished returns the journal record of the last publish of the
// namespace, if there is a journal and a record.
func (p *NamespacePublisher) LastPublished(ctx context.Context) (PublishRecord, bool, error) {
	if p.journal == nil {
		return PublishRecord{}, false, nil
	}
	return p.journal.Get(ctx, p.namespace)
}

// Close implements Publisher.
func (p *NamespacePublisher) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer p.release()

	if p.publishOnClose && p.pending.Load() {
		if _, err := p.publish(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *NamespacePublisher) release() {
	p.releaseOnce.Do(func() {
		if p.onClose != nil {
			p.onClose()
		}
	})
}
