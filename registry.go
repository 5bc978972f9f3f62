package mfspub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ipfs/go-mfspub/store"
	"github.com/ipfs/go-mfspub/store/rpcstore"
)

// errConstructPanicked is seen by callers waiting on a construction that
// panicked.
var errConstructPanicked = errors.New("publisher construction panicked")

// Dialer connects to the node at a multiaddr.
type Dialer func(ctx context.Context, multiaddr string) (store.Store, error)

// CloseError aggregates the failures of closing the publishers of a session.
type CloseError struct {
	errs []error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("one or more publishing failed: %v", multierr.Combine(e.errs...))
}

// Errors returns every individual failure.
func (e *CloseError) Errors() []error {
	return append([]error(nil), e.errs...)
}

func (e *CloseError) Unwrap() []error {
	return e.errs
}

type sessionEntry struct {
	ready chan struct{}
	pub   *NamespacePublisher
	err   error
}

func (e *sessionEntry) done() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// Session holds the publishers of one build session. It is owned by the
// host and passed to every Registry call made on behalf of that session.
type Session struct {
	id uuid.UUID

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		id:      uuid.New(),
		entries: make(map[string]*sessionEntry),
	}
}

// ID identifies the session in logs and traces.
func (s *Session) ID() string {
	return s.id.String()
}

// Publishers returns the live publishers of the session, ordered by
// namespace.
func (s *Session) Publishers() []*NamespacePublisher {
	s.mu.Lock()
	defer s.mu.Unlock()

	pubs := make([]*NamespacePublisher, 0, len(s.entries))
	for _, e := range s.entries {
		if e.done() && e.pub != nil {
			pubs = append(pubs, e.pub)
		}
	}
	sort.Slice(pubs, func(i, j int) bool {
		return pubs[i].Namespace() < pubs[j].Namespace()
	})
	return pubs
}

// Len returns the number of live publishers.
func (s *Session) Len() int {
	return len(s.Publishers())
}

func (s *Session) remove(key string, e *sessionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[key] == e {
		delete(s.entries, key)
	}
}

// Registry hands out one publisher per namespace and session.
type Registry struct {
	dial    Dialer
	journal *Journal
}

// NewRegistry constructs a registry. A nil dial connects over the node's HTTP
// API; a nil journal keeps records in memory.
func NewRegistry(dial Dialer, journal *Journal) *Registry {
	if dial == nil {
		dial = rpcstore.DialStore
	}
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Registry{dial: dial, journal: journal}
}

// Journal returns the journal shared by the publishers of this registry.
func (r *Registry) Journal() *Journal {
	return r.journal
}

// Acquire returns the publisher stored in sess under opts.SessionKey (or the
// namespace), constructing it when there is none. Construction, including
// dialing and the optional refresh, runs at most once per key even when
// called concurrently; a failed construction leaves nothing behind.
func (r *Registry) Acquire(ctx context.Context, sess *Session, opts Options) (*NamespacePublisher, error) {
	key := opts.sessionKey()

	sess.mu.Lock()
	e, ok := sess.entries[key]
	if !ok {
		e = &sessionEntry{ready: make(chan struct{})}
		sess.entries[key] = e
	}
	sess.mu.Unlock()

	if ok {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.pub, nil
	}

	e.err = errConstructPanicked
	defer func() {
		if e.err != nil {
			sess.remove(key, e)
		}
		close(e.ready)
	}()
	e.pub, e.err = r.construct(ctx, sess, key, e, opts)
	return e.pub, e.err
}

func (r *Registry) construct(ctx context.Context, sess *Session, key string, e *sessionEntry, opts Options) (*NamespacePublisher, error) {
	ctx, span := StartSpan(ctx, "Acquire", namespaceAttrs(opts.Namespace, ""))
	defer span.End()

	st, err := r.dial(ctx, opts.Multiaddr)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("dialing %s: no store", opts.Multiaddr)
	}

	if opts.Journal == nil {
		opts.Journal = r.journal
	}
	onClose := opts.OnClose
	opts.OnClose = func() {
		sess.remove(key, e)
		if onClose != nil {
			onClose()
		}
	}

	pub, err := NewNamespacePublisher(ctx, st, opts)
	if err != nil {
		return nil, err
	}
	log.Debugf("session %s: acquired publisher for %s at %s", sess.ID(), pub.Namespace(), pub.Root())
	return pub, nil
}

// CloseAll closes every live publisher of sess. It carries on past failures
// and returns a *CloseError listing all of them.
func (r *Registry) CloseAll(ctx context.Context, sess *Session) error {
	ctx, span := StartSpan(ctx, "CloseAll")
	defer span.End()

	var errs error
	pubs := sess.Publishers()
	for _, pub := range pubs {
		if err := pub.Close(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("namespace %s: %w", pub.Namespace(), err))
		}
	}
	if errs != nil {
		return &CloseError{errs: multierr.Errors(errs)}
	}
	log.Debugf("session %s: closed %d publishers", sess.ID(), len(pubs))
	return nil
}

// PublishPending publishes every live publisher of sess that has pending
// content, without closing it.
func (r *Registry) PublishPending(ctx context.Context, sess *Session) error {
	ctx, span := StartSpan(ctx, "PublishPending")
	defer span.End()

	var errs error
	for _, pub := range sess.Publishers() {
		if !pub.Pending() {
			continue
		}
		if _, err := pub.PublishNamespace(ctx); err != nil && !errors.Is(err, ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
