package transport

import (
	"context"
	"fmt"

	mfspub "github.com/ipfs/go-mfspub"
	"github.com/ipfs/go-mfspub/config"
)

// Repository is the remote repository a transporter is requested for.
type Repository struct {
	ID  string
	URL string
}

// Factory creates transporters for ipfs: repositories, sharing one publisher
// per namespace and session through Registry.
type Factory struct {
	Registry *mfspub.Registry
	Defaults config.Config
}

// NewFactory constructs a factory with the built-in configuration defaults.
func NewFactory(reg *mfspub.Registry) *Factory {
	if reg == nil {
		panic("nil registry")
	}
	return &Factory{Registry: reg, Defaults: config.Default()}
}

// NewTransporter returns a transporter for repo. URLs with another scheme
// fail with ErrNoTransporter; failing to reach the node is a hard error.
func (f *Factory) NewTransporter(ctx context.Context, sess *mfspub.Session, props config.Properties, repo Repository) (*Transporter, error) {
	pub, cfg, err := f.publisher(ctx, sess, props, repo)
	if err != nil {
		return nil, err
	}
	log.Debugf("transporter for %s (%s) at %s", repo.ID, repo.URL, pub.Root())
	return New(pub, cfg.TransportClosePublisher), nil
}

// Publisher returns the publisher that transporters for repo use.
func (f *Factory) Publisher(ctx context.Context, sess *mfspub.Session, props config.Properties, repo Repository) (*mfspub.NamespacePublisher, error) {
	pub, _, err := f.publisher(ctx, sess, props, repo)
	return pub, err
}

func (f *Factory) publisher(ctx context.Context, sess *mfspub.Session, props config.Properties, repo Repository) (*mfspub.NamespacePublisher, config.Config, error) {
	if sess == nil {
		panic("nil session")
	}

	namespace, namespacePrefix, err := ParseURL(repo.URL)
	if err != nil {
		return nil, config.Config{}, err
	}

	cfg, err := f.Defaults.Resolve(props, repo.ID)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("repository %s: %w", repo.ID, err)
	}

	pub, err := f.Registry.Acquire(ctx, sess, mfspub.Options{
		Multiaddr:       cfg.Multiaddr,
		Namespace:       namespace,
		FilesPrefix:     cfg.FilesPrefix,
		NamespacePrefix: namespacePrefix,
		KeyName:         cfg.KeyName(namespace),
		CreateKey:       cfg.NamespaceKeyCreate,
		Refresh:         cfg.RefreshNamespace,
		PublishOnClose:  cfg.PublishNamespace,
	})
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("repository %s: %w", repo.ID, err)
	}
	return pub, cfg, nil
}
