// Package config resolves the settings of an ipfs: repository from the
// host's configuration properties.
//
// Every key may be given per repository by appending ".<repoId>" to it; the
// suffixed key wins over the plain one, which wins over the defaults.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	ma "github.com/multiformats/go-multiaddr"
)

const prefix = "aether.transport.ipfs."

// Configuration keys.
const (
	// Multiaddr of the node to connect to.
	KeyMultiaddr = prefix + "multiaddr"
	// FilesPrefix is the MFS directory namespaces live under.
	KeyFilesPrefix = prefix + "filesPrefix"
	// Whether to refresh the namespace from its IPNS record on first use.
	KeyRefreshNamespace = prefix + "refreshNamespace"
	// Whether to publish the namespace when it has pending content.
	KeyPublishNamespace = prefix + "publishNamespace"
	// Name of the node key the namespace is published under. Defaults to
	// the namespace.
	KeyNamespaceKey = prefix + "namespaceKey"
	// Whether to create the namespace key when the node does not have it.
	KeyNamespaceKeyCreate = prefix + "namespaceKeyCreate"
	// Whether closing a transporter closes its publisher too. Hosts normally
	// close all publishers at the end of the session instead.
	KeyTransportClosePublisher = prefix + "transportClosePublisher"
)

// Defaults.
const (
	DefaultMultiaddr               = "/ip4/127.0.0.1/tcp/5001"
	DefaultFilesPrefix             = "publish"
	DefaultRefreshNamespace        = true
	DefaultPublishNamespace        = true
	DefaultNamespaceKeyCreate      = true
	DefaultTransportClosePublisher = false
)

// Properties are the host's configuration properties.
type Properties map[string]string

// lookup returns the first of key.repoID and key that is set.
func (p Properties) lookup(key, repoID string) (string, bool) {
	if repoID != "" {
		if v, ok := p[key+"."+repoID]; ok {
			return v, true
		}
	}
	v, ok := p[key]
	return v, ok
}

// Config is the resolved configuration of one repository.
type Config struct {
	Multiaddr               string `env:"MFSPUB_MULTIADDR"                 envDefault:"/ip4/127.0.0.1/tcp/5001"`
	FilesPrefix             string `env:"MFSPUB_FILES_PREFIX"              envDefault:"publish"`
	RefreshNamespace        bool   `env:"MFSPUB_REFRESH_NAMESPACE"         envDefault:"true"`
	PublishNamespace        bool   `env:"MFSPUB_PUBLISH_NAMESPACE"         envDefault:"true"`
	NamespaceKey            string `env:"MFSPUB_NAMESPACE_KEY"`
	NamespaceKeyCreate      bool   `env:"MFSPUB_NAMESPACE_KEY_CREATE"      envDefault:"true"`
	TransportClosePublisher bool   `env:"MFSPUB_TRANSPORT_CLOSE_PUBLISHER" envDefault:"false"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Multiaddr:               DefaultMultiaddr,
		FilesPrefix:             DefaultFilesPrefix,
		RefreshNamespace:        DefaultRefreshNamespace,
		PublishNamespace:        DefaultPublishNamespace,
		NamespaceKeyCreate:      DefaultNamespaceKeyCreate,
		TransportClosePublisher: DefaultTransportClosePublisher,
	}
}

// FromEnv returns the defaults overridden by MFSPUB_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Resolve returns c overridden by props for the repository repoID.
func (c Config) Resolve(props Properties, repoID string) (Config, error) {
	out := c

	strs := []struct {
		key string
		dst *string
	}{
		{KeyMultiaddr, &out.Multiaddr},
		{KeyFilesPrefix, &out.FilesPrefix},
		{KeyNamespaceKey, &out.NamespaceKey},
	}
	for _, s := range strs {
		if v, ok := props.lookup(s.key, repoID); ok {
			*s.dst = strings.TrimSpace(v)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyRefreshNamespace, &out.RefreshNamespace},
		{KeyPublishNamespace, &out.PublishNamespace},
		{KeyNamespaceKeyCreate, &out.NamespaceKeyCreate},
		{KeyTransportClosePublisher, &out.TransportClosePublisher},
	}
	for _, b := range bools {
		v, ok := props.lookup(b.key, repoID)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("invalid value %q for %s: %w", v, b.key, err)
		}
		*b.dst = parsed
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate checks that the multiaddr parses.
func (c Config) Validate() error {
	if _, err := ma.NewMultiaddr(c.Multiaddr); err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", c.Multiaddr, err)
	}
	return nil
}

// KeyName returns the namespace key for namespace.
func (c Config) KeyName(namespace string) string {
	if c.NamespaceKey == "" {
		return namespace
	}
	return c.NamespaceKey
}
