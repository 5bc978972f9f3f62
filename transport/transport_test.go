package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	ipld "github.com/ipfs/go-ipld-format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mfspub "github.com/ipfs/go-mfspub"
	"github.com/ipfs/go-mfspub/config"
	"github.com/ipfs/go-mfspub/store"
	"github.com/ipfs/go-mfspub/store/mock"
)

type recordingListener struct {
	started  []int64
	progress int
	fail     error
}

func (l *recordingListener) Started(length int64) error {
	l.started = append(l.started, length)
	return nil
}

func (l *recordingListener) Progressed(n int) error {
	l.progress += n
	return l.fail
}

func newTestFactory(t *testing.T) (*Factory, *mock.Store) {
	t.Helper()
	node := mock.New()
	reg := mfspub.NewRegistry(func(ctx context.Context, addr string) (store.Store, error) {
		return node, nil
	}, nil)
	return NewFactory(reg), node
}

func newTestTransporter(t *testing.T, props config.Properties) (*Transporter, *mock.Store, *mfspub.Session) {
	t.Helper()
	f, node := newTestFactory(t)
	sess := mfspub.NewSession()
	tr, err := f.NewTransporter(context.Background(), sess, props, Repository{ID: "central", URL: "ipfs:acme/releases"})
	require.NoError(t, err)
	return tr, node, sess
}

func TestParseURL(t *testing.T) {
	testcases := []struct {
		url, namespace, prefix string
	}{
		{"ipfs:acme", "acme", ""},
		{"ipfs:acme/", "acme", ""},
		{"ipfs:///acme/releases", "acme", "releases"},
		{"ipfs:acme/a/b", "acme", "a/b"},
	}
	for _, tc := range testcases {
		ns, prefix, err := ParseURL(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.namespace, ns, tc.url)
		assert.Equal(t, tc.prefix, prefix, tc.url)
	}

	for _, url := range []string{"ipfs:", "ipfs:///", "ipfs: /x"} {
		_, _, err := ParseURL(url)
		assert.ErrorIs(t, err, ErrInvalidURL, url)
		assert.ErrorIs(t, err, ErrNoTransporter, url)
	}

	_, _, err := ParseURL("https://repo.example.com/maven2")
	assert.ErrorIs(t, err, ErrNoTransporter)
	assert.NotErrorIs(t, err, ErrInvalidURL)
}

func TestPutPeekGet(t *testing.T) {
	ctx := context.Background()
	tr, node, _ := newTestTransporter(t, nil)

	l := &recordingListener{}
	require.NoError(t, tr.Put(ctx, &PutTask{
		Location: "org/acme/lib/1.0/lib-1.0.jar",
		Source:   strings.NewReader("hello"),
		Size:     5,
		Listener: l,
	}))
	assert.Equal(t, []int64{5}, l.started)
	assert.Equal(t, 5, l.progress)

	require.NoError(t, tr.Peek(ctx, "org/acme/lib/1.0/lib-1.0.jar"))

	var buf bytes.Buffer
	l = &recordingListener{}
	require.NoError(t, tr.Get(ctx, &GetTask{
		Location: "org/acme/lib/1.0/lib-1.0.jar",
		Sink:     &buf,
		Listener: l,
	}))
	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, []int64{5}, l.started)
	assert.Equal(t, 5, l.progress)

	_, err := node.FilesStat(ctx, "/publish/acme/releases/org/acme/lib/1.0/lib-1.0.jar")
	assert.NoError(t, err)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTransporter(t, nil)

	err := tr.Peek(ctx, "missing.jar")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ErrorNotFound, tr.Classify(err))

	err = tr.Get(ctx, &GetTask{Location: "missing.jar", Sink: &bytes.Buffer{}})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tr.Put(ctx, &PutTask{Location: "dir/a.jar", Source: strings.NewReader("a"), Size: 1}))
	err = tr.Peek(ctx, "dir")
	assert.ErrorIs(t, err, ErrNotFound, "directories are not resources")
	err = tr.Get(ctx, &GetTask{Location: "dir", Sink: &bytes.Buffer{}})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, ErrorOther, tr.Classify(errors.New("connection reset")))
}

func TestGetMissingContent(t *testing.T) {
	ctx := context.Background()
	tr, node, _ := newTestTransporter(t, nil)

	require.NoError(t, tr.Put(ctx, &PutTask{Location: "a.jar", Source: strings.NewReader("a"), Size: 1}))
	node.Fail(mock.OpCat, ipld.ErrNotFound{})

	err := tr.Get(ctx, &GetTask{Location: "a.jar", Sink: &bytes.Buffer{}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFailureIsOther(t *testing.T) {
	ctx := context.Background()
	tr, node, _ := newTestTransporter(t, nil)

	node.Fail(mock.OpFilesStat, errors.New("connection refused"))
	err := tr.Peek(ctx, "a.jar")
	require.Error(t, err)
	assert.Equal(t, ErrorOther, tr.Classify(err))
}

func TestListenerAbortsTransfer(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTransporter(t, nil)

	abort := errors.New("canceled by user")
	err := tr.Put(ctx, &PutTask{
		Location: "a.jar",
		Source:   strings.NewReader("content"),
		Size:     7,
		Listener: &recordingListener{fail: abort},
	})
	assert.ErrorIs(t, err, abort)

	require.NoError(t, tr.Put(ctx, &PutTask{Location: "b.jar", Source: strings.NewReader("content"), Size: 7}))
	err = tr.Get(ctx, &GetTask{
		Location: "b.jar",
		Sink:     &bytes.Buffer{},
		Listener: &recordingListener{fail: abort},
	})
	assert.ErrorIs(t, err, abort)
}

func TestCloseKeepsPublisherByDefault(t *testing.T) {
	ctx := context.Background()
	tr, node, sess := newTestTransporter(t, nil)

	require.NoError(t, tr.Put(ctx, &PutTask{Location: "a.jar", Source: strings.NewReader("a"), Size: 1}))
	require.NoError(t, tr.Close(ctx))
	require.NoError(t, tr.Close(ctx))
	assert.ErrorIs(t, tr.Peek(ctx, "a.jar"), mfspub.ErrClosed)

	assert.Equal(t, 1, sess.Len())
	assert.Zero(t, node.Calls(mock.OpNamePublish))
}

func TestClosePublisher(t *testing.T) {
	ctx := context.Background()
	tr, node, sess := newTestTransporter(t, config.Properties{
		config.KeyTransportClosePublisher + ".central": "true",
	})

	require.NoError(t, tr.Put(ctx, &PutTask{Location: "a.jar", Source: strings.NewReader("a"), Size: 1}))
	require.NoError(t, tr.Close(ctx))

	assert.Zero(t, sess.Len())
	assert.Equal(t, 1, node.Calls(mock.OpNamePublish))
	_, ok := node.Record("acme")
	assert.True(t, ok)
}

func TestFactorySharesPublisherPerNamespace(t *testing.T) {
	ctx := context.Background()
	f, node := newTestFactory(t)
	sess := mfspub.NewSession()

	props := config.Properties{config.KeyRefreshNamespace: "false"}
	t1, err := f.NewTransporter(ctx, sess, props, Repository{ID: "r1", URL: "ipfs:acme"})
	require.NoError(t, err)
	t2, err := f.NewTransporter(ctx, sess, props, Repository{ID: "r2", URL: "ipfs:acme"})
	require.NoError(t, err)
	_, err = f.NewTransporter(ctx, sess, props, Repository{ID: "r3", URL: "ipfs:other"})
	require.NoError(t, err)

	assert.Same(t, t1.publisher, t2.publisher)
	assert.Equal(t, 2, sess.Len())
	assert.Zero(t, node.Calls(mock.OpNameResolve))
}

func TestFactoryErrors(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	sess := mfspub.NewSession()

	_, err := f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "https://repo.example.com"})
	assert.ErrorIs(t, err, ErrNoTransporter)

	_, err = f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "ipfs:/"})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = f.NewTransporter(ctx, sess, config.Properties{config.KeyMultiaddr: "nope"}, Repository{ID: "central", URL: "ipfs:acme"})
	assert.ErrorContains(t, err, "invalid multiaddr")

	_, err = f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "ipfs:acme/../../escape"})
	assert.ErrorIs(t, err, mfspub.ErrInvalidPath)
	assert.Zero(t, sess.Len())

	dialErr := errors.New("connection refused")
	f.Registry = mfspub.NewRegistry(func(ctx context.Context, addr string) (store.Store, error) {
		return nil, dialErr
	}, nil)
	_, err = f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "ipfs:acme"})
	assert.ErrorIs(t, err, dialErr)
}

func TestFactoryRefreshesFromPublishedRecord(t *testing.T) {
	ctx := context.Background()
	f, node := newTestFactory(t)

	sess := mfspub.NewSession()
	tr, err := f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "ipfs:acme"})
	require.NoError(t, err)
	require.NoError(t, tr.Put(ctx, &PutTask{Location: "a.jar", Source: strings.NewReader("a"), Size: 1}))
	require.NoError(t, f.Registry.CloseAll(ctx, sess))

	require.NoError(t, node.FilesRm(ctx, "/publish/acme"))

	sess = mfspub.NewSession()
	tr, err = f.NewTransporter(ctx, sess, nil, Repository{ID: "central", URL: "ipfs:acme"})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, tr.Get(ctx, &GetTask{Location: "a.jar", Sink: &buf}))
	assert.Equal(t, "a", buf.String())
}

func TestFactoryPublisher(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	sess := mfspub.NewSession()

	props := config.Properties{config.KeyNamespaceKey + ".central": "release-key"}
	tr, err := f.NewTransporter(ctx, sess, props, Repository{ID: "central", URL: "ipfs:acme"})
	require.NoError(t, err)
	pub, err := f.Publisher(ctx, sess, props, Repository{ID: "central", URL: "ipfs:acme"})
	require.NoError(t, err)

	assert.Same(t, tr.publisher, pub)
	assert.Equal(t, "release-key", pub.KeyName())
	assert.Equal(t, "/publish/acme", pub.Root())
}
