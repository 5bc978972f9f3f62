package republisher_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goprocess "github.com/jbenet/goprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mfspub "github.com/ipfs/go-mfspub"
	. "github.com/ipfs/go-mfspub/republisher"
	"github.com/ipfs/go-mfspub/store"
	"github.com/ipfs/go-mfspub/store/mock"
)

func withDelays(t *testing.T, initial, retry time.Duration) {
	oldInitial, oldRetry := InitialRepublishDelay, FailureRetryInterval
	InitialRepublishDelay, FailureRetryInterval = initial, retry
	t.Cleanup(func() {
		InitialRepublishDelay, FailureRetryInterval = oldInitial, oldRetry
	})
}

func TestRepublishRunsPeriodically(t *testing.T) {
	withDelays(t, 10*time.Millisecond, time.Hour)

	var calls atomic.Int32
	repub := NewRepublisher(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	repub.Interval = 20 * time.Millisecond

	proc := goprocess.Go(repub.Run)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, proc.Close())

	n := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestRepublishRetriesAfterFailure(t *testing.T) {
	withDelays(t, 10*time.Millisecond, 10*time.Millisecond)

	var calls atomic.Int32
	repub := NewRepublisher(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("node unreachable")
		}
		return nil
	})
	repub.Interval = time.Hour

	proc := goprocess.Go(repub.Run)
	defer proc.Close()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestRepublishCancelsOnClose(t *testing.T) {
	withDelays(t, time.Millisecond, time.Hour)

	started := make(chan struct{})
	done := make(chan error, 1)
	repub := NewRepublisher(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	repub.Interval = time.Hour

	proc := goprocess.Go(repub.Run)
	<-started
	require.NoError(t, proc.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("publish was not canceled")
	}
}

func TestRepublishPendingNamespaces(t *testing.T) {
	withDelays(t, 10*time.Millisecond, time.Hour)

	ctx := context.Background()
	node := mock.New()
	reg := mfspub.NewRegistry(func(ctx context.Context, addr string) (store.Store, error) {
		return node, nil
	}, nil)
	sess := mfspub.NewSession()

	pub, err := reg.Acquire(ctx, sess, mfspub.Options{
		Namespace:      "acme",
		FilesPrefix:    "publish",
		CreateKey:      true,
		PublishOnClose: true,
	})
	require.NoError(t, err)
	require.NoError(t, pub.Put(ctx, "a.jar", strings.NewReader("a")))

	repub := NewRepublisher(func(ctx context.Context) error {
		return reg.PublishPending(ctx, sess)
	})
	repub.Interval = 20 * time.Millisecond
	proc := goprocess.Go(repub.Run)
	defer proc.Close()

	require.Eventually(t, func() bool {
		_, ok := node.Record("acme")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, pub.Closed())
}

func TestRepublishRetriesFailedNamespaces(t *testing.T) {
	withDelays(t, 10*time.Millisecond, 10*time.Millisecond)

	ctx := context.Background()
	node := mock.New()
	reg := mfspub.NewRegistry(func(ctx context.Context, addr string) (store.Store, error) {
		return node, nil
	}, nil)
	sess := mfspub.NewSession()

	for _, ns := range []string{"a", "b"} {
		pub, err := reg.Acquire(ctx, sess, mfspub.Options{
			Namespace:   ns,
			FilesPrefix: "publish",
			CreateKey:   true,
		})
		require.NoError(t, err)
		require.NoError(t, pub.Put(ctx, "x.jar", strings.NewReader(ns)))
	}
	node.Fail(mock.OpPinAdd, errors.New("node busy"))

	var runs atomic.Int32
	repub := NewRepublisher(func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			node.Fail(mock.OpPinAdd, nil)
		}
		return reg.PublishPending(ctx, sess)
	})
	repub.Interval = time.Hour
	proc := goprocess.Go(repub.Run)
	defer proc.Close()

	require.Eventually(t, func() bool {
		_, okA := node.Record("a")
		_, okB := node.Record("b")
		return okA && okB
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}
