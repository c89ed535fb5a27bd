package mirror_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/zkfuse/internal/treetest"
	"github.com/dendrascience/zkfuse/mirror"
	"github.com/dendrascience/zkfuse/zktree"
)

var fastRetry = zktree.RetryPolicy{BaseDelay: time.Millisecond, MaxRetries: 2}

func startMirror(t *testing.T, srv *treetest.Server, root string) *mirror.Mirror {
	t.Helper()
	client := zktree.NewClient(srv, zktree.WithRetryPolicy(fastRetry))
	m := mirror.New(client, root)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestMirrorPrimes(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app/conf/db", []byte("postgres://"))
	srv.MustCreate("/app/conf/cache", nil)
	srv.MustCreate("/app/leader", []byte("node-1"))

	m := startMirror(t, srv, "/app")

	assert.Equal(t, 5, m.Len())

	root, ok := m.Lookup("/")
	require.True(t, ok)
	assert.EqualValues(t, 2, root.Stat.NumChildren)

	db, ok := m.Lookup("/conf/db")
	require.True(t, ok)
	assert.Equal(t, "/conf/db", db.Path)
	assert.Equal(t, "postgres://", string(db.Data))
	assert.EqualValues(t, 0, db.Stat.NumChildren)

	names, ok := m.ListChildren("/conf")
	require.True(t, ok)
	assert.Equal(t, []string{"cache", "db"}, names)

	_, ok = m.Lookup("/missing")
	assert.False(t, ok)
	_, ok = m.ListChildren("/missing")
	assert.False(t, ok)
}

func TestMirrorFollowsChanges(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app/a", []byte("one"))
	m := startMirror(t, srv, "/app")

	_, err := srv.Set("/app/a", []byte("two"), -1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, ok := m.Lookup("/a")
		return ok && string(n.Data) == "two"
	}, 2*time.Second, 5*time.Millisecond)

	_, err = srv.Create("/app/a/b", nil, 0, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, ok := m.Lookup("/a")
		return ok && n.Stat.NumChildren == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Delete("/app/a/b", -1))
	require.Eventually(t, func() bool {
		_, ok := m.Lookup("/a/b")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	names, ok := m.ListChildren("/a")
	require.True(t, ok)
	assert.Empty(t, names)
}

// fakeSubscriber hands out a channel the test feeds by hand.
type fakeSubscriber struct {
	events chan zktree.Event
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, root string) (<-chan zktree.Event, error) {
	return f.events, nil
}

func TestStartBlocksUntilInitialized(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan zktree.Event)}
	m := mirror.New(sub, "/")

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()

	snapshot := []string{"/", "/a", "/a/b", "/c"}
	for _, p := range snapshot {
		sub.events <- zktree.Event{Type: zktree.EventAdded, Path: p, Node: zktree.Node{Path: p}}
		select {
		case err := <-started:
			t.Fatalf("Start returned %v before the snapshot was complete", err)
		default:
		}
	}

	sub.events <- zktree.Event{Type: zktree.EventInitialized, Path: "/"}
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Initialized")
	}

	for _, p := range snapshot {
		_, ok := m.Lookup(p)
		assert.True(t, ok, "node %s missing after priming", p)
	}

	close(sub.events)
	require.NoError(t, m.Stop())
}

func TestStartFailsWhenStreamEndsEarly(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan zktree.Event, 1)}
	sub.events <- zktree.Event{Type: zktree.EventAdded, Path: "/"}
	close(sub.events)

	m := mirror.New(sub, "/")
	err := m.Start(context.Background())
	assert.ErrorIs(t, err, mirror.ErrNotPrimed)
	assert.ErrorIs(t, m.Start(context.Background()), mirror.ErrStarted)
}

func TestStartMissingRoot(t *testing.T) {
	srv := treetest.NewServer()
	client := zktree.NewClient(srv, zktree.WithRetryPolicy(fastRetry))
	m := mirror.New(client, "/nope")

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, zktree.ErrNotFound)
	require.NoError(t, m.Stop())
}

func TestStartHonoursContext(t *testing.T) {
	sub := &fakeSubscriber{events: make(chan zktree.Event)}
	m := mirror.New(sub, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	go func() {
		// Stop waits for the apply loop, which ends when the stream closes.
		time.Sleep(50 * time.Millisecond)
		close(sub.events)
	}()
	err := m.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWalk(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/b", nil)
	srv.MustCreate("/a/y", nil)
	srv.MustCreate("/a/x", nil)
	m := startMirror(t, srv, "/")

	var paths []string
	require.NoError(t, m.Walk("/", func(n zktree.Node) error {
		paths = append(paths, n.Path)
		return nil
	}))
	assert.Equal(t, []string{"/", "/a", "/a/x", "/a/y", "/b"}, paths)
}

func TestPassthrough(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app/a/b", []byte("bee"))
	client := zktree.NewClient(srv, zktree.WithRetryPolicy(fastRetry))
	p := mirror.NewPassthrough(client, "/app", time.Second, nil)

	n, ok := p.Lookup("/a/b")
	require.True(t, ok)
	assert.Equal(t, "/a/b", n.Path)
	assert.Equal(t, "bee", string(n.Data))

	root, ok := p.Lookup("/")
	require.True(t, ok)
	assert.EqualValues(t, 1, root.Stat.NumChildren)

	names, ok := p.ListChildren("/a")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, names)

	_, ok = p.Lookup("/nope")
	assert.False(t, ok)
}
