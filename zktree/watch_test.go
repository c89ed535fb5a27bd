package zktree_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dendrascience/zkfuse/internal/treetest"
	"github.com/dendrascience/zkfuse/zktree"
)

func next(t *testing.T, events <-chan zktree.Event) zktree.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return zktree.Event{}
}

func subscribe(t *testing.T, srv *treetest.Server, root string) <-chan zktree.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := zktree.NewClient(srv, zktree.WithRetryPolicy(fastRetry))
	events, err := c.Subscribe(ctx, root)
	require.NoError(t, err)
	return events
}

func TestSubscribeReplay(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app/b", []byte("bee"))
	srv.MustCreate("/app/a/x", []byte("ex"))
	srv.MustCreate("/other", nil)

	events := subscribe(t, srv, "/app")

	var got []string
	for {
		ev := next(t, events)
		if ev.Type == zktree.EventInitialized {
			break
		}
		require.Equal(t, zktree.EventAdded, ev.Type)
		got = append(got, ev.Path)
	}
	assert.Equal(t, []string{"/app", "/app/a", "/app/a/x", "/app/b"}, got)
}

func TestSubscribeChanges(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app/a", []byte("one"))
	events := subscribe(t, srv, "/app")
	for next(t, events).Type != zktree.EventInitialized {
	}

	_, err := srv.Set("/app/a", []byte("two"), -1)
	require.NoError(t, err)
	ev := next(t, events)
	assert.Equal(t, zktree.EventUpdated, ev.Type)
	assert.Equal(t, "/app/a", ev.Path)
	assert.Equal(t, "two", string(ev.Node.Data))
	assert.EqualValues(t, 1, ev.Node.Stat.Version)

	_, err = srv.Create("/app/a/c", []byte("child"), 0, nil)
	require.NoError(t, err)
	ev = next(t, events)
	assert.Equal(t, zktree.EventAdded, ev.Type)
	assert.Equal(t, "/app/a/c", ev.Path)
	assert.Equal(t, "child", string(ev.Node.Data))

	require.NoError(t, srv.Delete("/app/a/c", -1))
	ev = next(t, events)
	assert.Equal(t, zktree.EventRemoved, ev.Type)
	assert.Equal(t, "/app/a/c", ev.Path)
}

func TestSubscribeMissingRoot(t *testing.T) {
	srv := treetest.NewServer()
	c := zktree.NewClient(srv, zktree.WithRetryPolicy(fastRetry))
	_, err := c.Subscribe(context.Background(), "/nope")
	assert.ErrorIs(t, err, zktree.ErrNotFound)
}

func TestSubscribeEndsWhenConnectionCloses(t *testing.T) {
	srv := treetest.NewServer()
	srv.MustCreate("/app", nil)
	events := subscribe(t, srv, "/app")
	for next(t, events).Type != zktree.EventInitialized {
	}

	srv.Close()
	select {
	case _, ok := <-events:
		assert.False(t, ok, "expected channel to close")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}
