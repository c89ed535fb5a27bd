package zkfs

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"bazil.org/fuse"

	"github.com/dendrascience/zkfuse/internal/treetest"
)

// TestSetattrDoesNotHoldNodeLock verifies that a truncate stuck on the remote
// does not block attribute reads of the same node.
func TestSetattrDoesNotHoldNodeLock(t *testing.T) {
	f, h := newTestFS(t, func(s *treetest.Server) { s.MustCreate("/f", []byte("data")) })
	n := &Node{fs: f, path: "/f"}
	ctx := context.Background()

	release := h.srv.BlockSets()
	defer release()

	setattr := make(chan error, 1)
	go func() {
		setattr <- n.Setattr(ctx, &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 1}, &fuse.SetattrResponse{})
	}()

	attr := make(chan error, 1)
	go func() {
		var a fuse.Attr
		attr <- n.Attr(ctx, &a)
	}()

	select {
	case err := <-attr:
		if err != nil {
			t.Fatalf("Attr failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Attr blocked behind a pending Setattr")
	}

	release()
	select {
	case err := <-setattr:
		if err != nil {
			t.Fatalf("Setattr failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Setattr did not finish after the remote was released")
	}
}

// TestCreatedHintConcurrentAttr verifies the one-shot mkdir hint is handed
// to exactly one Attr call when several race for it.
func TestCreatedHintConcurrentAttr(t *testing.T) {
	f, _ := newTestFS(t, nil)
	ctx := context.Background()

	created, err := rootNode(t, f).Mkdir(ctx, &fuse.MkdirRequest{Name: "d", Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	n := created.(*Node)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dirs int
	)
	done := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var a fuse.Attr
			if err := n.Attr(ctx, &a); err != nil {
				return
			}
			if a.Mode.IsDir() {
				mu.Lock()
				dirs++
				mu.Unlock()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent Attr calls deadlocked")
	}
	if dirs != 1 {
		t.Errorf("%d Attr calls saw the directory hint, want exactly 1", dirs)
	}
}
