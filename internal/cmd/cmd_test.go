package cmd

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/dendrascience/zkfuse/internal/treetest"
	"github.com/dendrascience/zkfuse/zktree"
)

// shared keeps the in-memory tree usable across commands that each close
// their client.
type shared struct {
	*treetest.Server
}

func (shared) Close() {}

// useTree points every command at srv instead of a real ensemble.
func useTree(t *testing.T, srv *treetest.Server) {
	t.Helper()
	old := dial
	dial = func(ctx context.Context, cfg zktree.Config, opts ...zktree.Option) (*zktree.Client, error) {
		return zktree.NewClient(shared{srv}, append(opts, zktree.WithRetryPolicy(zktree.RetryPolicy{MaxRetries: 0}))...), nil
	}
	t.Cleanup(func() { dial = old })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-output", filepath.Join(t.TempDir(), "zkfuse.log")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
