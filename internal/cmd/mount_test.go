package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dendrascience/zkfuse/internal/treetest"
)

func TestCheckMountpoint(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "directory", path: dir},
		{name: "empty", path: "", wantErr: true},
		{name: "missing", path: filepath.Join(dir, "missing"), wantErr: true},
		{name: "regular file", path: file, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkMountpoint(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkMountpoint(%q) = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

// A missing mount root must fail during priming, before anything is mounted.
func TestMountMissingRoot(t *testing.T) {
	srv := treetest.NewServer()
	useTree(t, srv)

	for _, args := range [][]string{
		{"mount", "127.0.0.1:2181/missing", t.TempDir()},
		{"127.0.0.1:2181/missing", t.TempDir()},
	} {
		_, err := execute(t, args...)
		if err == nil {
			t.Fatalf("%v: expected an error", args)
		}
		if !strings.Contains(err.Error(), "mount root /missing does not exist") {
			t.Errorf("%v: error = %q", args, err)
		}
	}
}

func TestMountRejectsMissingMountpoint(t *testing.T) {
	srv := treetest.NewServer()
	useTree(t, srv)

	_, err := execute(t, "mount", "127.0.0.1:2181", filepath.Join(t.TempDir(), "nope"))
	if err == nil || !strings.Contains(err.Error(), "mountpoint") {
		t.Fatalf("error = %v, want a mountpoint error", err)
	}
	if n := srv.Calls("exists"); n != 0 {
		t.Errorf("contacted the tree %d times before checking the mountpoint", n)
	}
}
