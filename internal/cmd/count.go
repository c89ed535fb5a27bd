package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dendrascience/zkfuse/zktree"
)

// walker is the read side of a primed mirror used by the utility commands.
type walker interface {
	Walk(path string, fn func(zktree.Node) error) error
}

// NewCountCmd creates and returns the count subcommand for the zkfuse CLI.
func NewCountCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "count CONNECT_STRING [PATH]",
		Short: "Count nodes in a subtree",
		Long: `Count the nodes under PATH (default the root of the connect string).

Nodes with children are counted as directories and the rest as files, the way
a zkfuse mount presents them. Payload bytes include directory payloads, which
a mount does not show.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) > 1 {
				path = args[1]
			}
			path, err := subtreePath(path)
			if err != nil {
				return err
			}
			cfg, log, err := setup(cmd, args[0])
			if err != nil {
				return err
			}
			m, client, err := snapshot(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer client.Close()

			var progress io.Writer
			if showProgress {
				progress = cmd.ErrOrStderr()
			}
			t, err := countTree(m, path, progress)
			if err != nil {
				return err
			}
			t.print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show progress every 10,000 nodes")

	return cmd
}

type tally struct {
	nodes int64
	dirs  int64
	files int64
	bytes uint64
}

func countTree(w walker, path string, progress io.Writer) (tally, error) {
	var t tally
	err := w.Walk(path, func(n zktree.Node) error {
		t.nodes++
		if n.Stat.NumChildren > 0 || n.Path == "/" {
			t.dirs++
		} else {
			t.files++
		}
		t.bytes += uint64(len(n.Data))
		if progress != nil && t.nodes%10000 == 0 {
			fmt.Fprintf(progress, "Progress: %s nodes counted\n", humanize.Comma(t.nodes))
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if t.nodes == 0 {
		return t, fmt.Errorf("%s: %w", path, zktree.ErrNotFound)
	}
	return t, nil
}

func (t tally) print(w io.Writer) {
	fmt.Fprintf(w, "Total nodes: %s\n", humanize.Comma(t.nodes))
	fmt.Fprintf(w, "Directories: %s\n", humanize.Comma(t.dirs))
	fmt.Fprintf(w, "Files: %s\n", humanize.Comma(t.files))
	fmt.Fprintf(w, "Payload: %s\n", humanize.Bytes(t.bytes))
}
