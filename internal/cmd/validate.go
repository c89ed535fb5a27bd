package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// NewValidateCmd creates and returns the validate subcommand for the zkfuse CLI.
// It reports nodes that a mount cannot present faithfully.
func NewValidateCmd() *cobra.Command {
	var (
		path    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "validate CONNECT_STRING",
		Short: "Check a subtree for nodes a mount cannot represent",
		Long: `Walk a subtree and report nodes that do not map cleanly onto a filesystem.

Checks performed:
  - Nodes with both children and a payload (shown as directories, payload hidden)
  - Names the kernel rejects (longer than 255 bytes or reserved)

Exits non-zero when any issue is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			issues, checked, err := validateTree(m, path)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), issues, checked, verbose)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "/", "Path below the root to validate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print a line for every issue")

	return cmd
}

type issue struct {
	path string
	msg  string
}

func validateTree(w walker, path string) ([]issue, int, error) {
	var (
		issues  []issue
		checked int
	)
	err := w.Walk(path, func(n zktree.Node) error {
		checked++
		if n.Stat.NumChildren > 0 && len(n.Data) > 0 {
			issues = append(issues, issue{
				path: n.Path,
				msg:  fmt.Sprintf("has %d children and a %s payload; the payload is not readable through a mount", n.Stat.NumChildren, humanize.Bytes(uint64(len(n.Data)))),
			})
		}
		if n.Path != "/" {
			if err := util.ValidateName(util.Base(n.Path)); err != nil {
				issues = append(issues, issue{path: n.Path, msg: err.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if checked == 0 {
		return nil, 0, fmt.Errorf("%s: %w", path, zktree.ErrNotFound)
	}
	return issues, checked, nil
}

func report(w io.Writer, issues []issue, checked int, verbose bool) error {
	if verbose || len(issues) <= 20 {
		for _, is := range issues {
			fmt.Fprintf(w, "%s: %s\n", is.path, is.msg)
		}
	} else {
		for _, is := range issues[:20] {
			fmt.Fprintf(w, "%s: %s\n", is.path, is.msg)
		}
		fmt.Fprintf(w, "... and %d more (use --verbose)\n", len(issues)-20)
	}
	fmt.Fprintf(w, "Checked %s nodes, found %d issues\n", humanize.Comma(int64(checked)), len(issues))
	if len(issues) > 0 {
		return fmt.Errorf("validation failed: %d issues", len(issues))
	}
	return nil
}
