package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// NewExportCmd creates and returns the export subcommand for the zkfuse CLI.
func NewExportCmd() *cobra.Command {
	var (
		path   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export CONNECT_STRING",
		Short: "Print a subtree as YAML or JSON",
		Long: `Read a subtree through the same mirror a mount uses and print it.

Payloads that are valid UTF-8 are printed as text; anything else is base64
encoded and marked with "encoding: base64".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unknown format %q: want yaml or json", format)
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

			tree, err := exportTree(m, path)
			if err != nil {
				return err
			}
			return writeTree(cmd.OutOrStdout(), tree, format)
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "/", "Path below the root to export")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")

	return cmd
}

type exportNode struct {
	Name     string        `json:"name" yaml:"name"`
	Data     string        `json:"data,omitempty" yaml:"data,omitempty"`
	Encoding string        `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Version  int32         `json:"version" yaml:"version"`
	Mtime    time.Time     `json:"mtime" yaml:"mtime"`
	Children []*exportNode `json:"children,omitempty" yaml:"children,omitempty"`
}

func exportTree(w walker, path string) (*exportNode, error) {
	path = util.Clean(path)
	var root *exportNode
	index := make(map[string]*exportNode)

	err := w.Walk(path, func(n zktree.Node) error {
		e := &exportNode{
			Name:    util.Base(n.Path),
			Version: n.Stat.Version,
			Mtime:   n.Stat.Mtime.UTC(),
		}
		if len(n.Data) > 0 {
			if utf8.Valid(n.Data) {
				e.Data = string(n.Data)
			} else {
				e.Data = base64.StdEncoding.EncodeToString(n.Data)
				e.Encoding = "base64"
			}
		}
		index[n.Path] = e
		if n.Path == path {
			root = e
			return nil
		}
		parent, ok := index[util.Parent(n.Path)]
		if !ok {
			return fmt.Errorf("export: %s visited before its parent", n.Path)
		}
		parent.Children = append(parent.Children, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%s: %w", path, zktree.ErrNotFound)
	}
	return root, nil
}

func writeTree(w io.Writer, tree *exportNode, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return err
	}
	return enc.Close()
}
