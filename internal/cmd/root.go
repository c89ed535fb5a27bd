package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dendrascience/zkfuse/version"
)

const (
	groupFilesystem = "filesystem"
	groupUtilities  = "utilities"
)

// NewRootCmd creates and returns the root cobra command for the zkfuse CLI.
// Invoked as "zkfuse CONNECT_STRING MOUNTPOINT" it behaves like mount.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zkfuse [CONNECT_STRING MOUNTPOINT]",
		Short: "zkfuse - A FUSE filesystem over a ZooKeeper tree",
		Long: `zkfuse exposes a ZooKeeper subtree as a local filesystem.

Every node is a file holding its payload, or a directory when it has children.
Reads are served from a watched in-memory mirror of the tree; writes go
straight to the ensemble.

CONNECT_STRING is a ZooKeeper connect string such as "zk1:2181,zk2:2181/app".
A trailing path selects the subtree to mount.

Use subcommands to perform different operations:
  - mount: Mount a subtree at a mountpoint
  - seed: Populate a subtree with test nodes
  - count: Count nodes and payload bytes
  - validate: Report nodes the filesystem cannot represent faithfully
  - export: Print a subtree as YAML or JSON`,
		Version: version.GetFullVersion(),
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("usage: %s CONNECT_STRING MOUNTPOINT", cmd.Root().Name())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runMount(cmd, args)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default $XDG_CONFIG_HOME/zkfuse/config.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: json, console")
	flags.String("log-output", "stderr", "Log destination: stdout, stderr or a file path")
	flags.Duration("session-timeout", 0, "ZooKeeper session timeout (default 30s)")
	addMountFlags(rootCmd.Flags())

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	seedCmd := NewSeedCmd()
	countCmd := NewCountCmd()
	validateCmd := NewValidateCmd()
	exportCmd := NewExportCmd()

	mountCmd.GroupID = groupFilesystem
	seedCmd.GroupID = groupUtilities
	countCmd.GroupID = groupUtilities
	validateCmd.GroupID = groupUtilities
	exportCmd.GroupID = groupUtilities

	versionCmd := &cobra.Command{
		Use:     "version",
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		GroupID: groupUtilities,
		Run: func(cmd *cobra.Command, args []string) {
			version.Fprint(cmd.OutOrStdout(), cmd.Root().Name())
		},
	}

	rootCmd.AddCommand(mountCmd, seedCmd, countCmd, validateCmd, exportCmd, versionCmd)

	return rootCmd
}
