// Package main provides the zkfuse command-line interface.
//
// zkfuse mounts a ZooKeeper subtree as a FUSE filesystem. Nodes with children
// appear as directories and all other nodes as regular files whose contents
// are the node payload. Reads come from a watched in-memory mirror of the
// subtree; creates, writes, truncates and deletes go straight to the ensemble
// and show up locally once the change notification arrives.
//
// The binary supports multiple subcommands:
//   - mount: Mount a subtree at a mountpoint (also the default form,
//     "zkfuse CONNECT_STRING MOUNTPOINT")
//   - seed: Populate a subtree with test nodes
//   - count: Count nodes and payload bytes
//   - validate: Report nodes a mount cannot represent
//   - export: Print a subtree as YAML or JSON
//   - version: Print build information
package main
