// Package cmd provides the command-line interface implementation for zkfuse.
//
// It uses the Cobra library for command structure and Fang for styling. Each
// command lives in its own file with a constructor returning a *cobra.Command:
//   - root: entry point, also accepts the legacy "zkfuse CONNECT_STRING MOUNTPOINT" form
//   - mount: connect, prime the mirror, mount and serve until unmounted
//   - seed: populate a subtree with test nodes
//   - count: node, directory and payload statistics
//   - validate: report nodes a mount cannot represent
//   - export: print a subtree as YAML or JSON
//
// Every command resolves its settings through internal/config, so flags,
// ZKFUSE_* environment variables and the config file apply uniformly.
package cmd
