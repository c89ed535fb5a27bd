// Package version reports the zkfuse build.
//
// Release builds inject Version, Commit and Date with
//
//	-ldflags "-X github.com/dendrascience/zkfuse/version.Version=v1.0.0 -X github.com/dendrascience/zkfuse/version.Commit=abc123 -X github.com/dendrascience/zkfuse/version.Date=2025-01-01T00:00:00Z"
//
// Development builds fall back to debug.ReadBuildInfo, which carries the
// module version and VCS stamping when built from a checkout.
package version
