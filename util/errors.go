package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Path errors
	ErrRelativePath = errors.New("path is not absolute")
	ErrEmptyName    = errors.New("empty path component")
	ErrReservedName = errors.New("path component is reserved")
	ErrNameTooLong  = errors.New("path component is too long")
	ErrOutsideRoot  = errors.New("path is outside of the mount root")
)
