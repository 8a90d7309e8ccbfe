package core

import "errors"

// Sentinel errors distinguishing client-visible request failures (spec §7)
// from internal bugs that should abort instead of replying.
var (
	// ErrNamespaceNotFound is returned when a command targets a root path
	// or namespace id with no live namespace.
	ErrNamespaceNotFound = errors.New("mhconfig: namespace not found")

	// ErrInvalidVersion is returned when a Get asks for a version newer
	// than the namespace's current_version.
	ErrInvalidVersion = errors.New("mhconfig: requested version is ahead of current_version")

	// ErrInvalidArguments is returned when overrides/flavors contain
	// duplicates or a document/template name fails validation.
	ErrInvalidArguments = errors.New("mhconfig: invalid arguments")

	// ErrBuildFailed is returned to waiters of a wait_built whose build
	// could not complete (missing referenced document, template failure).
	ErrBuildFailed = errors.New("mhconfig: build failed")

	// ErrTooManyNamespaces is returned when creating a namespace would
	// exceed the scheduler's configured cap.
	ErrTooManyNamespaces = errors.New("mhconfig: too many namespaces")
)
