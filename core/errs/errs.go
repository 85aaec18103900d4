// Package errs defines the cross-cutting error taxonomy for the facet
// pipeline. Packages wrap these sentinels with context via fmt.Errorf and
// callers dispatch with errors.Is().
package errs

import "errors"

var (
	// ErrConfiguration indicates invalid user-supplied configuration detected
	// before any computation: bad periodic-boundary specs, missing or
	// conflicting landmark criteria, unknown modes, or incompatible libraries.
	// Always fails fast.
	ErrConfiguration = errors.New("facet: invalid configuration")

	// ErrData indicates a malformed input frame (bad particle count, box, or
	// lattice header). The pipeline skips the frame with a warning unless
	// strict mode is enabled.
	ErrData = errors.New("facet: malformed frame data")

	// ErrNotReady indicates an operation was invoked before the pipeline
	// phase it depends on has completed.
	ErrNotReady = errors.New("facet: pipeline phase not ready")

	// ErrCollectiveMismatch indicates inconsistent state discovered during a
	// cross-worker collective, such as the same frame key contributed by two
	// different workers.
	ErrCollectiveMismatch = errors.New("facet: collective state mismatch")
)
