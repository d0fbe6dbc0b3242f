// Package stage defines the error taxonomy shared by every pipeline stage.
//
// Stages wrap failures with one of the sentinel errors below so the driver
// can decide uniformly whether an item is worth retrying. The concrete
// stage implementations live in the subpackages.
package stage

import (
	"context"
	"errors"
)

var (
	// ErrTransientBlobIO marks object store reads and writes that may
	// succeed on retry.
	ErrTransientBlobIO = errors.New("transient blob I/O failure")

	// ErrTransientModel marks model inference failures that may succeed on
	// retry (server overload, connection resets).
	ErrTransientModel = errors.New("transient model failure")

	// ErrCorruptInput marks inputs no retry can fix: undecodable audio,
	// malformed JSON artefacts, impossible time ranges.
	ErrCorruptInput = errors.New("corrupt input")

	// ErrClusteringInvariant marks internal merge-stage inconsistencies,
	// such as a chunk referencing a speaker absent from its profiles.
	ErrClusteringInvariant = errors.New("clustering invariant violated")

	// ErrDeadlineExceeded marks a stage item that ran out of its per-item
	// wall-clock budget. The driver substitutes it for the item context's
	// deadline error, so a blown item budget stays distinguishable from a
	// cancelled run and gets retried.
	ErrDeadlineExceeded = errors.New("stage deadline exceeded")
)

// IsRetryable reports whether err is worth another attempt. Transient blob
// and model failures and blown per-item deadlines are; corrupt input,
// invariant violations, and run-level context errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransientBlobIO) || errors.Is(err, ErrTransientModel)
}
