package sim

import "errors"

// Error kinds surfaced by the kernel. Call sites wrap them with context, so
// match with errors.Is.
var (
	// ErrTiming reports an attempt to schedule before the current clock.
	ErrTiming = errors.New("timing error")

	// ErrState reports an invalid lifecycle transition or an operation on a
	// handle in the wrong status.
	ErrState = errors.New("state error")

	// ErrConfiguration reports invalid replication bounds, priorities or
	// experiment settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrProgram reports a defect in model code: a wait outside an
	// interpreted process, a malformed instruction stream or a corrupted
	// captured frame chain.
	ErrProgram = errors.New("program error")
)
