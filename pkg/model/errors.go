package model

import "errors"

var (
	// ErrBindFailed is returned when the requested local binding cannot be
	// established. There is no fallback to default routing: a run with a
	// binding that does not bind must not send any traffic.
	ErrBindFailed = errors.New("cannot bind to local address")

	// ErrPathUnreachable is returned by a throughput phase after repeated
	// consecutive connection failures. It is fatal for that direction.
	ErrPathUnreachable = errors.New("path unreachable")

	// ErrInsufficientSamples is returned when too few probes succeeded to
	// compute meaningful statistics. It is fatal for the idle latency phase.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrNoData marks an aggregate computed over an empty sample pool. It
	// distinguishes "nothing measured" from a measured zero.
	ErrNoData = errors.New("no data")

	// ErrNoTargets is returned when none of the configured endpoints answered
	// the startup reachability probe.
	ErrNoTargets = errors.New("no targets available")
)

// ErrorKind is the wire-friendly name of a measurement error, as reported in
// events and in the final report.
type ErrorKind string

const (
	KindBindFailed          = ErrorKind("binding_error")
	KindPathUnreachable     = ErrorKind("path_unreachable")
	KindInsufficientSamples = ErrorKind("insufficient_samples")
	KindNoData              = ErrorKind("no_data")
	KindNoTargets           = ErrorKind("no_targets")
	KindCancelled           = ErrorKind("cancelled")
	KindUnknown             = ErrorKind("unknown")
)

// KindOf maps an error to its ErrorKind. Unrecognized errors map to
// KindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBindFailed):
		return KindBindFailed
	case errors.Is(err, ErrPathUnreachable):
		return KindPathUnreachable
	case errors.Is(err, ErrInsufficientSamples):
		return KindInsufficientSamples
	case errors.Is(err, ErrNoData):
		return KindNoData
	case errors.Is(err, ErrNoTargets):
		return KindNoTargets
	default:
		return KindUnknown
	}
}
