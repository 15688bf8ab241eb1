// Package errkind implements the transient/permanent error discriminator
// described in spec.md §7 and §9 ("Exceptions/error returns -> sum-type
// error with a transient vs permanent discriminator per call site"). Retry
// loops across chain, broker, servermanager and txsubmitter all branch on
// Is(err) rather than matching strings or sentinel values directly.
package errkind

import "errors"

// Kind discriminates an error for retry-loop purposes.
type Kind int

const (
	// Unknown is returned for errors never wrapped by this package; callers
	// should treat unknown errors as permanent, matching the "no component
	// masks a permanent error behind a retry" policy in spec.md §7.
	Unknown Kind = iota
	KindTransient
	KindPermanent
)

type wrapped struct {
	kind Kind
	err  error
}

func (w *wrapped) Error() string { return w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

// Transient wraps err as retryable: network disconnects, gRPC
// UNAVAILABLE/DEADLINE_EXCEEDED, Redis connection errors, consume-timeouts.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: KindTransient, err: err}
}

// Permanent wraps err as a fatal protocol violation that must surface to the
// component's top-level task: broker parent-id mismatch, server-manager
// InvalidArgument/NotFound/FailedPrecondition, foldable invariant breaches,
// and the like.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: KindPermanent, err: err}
}

// Is reports the Kind most recently attached to err by Transient/Permanent,
// walking the unwrap chain outward-in (the outermost wrap wins).
func Is(err error) Kind {
	var w *wrapped
	if errors.As(err, &w) {
		return w.kind
	}
	return Unknown
}

// IsTransient is a convenience predicate for retry loops.
func IsTransient(err error) bool { return Is(err) == KindTransient }

// IsPermanent is a convenience predicate for retry loops.
func IsPermanent(err error) bool { return Is(err) == KindPermanent }
