// Package errors provides the engine's error taxonomy: a small set of
// constructors for the error kinds named in spec.md §7 (Integrity,
// MissingDependency, Capacity, Transport, Merge, Protocol), layered on
// top of github.com/go-errors/errors for stack capture and
// github.com/pkg/errors for wrapping, matching the call shape used
// throughout the teacher's net package (errors.Wrap(msg, err), errors.Is,
// errors.New).
package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for the propagation policy in spec.md §7:
// recoverable kinds (MissingDependency, Capacity, Transport) are retried
// with bounded backoff by the caller; Integrity and Merge abort the
// current sync session but not the process; Protocol falls back to
// another strategy or fails the attempt.
type Kind int

const (
	KindUnknown Kind = iota
	KindIntegrity
	KindMissingDependency
	KindCapacity
	KindTransport
	KindMerge
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindIntegrity:
		return "integrity"
	case KindMissingDependency:
		return "missing_dependency"
	case KindCapacity:
		return "capacity"
	case KindTransport:
		return "transport"
	case KindMerge:
		return "merge"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// KV is a single structured key-value attached to an error, mirroring
// logging.KV so error and log fields share one shape.
type KV struct {
	Key   string
	Value any
}

func NewKV(key string, value any) KV {
	return KV{Key: key, Value: value}
}

// kindError is the concrete error type produced by the New*/Kind
// constructors below. It carries a stack trace (via go-errors) and an
// optional set of structured fields for observability sinks.
type kindError struct {
	kind    Kind
	wrapped *goerrors.Error
	fields  []KV
}

func (e *kindError) Error() string {
	return e.wrapped.Error()
}

func (e *kindError) Unwrap() error {
	return e.wrapped.Err
}

func (e *kindError) Kind() Kind {
	return e.kind
}

func (e *kindError) Fields() []KV {
	return e.fields
}

func newKind(kind Kind, msg string, fields ...KV) error {
	return &kindError{
		kind:    kind,
		wrapped: goerrors.New(msg),
		fields:  fields,
	}
}

// New creates a new un-kinded error with a captured stack trace.
func New(msg string) error {
	return goerrors.New(msg)
}

// Newf creates a new un-kinded, formatted error with a captured stack trace.
func Newf(format string, args ...any) error {
	return goerrors.Errorf(format, args...)
}

// Wrap attaches msg as context to cause, capturing a stack trace if cause
// doesn't already carry one. Mirrors the teacher's errors.Wrap(msg, err).
func Wrap(msg string, cause error) error {
	if cause == nil {
		return New(msg)
	}
	return pkgerrors.Wrap(cause, msg)
}

// WithStack attaches a stack trace to cause if it doesn't have one,
// optionally merging structured fields (used by KV-carrying error paths
// where the cause is something ordinary like an os or context error).
func WithStack(cause error, fields ...KV) error {
	if cause == nil {
		return nil
	}
	if len(fields) == 0 {
		return goerrors.Wrap(cause, 0)
	}
	return &kindError{kind: KindUnknown, wrapped: goerrors.Wrap(cause, 0), fields: fields}
}

// Is reports whether any error in cause's chain matches target,
// delegating to the standard library after unwrapping our own
// wrapper types.
func Is(cause, target error) bool {
	return stderrors.Is(cause, target)
}

// As finds the first error in cause's chain that matches target's type.
func As(cause error, target any) bool {
	return stderrors.As(cause, target)
}

// KindOf extracts the Kind of err if it (or something in its chain) is a
// kinded error produced by this package; returns KindUnknown otherwise.
func KindOf(err error) Kind {
	var ke *kindError
	if As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// --- Integrity ---

// VerificationError reports a hash/signature mismatch: a spec.md §4.1
// VerificationError with the entity/delta id plus expected and computed
// hashes, so the event stream can render it without re-deriving context.
type VerificationError struct {
	ID       string
	Expected string
	Computed string
}

func (v *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: expected %s, computed %s", v.ID, v.Expected, v.Computed)
}

func NewErrVerificationFailed(id, expected, computed string) error {
	ve := &VerificationError{ID: id, Expected: expected, Computed: computed}
	return &kindError{kind: KindIntegrity, wrapped: goerrors.Wrap(ve, 0)}
}

func NewErrMalformedDelta(reason string, fields ...KV) error {
	return newKind(KindIntegrity, "malformed delta: "+reason, fields...)
}

func NewErrSignatureInvalid(authorID string) error {
	return newKind(KindIntegrity, "signature verification failed", NewKV("author", authorID))
}

// --- MissingDependency ---

func NewErrMissingParent(deltaID, parentID string) error {
	return newKind(KindMissingDependency, "missing parent delta", NewKV("delta", deltaID), NewKV("parent", parentID))
}

func NewErrUnknownMemberKey(memberID string) error {
	return newKind(KindMissingDependency, "unknown member key", NewKV("member", memberID))
}

// --- Capacity ---

func NewErrCapacityExceeded(resource string, limit int) error {
	return newKind(KindCapacity, "capacity exceeded: "+resource, NewKV("limit", limit))
}

// --- Transport ---

func NewErrTransport(reason string, cause error) error {
	return &kindError{kind: KindTransport, wrapped: goerrors.Wrap(Wrap(reason, cause), 0)}
}

func NewErrTimeout(op string) error {
	return newKind(KindTransport, "operation timed out: "+op)
}

// --- Merge ---

// ErrWasmCallbackRequired indicates a Custom(type_name) entity needs a
// WasmMergeCallback that wasn't supplied to the StorageEngine (spec.md §6).
type ErrWasmCallbackRequired struct {
	TypeName string
}

func (e *ErrWasmCallbackRequired) Error() string {
	return fmt.Sprintf("no WasmMergeCallback registered for custom type %q", e.TypeName)
}

func NewErrWasmCallbackRequired(typeName string) error {
	return &kindError{kind: KindMerge, wrapped: goerrors.Wrap(&ErrWasmCallbackRequired{TypeName: typeName}, 0)}
}

func NewErrMergeFailed(entityID string, cause error) error {
	return &kindError{kind: KindMerge, wrapped: goerrors.Wrap(Wrap("merge failed for entity "+entityID, cause), 0)}
}

var ErrMismatchedMergeType = newKind(KindMerge, "delta type does not match register's expected delta type")

// --- Protocol ---

func NewErrUnsupportedVersion(got, want int) error {
	return newKind(KindProtocol, "unsupported wire version", NewKV("got", got), NewKV("want", want))
}

func NewErrNoMutualStrategy(peer string) error {
	return newKind(KindProtocol, "no mutually supported sync strategy", NewKV("peer", peer))
}

// Sentinels used with Is() by callers that only care about "not found".
var (
	ErrNotFound = stderrors.New("not found")
	ErrExists   = stderrors.New("already exists")
	ErrClosed   = stderrors.New("closed")
)
