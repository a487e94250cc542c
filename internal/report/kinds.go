// Package report defines the DIEL error taxonomy and the Reporter that
// applies the strict-or-lenient propagation policy.
//
// Three classes of error exist:
//   - User errors: the program or a runtime call is wrong (missing input
//     field, undefined output, missing alias on a materialized column).
//   - Internal errors: a compiler or planner invariant broke.
//   - Transport errors: a live engine failed a message or query.
//
// User and internal errors flow through a Reporter. In strict mode the
// Reporter returns them to the caller; in lenient mode it logs them and
// returns nil so the caller degrades to an empty result. Transport errors
// are always logged at the call site and never abort the process.
package report

import (
	stderrors "errors"

	errors "gopkg.in/src-d/go-errors.v1"
)

// User error kinds.
var (
	ErrMissingInputField = errors.NewKind("input %q is missing column %q")
	ErrUndefinedOutput   = errors.NewKind("output %q is not defined")
	ErrUndefinedEvent    = errors.NewKind("event %q is not defined")
	ErrUndefinedScale    = errors.NewKind("no scales configured for %q")
	ErrMissingAlias      = errors.NewKind("column %d of materialized view %q needs an alias")
	ErrCycle             = errors.NewKind("dependency cycle: %s")
	ErrUndefinedRelation = errors.NewKind("relation %q referenced by %q is not defined")
	ErrInvalidValue      = errors.NewKind("input %q column %q: %s")
	ErrUnknownColumn     = errors.NewKind("column %q not found for relation %q")
	ErrUndefinedView     = errors.NewKind("relation %q is not defined on the local engine")
	ErrRequestTimestep   = errors.NewKind("request timestep %d must be between 1 and %d")
)

// Internal error kinds.
var (
	ErrRelationNotFound    = errors.NewKind("relation %q not found in dependency map")
	ErrUnionTypeNotHandled = errors.NewKind("union type %T not handled in %s")
	ErrMalformedAst        = errors.NewKind("malformed AST in %q: %s")
	ErrMissingEngine       = errors.NewKind("base relation %q has no engine assigned")
	ErrNotImplemented      = errors.NewKind("not implemented: %s")
	ErrArgNull             = errors.NewKind("argument %s is null")
	ErrDuplicateRelation   = errors.NewKind("relation %q is defined on engines %d and %d")
	ErrUnexpectedCycle     = errors.NewKind("topological sort found a back edge at %q")
)

// Transport error kinds.
var (
	ErrRemoteUnreachable = errors.NewKind("remote %d unreachable")
	ErrRemoteQuery       = errors.NewKind("remote %d failed %s")
)

var userKinds = []*errors.Kind{
	ErrMissingInputField, ErrUndefinedOutput, ErrUndefinedEvent,
	ErrUndefinedScale, ErrMissingAlias, ErrCycle, ErrUndefinedRelation,
	ErrInvalidValue, ErrUnknownColumn, ErrUndefinedView, ErrRequestTimestep,
}

var internalKinds = []*errors.Kind{
	ErrRelationNotFound, ErrUnionTypeNotHandled, ErrMalformedAst,
	ErrMissingEngine, ErrNotImplemented, ErrArgNull, ErrDuplicateRelation,
	ErrUnexpectedCycle,
}

var transportKinds = []*errors.Kind{ErrRemoteUnreachable, ErrRemoteQuery}

// IsUser reports whether err is one of the user error kinds.
func IsUser(err error) bool { return isAny(err, userKinds) }

// IsInternal reports whether err is one of the internal error kinds.
func IsInternal(err error) bool { return isAny(err, internalKinds) }

// IsTransport reports whether err is one of the transport error kinds.
func IsTransport(err error) bool { return isAny(err, transportKinds) }

// Is reports whether any error in err's chain is of kind k. Kind.Is only
// inspects the outermost error, which misses kinds wrapped with %w.
func Is(err error, k *errors.Kind) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if k.Is(err) {
			return true
		}
	}
	return false
}

func isAny(err error, kinds []*errors.Kind) bool {
	for _, k := range kinds {
		if Is(err, k) {
			return true
		}
	}
	return false
}
