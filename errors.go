package layercake

import "fmt"

// ErrorKind is one of the §7 error kinds. Transports map Kind to their own
// status codes; the core never encodes transport semantics into errors.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindValidation         ErrorKind = "validation"
	KindConflict           ErrorKind = "conflict"
	KindAuthorization      ErrorKind = "authorization"
	KindExecutionFailed    ErrorKind = "execution_failed"
	KindReplayConflict     ErrorKind = "replay_conflict"
	KindIntegrityViolation ErrorKind = "integrity_violation"
	KindTransient          ErrorKind = "transient"
)

// CoreError is the single structured error type produced by this package.
// Every mutation-path failure described in §7 is constructed through one of
// the newXxxError helpers below so callers can type-switch on Kind alone.
type CoreError struct {
	Kind   ErrorKind
	Entity string
	ID     string
	Field  string
	Reason string
	Node   string // node id, for ExecutionFailed
	EditID string // for ReplayConflict
	Err    error  // wrapped cause, if any
}

func (e *CoreError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("not found: %s %s", e.Entity, e.ID)
	case KindValidation:
		if e.Field != "" {
			return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
		}
		return fmt.Sprintf("validation: %s", e.Reason)
	case KindConflict:
		return fmt.Sprintf("conflict: %s: %s", e.Entity, e.Reason)
	case KindAuthorization:
		return fmt.Sprintf("authorization: action %q denied", e.Reason)
	case KindExecutionFailed:
		return fmt.Sprintf("execution failed: node %s: %s", e.Node, e.Reason)
	case KindReplayConflict:
		return fmt.Sprintf("replay conflict: edit %s", e.EditID)
	case KindIntegrityViolation:
		return fmt.Sprintf("integrity violation: %s", e.Reason)
	case KindTransient:
		return fmt.Sprintf("transient: %s", e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
}

func (e *CoreError) Unwrap() error { return e.Err }

func newNotFoundError(entity, id string) *CoreError {
	return &CoreError{Kind: KindNotFound, Entity: entity, ID: id}
}

func newValidationError(field, reason string) *CoreError {
	return &CoreError{Kind: KindValidation, Field: field, Reason: reason}
}

func newConflictError(entity, reason string) *CoreError {
	return &CoreError{Kind: KindConflict, Entity: entity, Reason: reason}
}

func newAuthorizationError(action string) *CoreError {
	return &CoreError{Kind: KindAuthorization, Reason: action}
}

func newExecutionFailedError(node, reason string) *CoreError {
	return &CoreError{Kind: KindExecutionFailed, Node: node, Reason: reason}
}

func newReplayConflictError(editID string) *CoreError {
	return &CoreError{Kind: KindReplayConflict, EditID: editID}
}

func newIntegrityViolationError(reason string, cause error) *CoreError {
	return &CoreError{Kind: KindIntegrityViolation, Reason: reason, Err: cause}
}

func newTransientError(reason string, cause error) *CoreError {
	return &CoreError{Kind: KindTransient, Reason: reason, Err: cause}
}

// IsKind reports whether err is a *CoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
