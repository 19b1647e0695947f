package types

import "errors"

// Schema and compilation errors. These are programmer or configuration
// errors: operations fail fast and never retry them.
var (
	ErrUnknownEntity          = errors.New("unknown entity type")
	ErrMissingTenant          = errors.New("missing tenant value")
	ErrUnsupportedExpression  = errors.New("unsupported expression")
	ErrUnsupportedPatch       = errors.New("unsupported patch")
	ErrMissingIDProperty      = errors.New("entity has no id property")
	ErrMissingVersionProperty = errors.New("entity has no version property")
	ErrUnknownField           = errors.New("unknown field")
	ErrUnknownIndex           = errors.New("unknown text index")
	ErrInvalidID              = errors.New("invalid entity ID")
	ErrInvalidQuery           = errors.New("invalid search query")
	ErrTypeMismatch           = errors.New("type mismatch")
	ErrInvalidEntity          = errors.New("invalid entity declaration")
)

// Runtime outcomes of create, update and patch. Callers are expected to
// handle these explicitly.
var (
	// ErrDuplicatedKey is returned when the backend reports a uniqueness
	// violation on insert.
	ErrDuplicatedKey = errors.New("duplicated key")

	// ErrEntityNotFound is returned by a conditional update when no row with
	// the entity's id exists.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned by a conditional update when the row
	// exists but its version differs from the caller's copy.
	ErrVersionConflict = errors.New("version conflict")
)
