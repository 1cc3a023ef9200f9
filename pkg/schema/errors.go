package schema

import "fmt"

// StoreError is the base recoverable failure for store operations: mixed
// types in a write batch, a missing entity id, malformed input. Anything that
// is not a namespace-level condition surfaces as a StoreError.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string { return e.Message }

// NewStoreError formats a StoreError.
func NewStoreError(format string, args ...any) *StoreError {
	return &StoreError{Message: fmt.Sprintf(format, args...)}
}

// NamespaceNotFoundError reports an operation against an unknown namespace.
// Adapters translate it to 404.
type NamespaceNotFoundError struct {
	NamespaceID string
}

func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %q not found", e.NamespaceID)
}

// NamespaceAlreadyExistsError reports a create collision.
type NamespaceAlreadyExistsError struct {
	NamespaceID string
}

func (e *NamespaceAlreadyExistsError) Error() string {
	return fmt.Sprintf("namespace %q already exists", e.NamespaceID)
}
