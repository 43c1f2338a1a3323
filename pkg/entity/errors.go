package entity

import (
	"errors"
	"fmt"
)

// ErrVetoed is returned when a before-action hook cancels an operation. No
// mutation has occurred when it is raised.
var ErrVetoed = errors.New("entity: operation vetoed by before-action hook")

// StateError reports an operation illegal for the entity's lifecycle state,
// such as saving a logically deleted entity.
type StateError struct {
	Entity string
	Op     string
	Reason string
}

func (e StateError) Error() string {
	return fmt.Sprintf("entity %s: %s: %s", e.Entity, e.Op, e.Reason)
}

// NotFoundError reports a failed load by key.
type NotFoundError struct {
	Table string
	Key   any
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("entity: no row in %s with key %v", e.Table, e.Key)
}

// FieldError reports access to an undeclared field.
type FieldError struct {
	Entity string
	Field  string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("entity %s: no field %q", e.Entity, e.Field)
}

// SharingError reports an atomic batch whose participants cannot share one
// transactional context.
type SharingError struct {
	Want string
	Got  string
}

func (e SharingError) Error() string {
	return fmt.Sprintf("entity: data context mismatch in atomic batch: %s vs %s", e.Want, e.Got)
}

// InsertFailedError reports a key-returning insert that produced the failure
// sentinel instead of a server key.
type InsertFailedError struct {
	Table string
}

func (e InsertFailedError) Error() string {
	return fmt.Sprintf("entity: insert into %s returned the failure sentinel", e.Table)
}
