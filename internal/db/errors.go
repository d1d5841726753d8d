package db

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports that a referenced row does not exist. Deleted
// entities can never come back, so callers treat this as permanent.
type NotFoundError struct {
	Entity string
	ID     any
}

// NotFound builds a NotFoundError for the given entity and key.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// Is matches ErrNotFound and any NotFoundError for the same entity whose
// ID is nil, so callers can test for "any missing integration" with
// errors.Is(err, &db.NotFoundError{Entity: "integration"}).
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	t, ok := target.(*NotFoundError)
	return ok && t.Entity == e.Entity && t.ID == nil
}
