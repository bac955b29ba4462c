package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// NotFoundError indicates a record does not exist.
type NotFoundError struct {
	// Entity names the record type: "journey", "template", "job".
	Entity string

	// Key identifies the missing record.
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// IsNotFound returns true if the error is a missing-record error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// VersionConflictError indicates an optimistic-concurrency check failed:
// the record changed between read and write. Callers refetch and retry.
type VersionConflictError struct {
	Entity   string
	Key      string
	Expected string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s changed since read (expected %s)", e.Entity, e.Key, e.Expected)
}

// IsVersionConflict returns true if the error is an optimistic-concurrency failure.
// Uses errors.As to handle wrapped errors.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// AlreadyExistsError indicates an insert collided with an existing record
// that must not be replaced (published template versions).
type AlreadyExistsError struct {
	Entity string
	Key    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.Key)
}

// IsAlreadyExists returns true if the error is a duplicate-insert rejection.
func IsAlreadyExists(err error) bool {
	var ae *AlreadyExistsError
	return errors.As(err, &ae)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure. Used to map index collisions (one active journey per
// owner and playbook, one published template per version) to typed errors.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique ||
				se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}
