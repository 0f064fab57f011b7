package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when an item id is already present.
var ErrDuplicateID = errors.New("duplicate item id")

// DataError marks an item that cannot be placed on the calendar.
type DataError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("invalid item %s: %s: %s", e.ItemID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid item: %s: %s", e.Field, e.Reason)
}

// NotFoundError names the item that an update or delete referred to.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
	}
	return fmt.Sprintf("item %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SyncError wraps a failed call to the persistence collaborator.
type SyncError struct {
	Op  string
	ID  string
	Err error
}

func (e *SyncError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("sync %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
