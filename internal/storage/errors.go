package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound        = errors.New("storage: document not found")
	ErrDuplicate       = errors.New("storage: duplicate document")
	ErrVersionConflict = errors.New("storage: version conflict")
	ErrUnavailable     = errors.New("storage: backend unavailable")
)

// classify maps driver errors onto package sentinels so callers never
// import the driver to branch on failures.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
