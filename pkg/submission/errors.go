package submission

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrFileNotFound indicates a stored file was not found
	ErrFileNotFound = errors.New("stored file not found")

	// ErrObjectNotFound indicates a blob was not found in the storage backend
	ErrObjectNotFound = errors.New("object not found")

	// ErrAssignmentNotFound indicates the referenced assignment does not exist
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrInvalidIdentifier indicates a malformed or missing identifier
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrMissingFile indicates a submit request carried no content stream
	ErrMissingFile = errors.New("missing file content")
)

// FileError represents an error related to stored-file operations
type FileError struct {
	FileID uuid.UUID
	Op     string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file operation %s failed for file %s: %v", e.Op, e.FileID, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations.
// A StorageError from an upload means no partial object became visible:
// the commit is discarded as a whole.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PartialCascadeError reports a cascading delete that removed some but not
// all submissions for an assignment. The delete is not transactional; the
// entries named in Errs remain and the caller decides whether to retry.
type PartialCascadeError struct {
	AssignmentID uuid.UUID
	Deleted      int
	Errs         []error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("cascade delete for assignment %s removed %d submissions, %d failed: %v",
		e.AssignmentID, e.Deleted, len(e.Errs), errors.Join(e.Errs...))
}

func (e *PartialCascadeError) Unwrap() []error {
	return e.Errs
}
