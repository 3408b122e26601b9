package submission

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the submission lifecycle manager: it composes a blob store
// and the submission index, enforcing the commit/grade/delete workflow.
type Service interface {
	// Submit streams the request content into the blob store and commits a
	// new stored file. The file becomes queryable atomically: either the
	// returned file is fully committed and immediately visible to listing,
	// or nothing is stored at all.
	Submit(ctx context.Context, req SubmitRequest) (*StoredFile, error)

	// File operations
	GetFile(ctx context.Context, id uuid.UUID) (*StoredFile, error)
	DownloadFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *StoredFile, error)
	DownloadFileByName(ctx context.Context, filename string) (io.ReadCloser, *StoredFile, error)

	// UpdateGrade records or replaces the grade on a committed file. Any
	// mutation of a deleted file fails with ErrFileNotFound.
	UpdateGrade(ctx context.Context, id uuid.UUID, grade string) error

	// DeleteFile removes a stored file and its blob. Deleting an absent id
	// is not an error.
	DeleteFile(ctx context.Context, id uuid.UUID) error

	// CascadeDelete removes every submission for an assignment, returning
	// the number deleted. Partial completion surfaces *PartialCascadeError.
	CascadeDelete(ctx context.Context, assignmentID uuid.UUID) (int, error)

	// Index queries
	ListByAssignment(ctx context.Context, assignmentID uuid.UUID, page, pageSize int) (*FilePage, error)
	ListByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uuid.UUID, page, pageSize int) (*FilePage, error)

	// Storage backend operations
	RegisterBackend(name string, backend BlobStore)
	GetBackend(name string) (BlobStore, error)
}

// SubmitRequest contains parameters for committing a new submission.
type SubmitRequest struct {
	AssignmentID uuid.UUID
	StudentID    uuid.UUID
	Filename     string
	ContentType  string
	Reader       io.Reader
}
