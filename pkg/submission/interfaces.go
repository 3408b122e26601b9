package submission

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content. Missing objects report ErrObjectNotFound.
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Repository defines the interface for the submission index: the queryable
// record of committed stored files. Index entries become visible no later
// than when the commit that created them returns.
type Repository interface {
	CreateFile(ctx context.Context, file *StoredFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*StoredFile, error)

	// GetFileByName returns the most recently committed file with the given
	// display name. Display names are not unique.
	GetFileByName(ctx context.Context, filename string) (*StoredFile, error)

	// UpdateGrade is the only permitted post-commit mutation.
	UpdateGrade(ctx context.Context, id uuid.UUID, grade string) error

	DeleteFile(ctx context.Context, id uuid.UUID) error

	// ListFiles returns matching files in stable commit order.
	ListFiles(ctx context.Context, params ListFilesParams) ([]*StoredFile, error)

	// CountFiles counts matches using the same filter as ListFiles,
	// ignoring Limit and Offset.
	CountFiles(ctx context.Context, params ListFilesParams) (int, error)
}

// ListFilesParams filters the submission index by assignment and optionally
// by student. A Limit of zero means no limit.
type ListFilesParams struct {
	AssignmentID uuid.UUID
	StudentID    *uuid.UUID
	Limit        int
	Offset       int
}

// AssignmentChecker reports whether an assignment exists. Assignment CRUD
// lives outside this module; the service only needs an existence check
// before accepting a submission.
type AssignmentChecker interface {
	AssignmentExists(ctx context.Context, assignmentID uuid.UUID) (bool, error)
}

// AssignmentCheckerFunc adapts a function to the AssignmentChecker interface.
type AssignmentCheckerFunc func(ctx context.Context, assignmentID uuid.UUID) (bool, error)

func (f AssignmentCheckerFunc) AssignmentExists(ctx context.Context, assignmentID uuid.UUID) (bool, error) {
	return f(ctx, assignmentID)
}
