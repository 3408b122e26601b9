package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository     Repository
	blobStores     map[string]BlobStore
	defaultBackend string
	assignments    AssignmentChecker
	logger         *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the submission index repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore adds a blob storage backend. The first registered backend
// becomes the default unless WithDefaultBackend overrides it.
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		if s.blobStores == nil {
			s.blobStores = make(map[string]BlobStore)
		}
		s.blobStores[name] = store
		if s.defaultBackend == "" {
			s.defaultBackend = name
		}
	}
}

// WithDefaultBackend selects which registered backend receives new commits
func WithDefaultBackend(name string) Option {
	return func(s *service) {
		s.defaultBackend = name
	}
}

// WithAssignmentChecker sets the existence check used before accepting a
// submission. Without one the service trusts the caller's assignment id.
func WithAssignmentChecker(checker AssignmentChecker) Option {
	return func(s *service) {
		s.assignments = checker
	}
}

// WithLogger sets the structured logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		blobStores: make(map[string]BlobStore),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if len(s.blobStores) == 0 {
		return nil, fmt.Errorf("at least one blob store is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// RegisterBackend registers a named blob storage backend
func (s *service) RegisterBackend(name string, backend BlobStore) {
	s.blobStores[name] = backend
	if s.defaultBackend == "" {
		s.defaultBackend = name
	}
}

// GetBackend returns a registered blob storage backend by name
func (s *service) GetBackend(name string) (BlobStore, error) {
	backend, ok := s.blobStores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStorageBackendNotFound, name)
	}
	return backend, nil
}

func (s *service) Submit(ctx context.Context, req SubmitRequest) (*StoredFile, error) {
	if req.AssignmentID == uuid.Nil || req.StudentID == uuid.Nil {
		return nil, fmt.Errorf("%w: assignment and student ids are required", ErrInvalidIdentifier)
	}
	if req.Reader == nil {
		return nil, ErrMissingFile
	}
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidIdentifier)
	}

	if s.assignments != nil {
		exists, err := s.assignments.AssignmentExists(ctx, req.AssignmentID)
		if err != nil {
			return nil, fmt.Errorf("assignment lookup failed: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, req.AssignmentID)
		}
	}

	backend, err := s.GetBackend(s.defaultBackend)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fileID := uuid.New()
	objectKey := s.generateObjectKey(req.AssignmentID, fileID, req.Filename)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Stream the content to the backend first. If anything fails mid-stream
	// the blob is discarded and no index entry is ever written, so a failed
	// upload leaves nothing queryable.
	uploadParams := UploadParams{
		ObjectKey: objectKey,
		MimeType:  contentType,
	}
	if err := backend.UploadWithParams(ctx, req.Reader, uploadParams); err != nil {
		s.discardBlob(ctx, backend, objectKey)
		return nil, &StorageError{
			Backend: s.defaultBackend,
			Key:     objectKey,
			Op:      "upload",
			Err:     err,
		}
	}

	var size int64
	if meta, err := backend.GetObjectMeta(ctx, objectKey); err == nil {
		size = meta.Size
	}

	file := &StoredFile{
		ID:          fileID,
		Filename:    req.Filename,
		ContentType: contentType,
		StorageKey:  objectKey,
		Size:        size,
		Status:      string(FileStatusCommitted),
		Metadata: FileMetadata{
			AssignmentID: req.AssignmentID,
			StudentID:    req.StudentID,
			Timestamp:    now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repository.CreateFile(ctx, file); err != nil {
		s.discardBlob(ctx, backend, objectKey)
		return nil, &FileError{
			FileID: fileID,
			Op:     "commit",
			Err:    err,
		}
	}

	s.logger.Info("submission committed",
		"file_id", fileID,
		"assignment_id", req.AssignmentID,
		"student_id", req.StudentID,
		"size", size)

	return file, nil
}

// discardBlob removes an orphaned blob after a failed commit. Best effort:
// the blob is unreachable either way since no index entry exists.
func (s *service) discardBlob(ctx context.Context, backend BlobStore, objectKey string) {
	if err := backend.Delete(ctx, objectKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.logger.Warn("failed to discard partial blob", "object_key", objectKey, "err", err)
	}
}

func (s *service) GetFile(ctx context.Context, id uuid.UUID) (*StoredFile, error) {
	return s.repository.GetFile(ctx, id)
}

func (s *service) DownloadFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *StoredFile, error) {
	file, err := s.repository.GetFile(ctx, id)
	if err != nil {
		return nil, nil, &FileError{FileID: id, Op: "download", Err: err}
	}
	return s.openBlob(ctx, file)
}

func (s *service) DownloadFileByName(ctx context.Context, filename string) (io.ReadCloser, *StoredFile, error) {
	file, err := s.repository.GetFileByName(ctx, filename)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup by name %q: %w", filename, err)
	}
	return s.openBlob(ctx, file)
}

func (s *service) openBlob(ctx context.Context, file *StoredFile) (io.ReadCloser, *StoredFile, error) {
	backend, err := s.GetBackend(s.defaultBackend)
	if err != nil {
		return nil, nil, err
	}

	reader, err := backend.Download(ctx, file.StorageKey)
	if err != nil {
		return nil, nil, &StorageError{
			Backend: s.defaultBackend,
			Key:     file.StorageKey,
			Op:      "download",
			Err:     err,
		}
	}
	return reader, file, nil
}

func (s *service) UpdateGrade(ctx context.Context, id uuid.UUID, grade string) error {
	if err := s.repository.UpdateGrade(ctx, id, grade); err != nil {
		return &FileError{FileID: id, Op: "update_grade", Err: err}
	}
	return nil
}

func (s *service) DeleteFile(ctx context.Context, id uuid.UUID) error {
	file, err := s.repository.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			// Already absent; deletion is idempotent.
			return nil
		}
		return &FileError{FileID: id, Op: "delete", Err: err}
	}

	backend, err := s.GetBackend(s.defaultBackend)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, file.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return &StorageError{
			Backend: s.defaultBackend,
			Key:     file.StorageKey,
			Op:      "delete",
			Err:     err,
		}
	}

	if err := s.repository.DeleteFile(ctx, id); err != nil && !errors.Is(err, ErrFileNotFound) {
		return &FileError{FileID: id, Op: "delete", Err: err}
	}
	return nil
}

func (s *service) CascadeDelete(ctx context.Context, assignmentID uuid.UUID) (int, error) {
	if assignmentID == uuid.Nil {
		return 0, fmt.Errorf("%w: assignment id is required", ErrInvalidIdentifier)
	}

	// Enumerate-then-delete. This is deliberately not transactional: each
	// file is removed individually and a mix of deleted/undeleted entries
	// can remain if some deletions fail.
	files, err := s.repository.ListFiles(ctx, ListFilesParams{AssignmentID: assignmentID})
	if err != nil {
		return 0, fmt.Errorf("enumerate submissions for assignment %s: %w", assignmentID, err)
	}

	deleted := 0
	var failures []error
	for _, file := range files {
		if err := s.DeleteFile(ctx, file.ID); err != nil {
			s.logger.Error("cascade delete failed for submission",
				"file_id", file.ID,
				"assignment_id", assignmentID,
				"err", err)
			failures = append(failures, fmt.Errorf("file %s: %w", file.ID, err))
			continue
		}
		deleted++
	}

	if len(failures) > 0 {
		return deleted, &PartialCascadeError{
			AssignmentID: assignmentID,
			Deleted:      deleted,
			Errs:         failures,
		}
	}

	s.logger.Info("cascade delete completed", "assignment_id", assignmentID, "deleted", deleted)
	return deleted, nil
}

func (s *service) ListByAssignment(ctx context.Context, assignmentID uuid.UUID, page, pageSize int) (*FilePage, error) {
	return s.listPage(ctx, ListFilesParams{AssignmentID: assignmentID}, page, pageSize)
}

func (s *service) ListByAssignmentAndStudent(ctx context.Context, assignmentID, studentID uuid.UUID, page, pageSize int) (*FilePage, error) {
	return s.listPage(ctx, ListFilesParams{AssignmentID: assignmentID, StudentID: &studentID}, page, pageSize)
}

func (s *service) listPage(ctx context.Context, filter ListFilesParams, page, pageSize int) (*FilePage, error) {
	if filter.AssignmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: assignment id is required", ErrInvalidIdentifier)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	// Count with the same filter used for the page fetch.
	totalCount, err := s.repository.CountFiles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}

	page, totalPages := ClampPage(page, pageSize, totalCount)

	result := &FilePage{
		Files:      []*StoredFile{},
		Page:       page,
		PageSize:   pageSize,
		TotalCount: totalCount,
		TotalPages: totalPages,
	}
	if totalCount == 0 {
		return result, nil
	}

	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize
	files, err := s.repository.ListFiles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	result.Files = files
	return result, nil
}

// generateObjectKey builds the blob key for a new submission. Keys are
// namespaced by assignment so related blobs group together in the backend.
func (s *service) generateObjectKey(assignmentID, fileID uuid.UUID, filename string) string {
	base := path.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	return fmt.Sprintf("submissions/%s/%s/%s", assignmentID, fileID, base)
}
