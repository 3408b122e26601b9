package submission_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
	repomemory "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/repo/memory"
	memorystorage "github.com/osu-cs493-sp23/tarpaulin/pkg/submission/storage/memory"
)

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []submission.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []submission.Option{},
			expectError: true,
		},
		{
			name: "repository without blob store should fail",
			options: []submission.Option{
				submission.WithRepository(repomemory.New()),
			},
			expectError: true,
		},
		{
			name: "repository and blob store should succeed",
			options: []submission.Option{
				submission.WithRepository(repomemory.New()),
				submission.WithBlobStore("memory", memorystorage.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := submission.New(tt.options...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func setupTestService(t *testing.T, opts ...submission.Option) submission.Service {
	t.Helper()

	options := append([]submission.Option{
		submission.WithRepository(repomemory.New()),
		submission.WithBlobStore("memory", memorystorage.New()),
	}, opts...)

	svc, err := submission.New(options...)
	require.NoError(t, err)
	require.NotNil(t, svc)

	return svc
}

func submitFile(t *testing.T, svc submission.Service, assignmentID, studentID uuid.UUID, filename, body string) *submission.StoredFile {
	t.Helper()

	file, err := svc.Submit(context.Background(), submission.SubmitRequest{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Filename:     filename,
		ContentType:  "text/plain",
		Reader:       strings.NewReader(body),
	})
	require.NoError(t, err)
	require.NotNil(t, file)
	return file
}

func TestSubmitAndReadBack(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	studentID := uuid.New()

	file := submitFile(t, svc, assignmentID, studentID, "essay.pdf", "the essay body")

	assert.NotEqual(t, uuid.Nil, file.ID)
	assert.Equal(t, "essay.pdf", file.Filename)
	assert.Equal(t, "text/plain", file.ContentType)
	assert.Equal(t, string(submission.FileStatusCommitted), file.Status)
	assert.Equal(t, assignmentID, file.Metadata.AssignmentID)
	assert.Equal(t, studentID, file.Metadata.StudentID)
	assert.Equal(t, int64(len("the essay body")), file.Size)

	// A committed file id is immediately resolvable to identical content.
	reader, got, err := svc.DownloadFile(ctx, file.ID)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "the essay body", string(data))
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, "essay.pdf", got.Filename)
}

func TestSubmitValidation(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	t.Run("nil assignment id", func(t *testing.T) {
		_, err := svc.Submit(ctx, submission.SubmitRequest{
			StudentID: uuid.New(),
			Filename:  "a.txt",
			Reader:    strings.NewReader("x"),
		})
		assert.ErrorIs(t, err, submission.ErrInvalidIdentifier)
	})

	t.Run("nil student id", func(t *testing.T) {
		_, err := svc.Submit(ctx, submission.SubmitRequest{
			AssignmentID: uuid.New(),
			Filename:     "a.txt",
			Reader:       strings.NewReader("x"),
		})
		assert.ErrorIs(t, err, submission.ErrInvalidIdentifier)
	})

	t.Run("missing reader", func(t *testing.T) {
		_, err := svc.Submit(ctx, submission.SubmitRequest{
			AssignmentID: uuid.New(),
			StudentID:    uuid.New(),
			Filename:     "a.txt",
		})
		assert.ErrorIs(t, err, submission.ErrMissingFile)
	})

	t.Run("missing filename", func(t *testing.T) {
		_, err := svc.Submit(ctx, submission.SubmitRequest{
			AssignmentID: uuid.New(),
			StudentID:    uuid.New(),
			Reader:       strings.NewReader("x"),
		})
		assert.ErrorIs(t, err, submission.ErrInvalidIdentifier)
	})
}

func TestSubmitUnknownAssignmentRejected(t *testing.T) {
	known := uuid.New()
	checker := submission.AssignmentCheckerFunc(func(ctx context.Context, id uuid.UUID) (bool, error) {
		return id == known, nil
	})
	svc := setupTestService(t, submission.WithAssignmentChecker(checker))
	ctx := context.Background()

	_, err := svc.Submit(ctx, submission.SubmitRequest{
		AssignmentID: uuid.New(),
		StudentID:    uuid.New(),
		Filename:     "a.txt",
		Reader:       strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, submission.ErrAssignmentNotFound)

	submitFile(t, svc, known, uuid.New(), "a.txt", "x")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestFailedUploadLeavesNothingQueryable(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	studentID := uuid.New()

	_, err := svc.Submit(ctx, submission.SubmitRequest{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Filename:     "broken.txt",
		Reader:       failingReader{},
	})
	require.Error(t, err)

	var storageErr *submission.StorageError
	assert.ErrorAs(t, err, &storageErr)

	// The failed upload must not be observable through any query path.
	page, err := svc.ListByAssignment(ctx, assignmentID, 1, submission.DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.Empty(t, page.Files)

	_, _, err = svc.DownloadFileByName(ctx, "broken.txt")
	assert.ErrorIs(t, err, submission.ErrFileNotFound)
}

func TestDownloadByNameMostRecentWins(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	first := submitFile(t, svc, assignmentID, uuid.New(), "hw1.pdf", "first version")
	second := submitFile(t, svc, assignmentID, uuid.New(), "hw1.pdf", "second version")
	require.NotEqual(t, first.ID, second.ID)

	reader, file, err := svc.DownloadFileByName(ctx, "hw1.pdf")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(data))
	assert.Equal(t, second.ID, file.ID)
}

func TestGradeLifecycle(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	file := submitFile(t, svc, assignmentID, uuid.New(), "quiz.txt", "answers")

	require.NoError(t, svc.UpdateGrade(ctx, file.ID, "92.5"))

	got, err := svc.GetFile(ctx, file.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.Grade)
	assert.Equal(t, "92.5", *got.Metadata.Grade)

	// Grade updates touch only the grade field.
	assert.Equal(t, file.Filename, got.Filename)
	assert.Equal(t, file.Metadata.Timestamp, got.Metadata.Timestamp)

	require.NoError(t, svc.DeleteFile(ctx, file.ID))

	err = svc.UpdateGrade(ctx, file.ID, "95")
	assert.ErrorIs(t, err, submission.ErrFileNotFound)
}

func TestUpdateGradeUnknownFile(t *testing.T) {
	svc := setupTestService(t)

	err := svc.UpdateGrade(context.Background(), uuid.New(), "80")
	assert.ErrorIs(t, err, submission.ErrFileNotFound)
}

func TestDeleteFile(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	file := submitFile(t, svc, uuid.New(), uuid.New(), "gone.txt", "bye")

	require.NoError(t, svc.DeleteFile(ctx, file.ID))

	_, err := svc.GetFile(ctx, file.ID)
	assert.ErrorIs(t, err, submission.ErrFileNotFound)

	_, _, err = svc.DownloadFile(ctx, file.ID)
	assert.ErrorIs(t, err, submission.ErrFileNotFound)

	// Deleting again is a no-op, not an error.
	assert.NoError(t, svc.DeleteFile(ctx, file.ID))
	assert.NoError(t, svc.DeleteFile(ctx, uuid.New()))
}

func TestCascadeDelete(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	otherAssignment := uuid.New()

	for i := 0; i < 3; i++ {
		submitFile(t, svc, assignmentID, uuid.New(), fmt.Sprintf("sub%d.txt", i), "body")
	}
	kept := submitFile(t, svc, otherAssignment, uuid.New(), "other.txt", "body")

	deleted, err := svc.CascadeDelete(ctx, assignmentID)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	page, err := svc.ListByAssignment(ctx, assignmentID, 1, submission.DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)

	// Unrelated assignments are untouched.
	_, err = svc.GetFile(ctx, kept.ID)
	assert.NoError(t, err)

	// Cascading over an assignment with no submissions is not an error.
	deleted, err = svc.CascadeDelete(ctx, assignmentID)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

// flakyBlobStore fails Delete for selected object keys.
type flakyBlobStore struct {
	submission.BlobStore
	failKeys map[string]bool
}

func (f *flakyBlobStore) Delete(ctx context.Context, objectKey string) error {
	if f.failKeys[objectKey] {
		return errors.New("backend unavailable")
	}
	return f.BlobStore.Delete(ctx, objectKey)
}

func TestCascadeDeletePartialFailure(t *testing.T) {
	flaky := &flakyBlobStore{BlobStore: memorystorage.New(), failKeys: map[string]bool{}}
	svc, err := submission.New(
		submission.WithRepository(repomemory.New()),
		submission.WithBlobStore("memory", flaky),
	)
	require.NoError(t, err)
	ctx := context.Background()

	assignmentID := uuid.New()
	ok1 := submitFile(t, svc, assignmentID, uuid.New(), "ok1.txt", "body")
	stuck := submitFile(t, svc, assignmentID, uuid.New(), "stuck.txt", "body")
	ok2 := submitFile(t, svc, assignmentID, uuid.New(), "ok2.txt", "body")

	stuckFull, err := svc.GetFile(ctx, stuck.ID)
	require.NoError(t, err)
	flaky.failKeys[stuckFull.StorageKey] = true

	deleted, err := svc.CascadeDelete(ctx, assignmentID)
	require.Error(t, err)
	assert.Equal(t, 2, deleted)

	var partial *submission.PartialCascadeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, assignmentID, partial.AssignmentID)
	assert.Equal(t, 2, partial.Deleted)
	assert.Len(t, partial.Errs, 1)

	// The surviving entry is still queryable; the deleted ones are gone.
	_, err = svc.GetFile(ctx, stuck.ID)
	assert.NoError(t, err)
	_, err = svc.GetFile(ctx, ok1.ID)
	assert.ErrorIs(t, err, submission.ErrFileNotFound)
	_, err = svc.GetFile(ctx, ok2.ID)
	assert.ErrorIs(t, err, submission.ErrFileNotFound)

	// A retry after the backend recovers removes the remainder.
	flaky.failKeys = map[string]bool{}
	deleted, err = svc.CascadeDelete(ctx, assignmentID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestListPagination(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	assignmentID := uuid.New()
	studentID := uuid.New()

	t.Run("empty result has zero pages", func(t *testing.T) {
		page, err := svc.ListByAssignment(ctx, assignmentID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, page.TotalCount)
		assert.Equal(t, 0, page.TotalPages)
		assert.Equal(t, 1, page.Page)
		assert.Empty(t, page.Files)
	})

	for i := 0; i < 25; i++ {
		sid := uuid.New()
		if i < 5 {
			sid = studentID
		}
		submitFile(t, svc, assignmentID, sid, fmt.Sprintf("sub%02d.txt", i), "body")
	}

	t.Run("25 items at page size 10 is 3 pages", func(t *testing.T) {
		page, err := svc.ListByAssignment(ctx, assignmentID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, page.TotalCount)
		assert.Equal(t, 3, page.TotalPages)
		assert.Len(t, page.Files, 10)

		last, err := svc.ListByAssignment(ctx, assignmentID, 3, 10)
		require.NoError(t, err)
		assert.Len(t, last.Files, 5)
	})

	t.Run("out of range page clamps to last", func(t *testing.T) {
		page, err := svc.ListByAssignment(ctx, assignmentID, 5, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Page)
		assert.Len(t, page.Files, 5)

		page, err = svc.ListByAssignment(ctx, assignmentID, -2, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Page)
	})

	t.Run("student filter", func(t *testing.T) {
		page, err := svc.ListByAssignmentAndStudent(ctx, assignmentID, studentID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 5, page.TotalCount)
		assert.Equal(t, 1, page.TotalPages)
		assert.Len(t, page.Files, 5)
		for _, f := range page.Files {
			assert.Equal(t, studentID, f.Metadata.StudentID)
		}
	})

	t.Run("listing is in commit order", func(t *testing.T) {
		page, err := svc.ListByAssignment(ctx, assignmentID, 1, 10)
		require.NoError(t, err)
		require.Len(t, page.Files, 10)
		for i, f := range page.Files {
			assert.Equal(t, fmt.Sprintf("sub%02d.txt", i), f.Filename)
		}
	})
}

func TestBackendRegistry(t *testing.T) {
	svc := setupTestService(t)

	backend, err := svc.GetBackend("memory")
	assert.NoError(t, err)
	assert.NotNil(t, backend)

	_, err = svc.GetBackend("s3")
	assert.ErrorIs(t, err, submission.ErrStorageBackendNotFound)

	svc.RegisterBackend("s3", memorystorage.New())
	backend, err = svc.GetBackend("s3")
	assert.NoError(t, err)
	assert.NotNil(t, backend)
}
