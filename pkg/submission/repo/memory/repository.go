package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
)

// Repository implements submission.Repository using in-memory storage.
// Commit order is tracked explicitly so listings are stable.
type Repository struct {
	mu    sync.RWMutex
	files map[uuid.UUID]*submission.StoredFile
	order []uuid.UUID // ids in commit order
}

// New creates a new in-memory repository
func New() submission.Repository {
	return &Repository{
		files: make(map[uuid.UUID]*submission.StoredFile),
	}
}

func (r *Repository) CreateFile(ctx context.Context, file *submission.StoredFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to avoid external modifications
	fileCopy := *file
	r.files[file.ID] = &fileCopy
	r.order = append(r.order, file.ID)

	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*submission.StoredFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, exists := r.files[id]
	if !exists || file.DeletedAt != nil {
		return nil, submission.ErrFileNotFound
	}

	fileCopy := *file
	return &fileCopy, nil
}

func (r *Repository) GetFileByName(ctx context.Context, filename string) (*submission.StoredFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Scan from the newest commit backwards: display names are not unique
	// and the most recent match wins.
	for i := len(r.order) - 1; i >= 0; i-- {
		file := r.files[r.order[i]]
		if file == nil || file.DeletedAt != nil {
			continue
		}
		if file.Filename == filename {
			fileCopy := *file
			return &fileCopy, nil
		}
	}
	return nil, submission.ErrFileNotFound
}

func (r *Repository) UpdateGrade(ctx context.Context, id uuid.UUID, grade string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, exists := r.files[id]
	if !exists || file.DeletedAt != nil {
		return submission.ErrFileNotFound
	}

	file.Metadata.Grade = &grade
	file.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteFile(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, exists := r.files[id]
	if !exists || file.DeletedAt != nil {
		return submission.ErrFileNotFound
	}

	now := time.Now().UTC()
	file.Status = string(submission.FileStatusDeleted)
	file.DeletedAt = &now
	file.UpdatedAt = now
	return nil
}

func (r *Repository) ListFiles(ctx context.Context, params submission.ListFilesParams) ([]*submission.StoredFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*submission.StoredFile{}
	skipped := 0
	for _, id := range r.order {
		file := r.files[id]
		if !matches(file, params) {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		fileCopy := *file
		result = append(result, &fileCopy)
		if params.Limit > 0 && len(result) >= params.Limit {
			break
		}
	}

	return result, nil
}

func (r *Repository) CountFiles(ctx context.Context, params submission.ListFilesParams) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range r.order {
		if matches(r.files[id], params) {
			count++
		}
	}
	return count, nil
}

func matches(file *submission.StoredFile, params submission.ListFilesParams) bool {
	if file == nil || file.DeletedAt != nil {
		return false
	}
	if file.Metadata.AssignmentID != params.AssignmentID {
		return false
	}
	if params.StudentID != nil && file.Metadata.StudentID != *params.StudentID {
		return false
	}
	return true
}
