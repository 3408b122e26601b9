package submission

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the domain type for stored-file lifecycle states.
type FileStatus string

// File status constants.
//
// FileStatusUploading is transient and never observable through the index:
// a file id is handed out only once the file reaches FileStatusCommitted.
const (
	FileStatusUploading FileStatus = "uploading"
	FileStatusCommitted FileStatus = "committed"
	FileStatusDeleted   FileStatus = "deleted"
)

// FileMetadata is the metadata sidecar attached to every stored file.
// All fields except Grade are fixed at commit time.
type FileMetadata struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	StudentID    uuid.UUID `json:"student_id"`
	Timestamp    time.Time `json:"timestamp"`
	Grade        *string   `json:"grade,omitempty"`
}

// StoredFile represents one committed submission: an immutable binary object
// in a blob store plus its queryable metadata sidecar. Binary content and
// metadata never change after commit, with the single exception of Grade.
type StoredFile struct {
	ID          uuid.UUID    `json:"id"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	StorageKey  string       `json:"-"`
	Size        int64        `json:"size,omitempty"`
	Status      string       `json:"status"`
	Metadata    FileMetadata `json:"metadata"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// PageLinks holds the HATEOAS-style navigation links for a page of results.
// Self is only set when the result fits on a single page.
type PageLinks struct {
	Self      string `json:"self,omitempty"`
	NextPage  string `json:"nextPage,omitempty"`
	PrevPage  string `json:"prevPage,omitempty"`
	FirstPage string `json:"firstPage,omitempty"`
	LastPage  string `json:"lastPage,omitempty"`
}

// FilePage is one page of stored files plus pagination bookkeeping.
type FilePage struct {
	Files      []*StoredFile `json:"submissions"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalCount int           `json:"total_count"`
	TotalPages int           `json:"total_pages"`
	Links      PageLinks     `json:"links"`
}

// HasNext reports whether a page follows this one.
func (p *FilePage) HasNext() bool { return p.Page < p.TotalPages }

// HasPrev reports whether a page precedes this one.
func (p *FilePage) HasPrev() bool { return p.Page > 1 }

// ClampPage clamps a requested page number into [1, totalPages] for the
// given total count and page size. When totalCount is zero, totalPages is
// zero and the clamped page is 1 (an empty page with no links).
func ClampPage(page, pageSize, totalCount int) (clamped, totalPages int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	totalPages = (totalCount + pageSize - 1) / pageSize
	if totalPages == 0 {
		return 1, 0
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return page, totalPages
}

// DefaultPageSize is used when a caller does not specify a page size.
const DefaultPageSize = 10
