// Package postgres implements the submission index on PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE submission_file (
//	    id            UUID PRIMARY KEY,
//	    filename      TEXT NOT NULL,
//	    content_type  TEXT NOT NULL,
//	    storage_key   TEXT NOT NULL,
//	    size_bytes    BIGINT NOT NULL DEFAULT 0,
//	    status        TEXT NOT NULL,
//	    assignment_id UUID NOT NULL,
//	    student_id    UUID NOT NULL,
//	    submitted_at  TIMESTAMPTZ NOT NULL,
//	    grade         TEXT,
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL,
//	    deleted_at    TIMESTAMPTZ
//	);
//	CREATE INDEX submission_file_assignment_idx
//	    ON submission_file (assignment_id, student_id) WHERE deleted_at IS NULL;
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements submission.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) submission.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) submission.Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("stored file already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return submission.ErrFileNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const fileColumns = `id, filename, content_type, storage_key, size_bytes, status,
       assignment_id, student_id, submitted_at, grade, created_at, updated_at`

func scanFile(row pgx.Row) (*submission.StoredFile, error) {
	var file submission.StoredFile
	err := row.Scan(
		&file.ID, &file.Filename, &file.ContentType, &file.StorageKey,
		&file.Size, &file.Status,
		&file.Metadata.AssignmentID, &file.Metadata.StudentID,
		&file.Metadata.Timestamp, &file.Metadata.Grade,
		&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *Repository) CreateFile(ctx context.Context, file *submission.StoredFile) error {
	query := `
		INSERT INTO submission_file (
			id, filename, content_type, storage_key, size_bytes, status,
			assignment_id, student_id, submitted_at, grade, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		file.ID, file.Filename, file.ContentType, file.StorageKey,
		file.Size, file.Status,
		file.Metadata.AssignmentID, file.Metadata.StudentID,
		file.Metadata.Timestamp, file.Metadata.Grade,
		file.CreatedAt, file.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create file", err)
	}

	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*submission.StoredFile, error) {
	query := `
        SELECT ` + fileColumns + `
        FROM submission_file WHERE id = $1 AND deleted_at IS NULL`

	file, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, submission.ErrFileNotFound
		}
		return nil, r.handlePostgresError("get file", err)
	}

	return file, nil
}

func (r *Repository) GetFileByName(ctx context.Context, filename string) (*submission.StoredFile, error) {
	// Display names are not unique; the most recent commit wins.
	query := `
        SELECT ` + fileColumns + `
        FROM submission_file WHERE filename = $1 AND deleted_at IS NULL
        ORDER BY created_at DESC, id DESC LIMIT 1`

	file, err := scanFile(r.db.QueryRow(ctx, query, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, submission.ErrFileNotFound
		}
		return nil, r.handlePostgresError("get file by name", err)
	}

	return file, nil
}

func (r *Repository) UpdateGrade(ctx context.Context, id uuid.UUID, grade string) error {
	query := `
		UPDATE submission_file SET grade = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, grade, time.Now().UTC())
	if err != nil {
		return r.handlePostgresError("update grade", err)
	}
	if tag.RowsAffected() == 0 {
		return submission.ErrFileNotFound
	}
	return nil
}

func (r *Repository) DeleteFile(ctx context.Context, id uuid.UUID) error {
	// Soft delete: deleted rows stay for audit but disappear from queries
	query := `
		UPDATE submission_file SET status = $2, deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, string(submission.FileStatusDeleted))
	if err != nil {
		return r.handlePostgresError("delete file", err)
	}
	if tag.RowsAffected() == 0 {
		return submission.ErrFileNotFound
	}
	return nil
}

func (r *Repository) ListFiles(ctx context.Context, params submission.ListFilesParams) ([]*submission.StoredFile, error) {
	query := `
        SELECT ` + fileColumns + `
        FROM submission_file
        WHERE assignment_id = $1 AND deleted_at IS NULL`
	args := []interface{}{params.AssignmentID}

	if params.StudentID != nil {
		args = append(args, *params.StudentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}

	query += " ORDER BY created_at, id"

	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list files", err)
	}
	defer rows.Close()

	result := []*submission.StoredFile{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, r.handlePostgresError("list files", err)
		}
		result = append(result, file)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list files", err)
	}

	return result, nil
}

func (r *Repository) CountFiles(ctx context.Context, params submission.ListFilesParams) (int, error) {
	// Same filter as ListFiles, without paging.
	query := `
        SELECT COUNT(*) FROM submission_file
        WHERE assignment_id = $1 AND deleted_at IS NULL`
	args := []interface{}{params.AssignmentID}

	if params.StudentID != nil {
		args = append(args, *params.StudentID)
		query += fmt.Sprintf(" AND student_id = $%d", len(args))
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, r.handlePostgresError("count files", err)
	}
	return count, nil
}
