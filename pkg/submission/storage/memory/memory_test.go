package memory_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission/storage/memory"
)

func TestUploadDownloadDelete(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	err := backend.UploadWithParams(ctx, strings.NewReader("hello"), submission.UploadParams{
		ObjectKey: "submissions/a/b/hello.txt",
		MimeType:  "text/plain",
	})
	require.NoError(t, err)

	reader, err := backend.Download(ctx, "submissions/a/b/hello.txt")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	meta, err := backend.GetObjectMeta(ctx, "submissions/a/b/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)

	require.NoError(t, backend.Delete(ctx, "submissions/a/b/hello.txt"))

	_, err = backend.Download(ctx, "submissions/a/b/hello.txt")
	assert.ErrorIs(t, err, submission.ErrObjectNotFound)
	assert.ErrorIs(t, backend.Delete(ctx, "submissions/a/b/hello.txt"), submission.ErrObjectNotFound)
}

func TestMissingObject(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	_, err := backend.Download(ctx, "nope")
	assert.ErrorIs(t, err, submission.ErrObjectNotFound)

	_, err = backend.GetObjectMeta(ctx, "nope")
	assert.ErrorIs(t, err, submission.ErrObjectNotFound)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("stream aborted") }

func TestFailedUploadStoresNothing(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	err := backend.UploadWithParams(ctx, brokenReader{}, submission.UploadParams{ObjectKey: "partial"})
	require.Error(t, err)

	_, err = backend.Download(ctx, "partial")
	assert.ErrorIs(t, err, submission.ErrObjectNotFound)
}

func TestUploadOverwrite(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	require.NoError(t, backend.Upload(ctx, "key", strings.NewReader("v1")))
	require.NoError(t, backend.Upload(ctx, "key", strings.NewReader("version two")))

	reader, err := backend.Download(ctx, "key")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))
}
