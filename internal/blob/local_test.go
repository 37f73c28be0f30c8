package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
)

func TestLocal_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "user-1/resume.pdf", strings.NewReader("%PDF-1.7")))

	r, err := s.Open(ctx, "user-1/resume.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, s.Delete(ctx, "user-1/resume.pdf"))
	_, err = s.Open(ctx, "user-1/resume.pdf")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLocal_DeleteMissingSucceeds(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, s.Delete(context.Background(), "never/written.pdf"))
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b"} {
		err := s.Put(context.Background(), key, strings.NewReader("x"))
		assert.True(t, errors.IsInvalidRequestError(err), "key %q", key)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(context.Background(), am.StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(context.Background(), am.StorageConfig{Backend: "s3"})
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = New(context.Background(), am.StorageConfig{Backend: "gcs"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestNotExist(t *testing.T) {
	assert.False(t, notExist(nil))
	assert.True(t, notExist(errors.Wrap(storageNotExist(), "delete")))
}
