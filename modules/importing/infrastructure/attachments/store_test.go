package attachments

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
)

func TestFileStore_StoreIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	data := []byte("scanned title deed, page 1")
	hash, err := s.Store(ctx, data)
	require.NoError(t, err)
	require.Equal(t, packagecodec.HashBytes(data), hash)

	again, err := s.Store(ctx, data)
	require.NoError(t, err)
	require.Equal(t, hash, again)

	files, err := filepath.Glob(filepath.Join(dir, hash[:2], hash[2:4], "*"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	ok, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Read(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, data, got)

	rc, err := s.Open(ctx, hash)
	require.NoError(t, err)
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, data, streamed)
}

func TestFileStore_Missing(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash := packagecodec.HashBytes([]byte("never stored"))
	ok, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Open(ctx, hash)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Exists(ctx, "short")
	require.Error(t, err)
}

func TestFileStore_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), []byte("x"))
	require.NoError(t, err)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		require.NotContains(t, info.Name(), ".incoming-")
		return nil
	})
	require.NoError(t, err)
}
