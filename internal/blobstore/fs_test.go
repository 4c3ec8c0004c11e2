package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testName = "0123456789abcdef0123456789abcdef.png"

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewFSStore_CreatesNestedRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "public", "images")
	s, err := NewFSStore(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())

	fi, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// Idempotent
	_, err = NewFSStore(root)
	require.NoError(t, err)
}

func TestNewFSStore_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewFSStore(filepath.Join(file, "images"))
	assert.Error(t, err)
}

func TestFSStore_PutAndOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("png bytes")
	require.NoError(t, s.Put(ctx, testName, data))

	r, info, err := s.Open(ctx, testName)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, testName, info.Name)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.False(t, info.CreatedAt.IsZero())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSStore_Put_Overwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, testName, []byte("first")))
	require.NoError(t, s.Put(ctx, testName, []byte("second")))

	got, err := os.ReadFile(filepath.Join(s.Root(), testName))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestFSStore_Put_InvalidName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, name := range []string{
		"../escape.png",
		"cat.png",
		"0123456789abcdef0123456789abcdef",
		"0123456789abcdef0123456789abcdef.PNG",
		"0123456789abcdef0123456789abcdef/.png",
		"",
	} {
		err := s.Put(ctx, name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestFSStore_Put_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Put(ctx, testName, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)

	has, err := s.Has(context.Background(), testName)
	require.NoError(t, err)
	assert.False(t, has)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files should remain")
}

func TestFSStore_Has(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.Has(ctx, testName)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.Put(ctx, testName, []byte("x")))

	has, err = s.Has(ctx, testName)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.Has(ctx, "../"+testName)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFSStore_Stat_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Stat(context.Background(), testName)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_Open_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Open(context.Background(), testName)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, _, err = s.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_Read(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, testName, []byte("streamed")))

	r, err := s.Read(ctx, testName)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(got))

	_, err = s.Read(ctx, "missing.png")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, testName, []byte("x")))

	require.NoError(t, s.Delete(ctx, testName))

	has, err := s.Has(ctx, testName)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFSStore_Delete_NotFound(t *testing.T) {
	s := newTestStore(t)

	// Should not error when deleting non-existent blob
	assert.NoError(t, s.Delete(context.Background(), testName))
}

func TestFSStore_Delete_OutOfBandName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "holiday.JPG"), []byte("x"), 0644))

	require.NoError(t, s.Delete(ctx, "holiday.JPG"))
	assert.ErrorIs(t, s.Delete(ctx, "../holiday.JPG"), ErrInvalidName)
}

func TestFSStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, s.Put(ctx, testName, []byte("abc")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "manual.gif"), []byte("gif"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".blob-123"), []byte("tmp"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "subdir"), 0755))

	infos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	names := []string{infos[0].Name, infos[1].Name}
	assert.ElementsMatch(t, []string{testName, "manual.gif"}, names)
	for _, info := range infos {
		assert.Equal(t, int64(3), info.Size)
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName(testName))
	assert.True(t, ValidName("0123456789abcdef0123456789abcdef.webp"))
	assert.False(t, ValidName("0123456789abcdef0123456789abcde.png"))
	assert.False(t, ValidName("photo.png"))
}
