package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mmvar/internal/fs"
)

func stores(t *testing.T) map[string]BlobStore {
	return map[string]BlobStore{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}
}

func TestBlobStore_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			blobName := "snap-001.mmfs"
			data := []byte("hello world, this is a test blob for mmvar")

			w, err := store.Create(ctx, blobName)
			require.NoError(t, err)
			n, err := w.Write(data)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.NoError(t, w.Sync())
			require.NoError(t, w.Close())

			blob, err := store.Open(ctx, blobName)
			require.NoError(t, err)
			defer blob.Close()
			require.Equal(t, int64(len(data)), blob.Size())

			buf := make([]byte, 5)
			n, err = blob.ReadAt(ctx, buf, 6)
			require.NoError(t, err)
			require.Equal(t, 5, n)
			require.Equal(t, "world", string(buf))

			r, err := blob.ReadRange(ctx, 13, 4)
			require.NoError(t, err)
			content, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, "this", string(content))

			require.NoError(t, store.Put(ctx, "snap-002.mmfs", []byte("x")))
			require.NoError(t, store.Put(ctx, "other", []byte("y")))

			names, err := store.List(ctx, "snap-")
			require.NoError(t, err)
			require.Equal(t, []string{"snap-001.mmfs", "snap-002.mmfs"}, names)

			require.NoError(t, store.Delete(ctx, blobName))
			require.NoError(t, store.Delete(ctx, blobName))

			names, err = store.List(ctx, "")
			require.NoError(t, err)
			require.Equal(t, []string{"other", "snap-002.mmfs"}, names)

			_, err = store.Open(ctx, blobName)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBlobStore_Abort(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "partial")
			require.NoError(t, err)
			_, err = w.Write([]byte("half"))
			require.NoError(t, err)
			require.NoError(t, w.Abort())

			_, err = store.Open(ctx, "partial")
			require.ErrorIs(t, err, ErrNotFound)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestBlobStore_ReadRangeBoundaries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("0123456789")
			require.NoError(t, store.Put(ctx, "boundary.bin", data))

			blob, err := store.Open(ctx, "boundary.bin")
			require.NoError(t, err)
			defer blob.Close()

			r, err := blob.ReadRange(ctx, 0, 10)
			require.NoError(t, err)
			content, _ := io.ReadAll(r)
			_ = r.Close()
			require.True(t, bytes.Equal(data, content))

			// Only 2 of the 5 requested bytes exist.
			r, err = blob.ReadRange(ctx, 8, 5)
			require.NoError(t, err)
			content, err = io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, "89", string(content))
			_ = r.Close()

			_, err = blob.ReadRange(ctx, 20, 5)
			require.ErrorIs(t, err, io.EOF)

			n, err := blob.ReadAt(ctx, make([]byte, 4), 8)
			require.ErrorIs(t, err, io.EOF)
			require.Equal(t, 2, n)
		})
	}
}

func TestLocalStore_NestedNames(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "daily/2026-10-18.mmfs", []byte("data")))
	_, err := os.Stat(filepath.Join(root, "daily", "2026-10-18.mmfs"))
	require.NoError(t, err)

	names, err := store.List(ctx, "daily/")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/2026-10-18.mmfs"}, names)
}

func TestLocalStore_SyncFailureLeavesNothing(t *testing.T) {
	root := t.TempDir()
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(".tmp-", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	store := NewLocalStoreWithFS(root, faulty)
	ctx := context.Background()

	err := store.Put(ctx, "snap", []byte("data"))
	require.ErrorIs(t, err, fs.ErrInjected)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_PutIfNotExists(t *testing.T) {
	var store ConditionalStore = NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutIfNotExists(ctx, "catalog/1", []byte("a")))
	err := store.PutIfNotExists(ctx, "catalog/1", []byte("b"))
	require.ErrorIs(t, err, ErrExists)

	blob, err := store.Open(ctx, "catalog/1")
	require.NoError(t, err)
	defer blob.Close()
	buf := make([]byte, 1)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", string(buf))
}
