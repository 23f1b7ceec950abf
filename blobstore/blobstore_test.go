package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the contract tests against every local implementation.
func storeUnderTest(t *testing.T) map[string]BlobStore {
	t.Helper()
	return map[string]BlobStore{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestBlobStoreContract(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("open missing", func(t *testing.T) {
				_, err := store.Open(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("put and open", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "dir/blob.bin", []byte("hello world")))

				b, err := store.Open(ctx, "dir/blob.bin")
				require.NoError(t, err)
				defer b.Close()

				assert.Equal(t, int64(11), b.Size())

				buf := make([]byte, 5)
				n, err := b.ReadAt(buf, 6)
				require.NoError(t, err)
				assert.Equal(t, 5, n)
				assert.Equal(t, []byte("world"), buf)

				// Reading past the end reports EOF.
				n, err = b.ReadAt(buf, 9)
				assert.Equal(t, 2, n)
				assert.ErrorIs(t, err, io.EOF)
			})

			t.Run("streaming create", func(t *testing.T) {
				w, err := store.Create(ctx, "streamed")
				require.NoError(t, err)
				_, err = w.Write([]byte("part1-"))
				require.NoError(t, err)
				_, err = w.Write([]byte("part2"))
				require.NoError(t, err)
				require.NoError(t, w.Sync())

				// Not visible until Close.
				_, err = store.Open(ctx, "streamed")
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, w.Close())

				b, err := store.Open(ctx, "streamed")
				require.NoError(t, err)
				defer b.Close()
				data := make([]byte, b.Size())
				_, err = io.ReadFull(io.NewSectionReader(b, 0, b.Size()), data)
				require.NoError(t, err)
				assert.Equal(t, []byte("part1-part2"), data)
			})

			t.Run("list", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "a/1", []byte("x")))
				require.NoError(t, store.Put(ctx, "a/2", []byte("x")))
				require.NoError(t, store.Put(ctx, "b/1", []byte("x")))

				names, err := store.List(ctx, "a/")
				require.NoError(t, err)
				assert.Equal(t, []string{"a/1", "a/2"}, names)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "gone", []byte("x")))
				require.NoError(t, store.Delete(ctx, "gone"))
				_, err := store.Open(ctx, "gone")
				assert.ErrorIs(t, err, ErrNotFound)

				// Deleting a missing blob is not an error.
				assert.NoError(t, store.Delete(ctx, "gone"))
			})

			t.Run("overwrite", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "twice", []byte("first")))
				require.NoError(t, store.Put(ctx, "twice", []byte("second!")))
				b, err := store.Open(ctx, "twice")
				require.NoError(t, err)
				defer b.Close()
				assert.Equal(t, int64(7), b.Size())
			})
		})
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("mutable")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'X'

	b, err := store.Open(ctx, "k")
	require.NoError(t, err)
	defer b.Close()
	buf := make([]byte, 1)
	_, err = b.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte('m'), buf[0])
}
