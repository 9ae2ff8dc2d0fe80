// Package photostoretest holds behaviour tests shared by every photo store
// backend.
package photostoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/travelbingo/internal/photostore"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) photostore.PhotoStore) {
	t.Run("save then get", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		before := time.Now().Add(-time.Second)

		require.True(t, s.Save(ctx, "amsterdam", "canal-cruise", "image/jpeg", []byte("first")))

		photo, ok := s.Get(ctx, "amsterdam", "canal-cruise")
		require.True(t, ok)
		assert.Equal(t, []byte("first"), photo.Payload)
		assert.Equal(t, "image/jpeg", photo.MimeType)
		assert.Equal(t, "amsterdam", photo.CityID)
		assert.Equal(t, "canal-cruise", photo.ItemID)
		assert.True(t, photo.Timestamp.After(before))
	})

	t.Run("last write wins", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.True(t, s.Save(ctx, "amsterdam", "stroopwafel", "image/jpeg", []byte("one")))
		require.True(t, s.Save(ctx, "amsterdam", "stroopwafel", "image/png", []byte("two")))

		photo, ok := s.Get(ctx, "amsterdam", "stroopwafel")
		require.True(t, ok)
		assert.Equal(t, []byte("two"), photo.Payload)
		assert.Equal(t, "image/png", photo.MimeType)
	})

	t.Run("get absent", func(t *testing.T) {
		s := open(t)

		photo, ok := s.Get(context.Background(), "amsterdam", "nothing")
		assert.False(t, ok)
		assert.Nil(t, photo)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.True(t, s.Save(ctx, "paris", "louvre", "image/jpeg", []byte("x")))
		assert.True(t, s.Delete(ctx, "paris", "louvre"))

		_, ok := s.Get(ctx, "paris", "louvre")
		assert.False(t, ok)

		assert.True(t, s.Delete(ctx, "paris", "louvre"), "deleting an absent record is a no-op")
	})

	t.Run("dashed ids do not collide", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.True(t, s.Save(ctx, "new-york", "bagel", "image/jpeg", []byte("ny")))
		require.True(t, s.Save(ctx, "new", "york-bagel", "image/jpeg", []byte("other")))

		photo, ok := s.Get(ctx, "new-york", "bagel")
		require.True(t, ok)
		assert.Equal(t, []byte("ny"), photo.Payload)

		assert.Equal(t, 1, s.DeleteAllForCity(ctx, "new"))
		_, ok = s.Get(ctx, "new-york", "bagel")
		assert.True(t, ok)
	})

	t.Run("delete all for city", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.True(t, s.Save(ctx, "amsterdam", fmt.Sprintf("item-%d", i), "image/jpeg", []byte{byte(i)}))
		}
		require.True(t, s.Save(ctx, "barcelona", "item-0", "image/jpeg", []byte("keep")))

		assert.Equal(t, 5, s.DeleteAllForCity(ctx, "amsterdam"))

		for i := 0; i < 5; i++ {
			_, ok := s.Get(ctx, "amsterdam", fmt.Sprintf("item-%d", i))
			assert.False(t, ok)
		}
		photo, ok := s.Get(ctx, "barcelona", "item-0")
		require.True(t, ok)
		assert.Equal(t, []byte("keep"), photo.Payload)

		assert.Zero(t, s.DeleteAllForCity(ctx, "amsterdam"))
		assert.Zero(t, s.DeleteAllForCity(ctx, "unknown"))
	})

	t.Run("bulk delete alongside point operations", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 20; i++ {
			require.True(t, s.Save(ctx, "rome", fmt.Sprintf("item-%d", i), "image/jpeg", []byte("r")))
		}

		var wg sync.WaitGroup
		var deleted int
		wg.Add(2)
		go func() {
			defer wg.Done()
			deleted = s.DeleteAllForCity(ctx, "rome")
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := fmt.Sprintf("item-%d", i)
				assert.True(t, s.Save(ctx, "oslo", id, "image/jpeg", []byte(id)))
				photo, ok := s.Get(ctx, "oslo", id)
				if assert.True(t, ok) {
					assert.Equal(t, []byte(id), photo.Payload)
				}
			}
		}()
		wg.Wait()

		assert.Equal(t, 20, deleted)
		assert.Equal(t, 20, s.DeleteAllForCity(ctx, "oslo"))
	})

	t.Run("empty ids are rejected", func(t *testing.T) {
		s := open(t)

		assert.False(t, s.Save(context.Background(), "", "item", "image/jpeg", []byte("x")))
		assert.False(t, s.Save(context.Background(), "city", "..", "image/jpeg", []byte("x")))
	})
}
