package local

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/photostore"
	"github.com/vbonduro/travelbingo/internal/photostore/photostoretest"
)

func TestContract(t *testing.T) {
	photostoretest.Run(t, func(t *testing.T) photostore.PhotoStore {
		s, err := NewOpener(t.TempDir(), slog.Default()).Open()
		require.NoError(t, err)
		return s
	})
}

func TestOpenUnavailable(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, photostore.ErrStorageUnavailable)

	// A regular file cannot serve as the photo directory.
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	_, err = Open(filepath.Join(file, "photos"))
	assert.ErrorIs(t, err, photostore.ErrStorageUnavailable)
}

func TestOpenerRecoversOnceDirectoryIsUsable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "photos")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	opener := NewOpener(filepath.Join(blocker, "city"), slog.Default())

	_, err := opener.Open()
	require.ErrorIs(t, err, photostore.ErrStorageUnavailable)

	require.NoError(t, os.Remove(blocker))
	s, err := opener.Open()
	require.NoError(t, err)
	assert.True(t, s.Save(context.Background(), "amsterdam", "a-1", "image/png", []byte("png")))
}

func TestLocalPathTraversal(t *testing.T) {
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Fetch(ctx, "..", "passwd")
	assert.Error(t, err)

	err = b.Put(ctx, &domain.StoredPhoto{CityID: "..", ItemID: "x", Payload: []byte("x")})
	assert.Error(t, err)
}

func TestLocalLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, &domain.StoredPhoto{CityID: "new york", ItemID: "a/b", MimeType: "image/png", Payload: []byte("x")}))

	_, err = os.Stat(filepath.Join(dir, "new%20york", "a%2Fb.photo"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "new%20york", "a%2Fb.json"))
	assert.NoError(t, err)

	ids, err := b.ItemIDsForCity(ctx, "new york")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, ids)
}

func TestLocalIgnoresOrphanPayload(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "oslo"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oslo", "fjord.photo"), []byte("x"), 0600))

	photo, err := b.Fetch(ctx, "oslo", "fjord")
	require.NoError(t, err)
	assert.Nil(t, photo)

	ids, err := b.ItemIDsForCity(ctx, "oslo")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
