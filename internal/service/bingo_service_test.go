package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/db"
	"github.com/vbonduro/travelbingo/internal/domain"
	"github.com/vbonduro/travelbingo/internal/generator"
	"github.com/vbonduro/travelbingo/internal/metrics"
	"github.com/vbonduro/travelbingo/internal/photostore"
	photosqlite "github.com/vbonduro/travelbingo/internal/photostore/sqlite"
	"github.com/vbonduro/travelbingo/internal/store"
)

// stubImages is a concurrency-safe ImageGenerator for tests.
type stubImages struct {
	mu    sync.Mutex
	calls []generator.Prompt
	fail  map[string]error
}

func (s *stubImages) GenerateImage(_ context.Context, p generator.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	if err := s.fail[p.ItemText]; err != nil {
		return "", err
	}
	return fmt.Sprintf("https://img.test/%d.png", len(s.calls)), nil
}

func (s *stubImages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubWriter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubWriter) Describe(_ context.Context, p generator.Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "About " + p.ItemText + " in " + p.CityTitle + ".", nil
}

type unavailableOpener struct{}

func (unavailableOpener) Open() (photostore.PhotoStore, error) {
	return nil, photostore.Unavailable(errors.New("disk gone"))
}

type testEnv struct {
	svc     *BingoService
	db      *sql.DB
	cities  *store.CityStore
	usage   *store.UsageStore
	images  *stubImages
	writer  *stubWriter
	metrics *metrics.Metrics
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, cityIDs ...string) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	env := &testEnv{
		db:     d,
		cities: store.NewCityStore(d),
		usage:  store.NewUsageStore(d),
		images: &stubImages{fail: map[string]error{}},
		writer: &stubWriter{},
	}
	for _, id := range cityIDs {
		require.NoError(t, env.cities.Create(context.Background(), testCity(id)))
	}

	m, err := metrics.New()
	require.NoError(t, err)
	env.metrics = m

	env.svc = NewBingoService(
		env.cities,
		env.usage,
		photosqlite.NewOpener(d, quietLogger()),
		env.images,
		env.writer,
		Options{
			Batch:          batch.Options{Concurrency: 3, MaxRetries: 2},
			CacheTTL:       time.Minute,
			ServerClientID: "server-admin",
		},
		m,
		quietLogger(),
	)
	return env
}

// testCity builds a 5x5 city whose center (index 12) is marked. Items 3, 7
// and 20 have no image; the rest carry a resolved one.
func testCity(id string) *domain.City {
	city := &domain.City{ID: id, Title: "Test " + id, Subtitle: "A city"}
	for i := 0; i < 25; i++ {
		row, col := i/5, i%5
		item := &domain.BingoItem{
			ID:    fmt.Sprintf("%s-%d", id, i),
			Text:  fmt.Sprintf("Activity %d", i),
			Image: fmt.Sprintf("/images/%s/%d.jpg", id, i),
			Row:   &row,
			Col:   &col,
		}
		switch i {
		case 3, 20:
			item.Image = ""
		case 7:
			item.Image = domain.PlaceholderImage
		case 12:
			item.IsCenter = true
			item.Text = "Arrive"
		}
		if i%2 == 0 {
			item.Description = "Known"
		}
		city.Items = append(city.Items, item)
	}
	return city
}

func TestGetCity(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	city, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.Equal(t, "Test amsterdam", city.Title)
	assert.Len(t, city.Items, 25)

	_, err = env.svc.GetCity(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCityIsCachedUntilRefresh(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	first, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)

	// A write behind the service's back is invisible until Refresh.
	require.NoError(t, env.cities.SetDescription(ctx, "amsterdam", "amsterdam-1", "changed"))
	cached, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.Same(t, first, cached)

	require.NoError(t, env.svc.Refresh(ctx, "amsterdam"))
	fresh, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.Equal(t, "changed", fresh.Item("amsterdam-1").Description)
}

func TestListCities(t *testing.T) {
	env := newTestEnv(t, "amsterdam", "barcelona")

	cities, err := env.svc.ListCities(context.Background())
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "amsterdam", cities[0].ID)
}

func TestToggleItem(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	item, err := env.svc.ToggleItem(ctx, "amsterdam", "amsterdam-0")
	require.NoError(t, err)
	assert.True(t, item.Completed)

	city, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.True(t, city.Item("amsterdam-0").Completed, "toggle evicts the cached city")

	item, err = env.svc.ToggleItem(ctx, "amsterdam", "amsterdam-0")
	require.NoError(t, err)
	assert.False(t, item.Completed)
}

func TestToggleItemCenterAndMissing(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	_, err := env.svc.ToggleItem(ctx, "amsterdam", "amsterdam-12")
	assert.ErrorIs(t, err, ErrCenterItem)

	_, err = env.svc.ToggleItem(ctx, "amsterdam", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetCityRemovesOnlyThatCitysPhotos(t *testing.T) {
	env := newTestEnv(t, "amsterdam", "barcelona")
	ctx := context.Background()

	_, err := env.svc.ToggleItem(ctx, "amsterdam", "amsterdam-0")
	require.NoError(t, err)
	require.NoError(t, env.svc.SavePhoto(ctx, "amsterdam", "amsterdam-0", "image/jpeg", []byte{1}))
	require.NoError(t, env.svc.SavePhoto(ctx, "amsterdam", "amsterdam-1", "image/png", []byte{2}))
	require.NoError(t, env.svc.SavePhoto(ctx, "barcelona", "barcelona-0", "image/jpeg", []byte{3}))

	removed, err := env.svc.ResetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	rec := httptest.NewRecorder()
	env.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "travelbingo_photos_removed_total 2")

	city, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	for _, item := range city.Items {
		assert.False(t, item.Completed, item.ID)
	}

	_, err = env.svc.GetPhoto(ctx, "amsterdam", "amsterdam-0")
	assert.ErrorIs(t, err, ErrNotFound)
	photo, err := env.svc.GetPhoto(ctx, "barcelona", "barcelona-0")
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, photo.Payload)

	_, err = env.svc.ResetCity(ctx, "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPhotos(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	require.NoError(t, env.svc.SavePhoto(ctx, "amsterdam", "amsterdam-4", "image/webp", []byte("riff")))
	photo, err := env.svc.GetPhoto(ctx, "amsterdam", "amsterdam-4")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", photo.MimeType)
	assert.False(t, photo.Timestamp.IsZero())

	require.NoError(t, env.svc.DeletePhoto(ctx, "amsterdam", "amsterdam-4"))
	_, err = env.svc.GetPhoto(ctx, "amsterdam", "amsterdam-4")
	assert.ErrorIs(t, err, ErrNotFound)

	err = env.svc.SavePhoto(ctx, "amsterdam", "ghost", "image/jpeg", []byte{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPhotosStorageUnavailable(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	env.svc.photos = unavailableOpener{}
	ctx := context.Background()

	err := env.svc.SavePhoto(ctx, "amsterdam", "amsterdam-0", "image/jpeg", []byte{1})
	assert.ErrorIs(t, err, photostore.ErrStorageUnavailable)
	_, err = env.svc.GetPhoto(ctx, "amsterdam", "amsterdam-0")
	assert.ErrorIs(t, err, photostore.ErrStorageUnavailable)

	removed, err := env.svc.ResetCity(ctx, "amsterdam")
	require.NoError(t, err, "reset still clears completion")
	assert.Zero(t, removed)
}

func TestGenerateImageKeepsResolvedImage(t *testing.T) {
	env := newTestEnv(t, "amsterdam")

	url, err := env.svc.GenerateImage(context.Background(), GenerateRequest{
		CityID: "amsterdam", ItemID: "amsterdam-0", ClientID: "c1",
	})

	require.NoError(t, err)
	assert.Equal(t, "/images/amsterdam/0.jpg", url)
	assert.Zero(t, env.images.count())
}

func TestGenerateImage(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	url, err := env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-3", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/1.png", url)
	assert.Equal(t, "Test amsterdam", env.images.calls[0].CityTitle)
	assert.Equal(t, "Activity 3", env.images.calls[0].ItemText)

	city, err := env.svc.GetCity(ctx, "amsterdam")
	require.NoError(t, err)
	assert.Equal(t, url, city.Item("amsterdam-3").Image)

	n, err := env.usage.Count(ctx, "c1", KindImage)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Forced regeneration replaces a resolved image.
	url, err = env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-3", ForceNewImage: true})
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/2.png", url)
}

func TestGenerateImageErrors(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	_, err := env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	upstream := errors.New("content policy")
	env.images.fail["Activity 3"] = upstream
	_, err = env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-3"})
	assert.ErrorIs(t, err, upstream)

	env.svc.images = nil
	_, err = env.svc.GenerateImage(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-3"})
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
}

func TestGenerateDescription(t *testing.T) {
	env := newTestEnv(t, "amsterdam")
	ctx := context.Background()

	text, err := env.svc.GenerateDescription(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-1", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "About Activity 1 in Test amsterdam.", text)

	item, err := env.cities.GetItem(ctx, "amsterdam", "amsterdam-1")
	require.NoError(t, err)
	assert.Equal(t, text, item.Description)

	n, err := env.usage.Count(ctx, "c1", KindDescription)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	env.writer.err = errors.New("overloaded")
	_, err = env.svc.GenerateDescription(ctx, GenerateRequest{CityID: "amsterdam", ItemID: "amsterdam-1"})
	assert.ErrorContains(t, err, "overloaded")
}
