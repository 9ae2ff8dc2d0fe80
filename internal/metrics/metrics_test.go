package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveGeneration("image", nil)
	m.ObserveGeneration("image", errors.New("x"))
	m.ObserveGeneration("image", nil)
	m.ObserveBatchItem("fix-missing-images", false)
	m.ObservePhoto("save", true)
	m.ObservePhotosRemoved(3)
	m.ObservePhotosRemoved(0)

	body := scrape(t, m)
	assert.Contains(t, body, `travelbingo_generation_requests_total{kind="image",outcome="success"} 2`)
	assert.Contains(t, body, `travelbingo_generation_requests_total{kind="image",outcome="failure"} 1`)
	assert.Contains(t, body, `travelbingo_batch_items_total{flow="fix-missing-images",outcome="failure"} 1`)
	assert.Contains(t, body, `travelbingo_photo_operations_total{op="save",outcome="success"} 1`)
	assert.Contains(t, body, "travelbingo_photos_removed_total 3")
	assert.Contains(t, body, "go_goroutines")
}

func TestIndependentRegistries(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	a.ObservePhoto("delete", true)
	assert.NotContains(t, scrape(t, b), `op="delete"`)
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestNilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration("image", nil)
	m.ObserveBatchItem("x", true)
	m.ObservePhoto("x", true)
	m.ObservePhotosRemoved(1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
