package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/travelbingo/internal/identity"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func replyJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGenerateImage(t *testing.T) {
	var got Request
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate-image", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		replyJSON(w, Response{Success: true, ImageURL: "https://img.example/a.png"})
	})

	c := NewClient(srv.URL+"/", nil, identity.Static("client-1"), nil)
	url, err := c.GenerateImage(context.Background(), Request{
		CityID:        "amsterdam",
		ItemID:        "amsterdam-1",
		ItemText:      "Visit the Rijksmuseum",
		ForceNewImage: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "https://img.example/a.png", url)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, "amsterdam", got.CityID)
	assert.True(t, got.ForceNewImage)
}

func TestGenerateDescription(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate-description", r.URL.Path)
		replyJSON(w, Response{Success: true, Description: "A famous museum."})
	})

	c := NewClient(srv.URL, nil, nil, nil)
	text, err := c.GenerateDescription(context.Background(), Request{CityID: "c", ItemID: "i", ItemText: "t"})

	require.NoError(t, err)
	assert.Equal(t, "A famous museum.", text)
}

func TestExplicitClientIDWins(t *testing.T) {
	var got Request
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		replyJSON(w, Response{Success: true, Description: "ok"})
	})

	c := NewClient(srv.URL, nil, identity.Static("from-provider"), nil)
	_, err := c.GenerateDescription(context.Background(), Request{ClientID: "explicit"})

	require.NoError(t, err)
	assert.Equal(t, "explicit", got.ClientID)
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
		kind    string
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream exploded", http.StatusBadGateway)
			},
			kind: "network",
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
				assert.Equal(t, "upstream exploded", netErr.Body)
			},
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			kind: "malformed",
			check: func(t *testing.T, err error) {
				var badErr *MalformedResponseError
				assert.ErrorAs(t, err, &badErr)
			},
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				replyJSON(w, Response{Success: false, Error: "quota exceeded"})
			},
			kind: "application",
			check: func(t *testing.T, err error) {
				var appErr *ApplicationError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "quota exceeded", appErr.Message)
				assert.Empty(t, appErr.MissingField)
			},
		},
		{
			name: "success without url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				replyJSON(w, Response{Success: true})
			},
			kind: "application",
			check: func(t *testing.T, err error) {
				var appErr *ApplicationError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "imageUrl", appErr.MissingField)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.handler)
			c := NewClient(srv.URL, nil, nil, nil)

			_, err := c.GenerateImage(context.Background(), Request{CityID: "c", ItemID: "i"})

			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.kind, Kind(err))
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil, nil, nil).GenerateImage(context.Background(), Request{})

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.Equal(t, "network", Kind(err))
}

type failingProvider struct{}

func (failingProvider) ClientID(context.Context) (string, error) {
	return "", errors.New("disk full")
}

func TestIdentityFailure(t *testing.T) {
	c := NewClient("http://unused.invalid", nil, failingProvider{}, nil)
	_, err := c.GenerateImage(context.Background(), Request{})
	assert.ErrorContains(t, err, "failed to resolve client id")
	assert.Equal(t, "unknown", Kind(err))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "unknown", Kind(errors.New("x")))
}
