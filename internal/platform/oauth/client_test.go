package oauth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token       string
	invalidated int
}

func (s *staticTokens) Token(context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate()                          { s.invalidated++ }

func TestClient_InjectsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"42"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &staticTokens{token: "tok-1"})

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "42", out.Data.ID)
}

func TestClient_DoJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		assert.JSONEq(t, `{"name":"x"}`, buf.String())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &staticTokens{token: "t"})
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"name": "x"}, nil))
}

func TestClient_Download(t *testing.T) {
	payload := strings.Repeat("z", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &staticTokens{token: "t"})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.String())
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), &staticTokens{token: "t"})

	err := c.GetJSON(context.Background(), srv.URL, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "nope")
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "stale"}
	c := NewClient(srv.Client(), tokens)

	_, err := c.Stream(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, tokens.invalidated)
}
