package naming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	srv := httptest.NewServer(NewHandler(NewMemory()))
	t.Cleanup(srv.Close)
	return map[string]Registry{
		"memory": NewMemory(),
		"http":   NewHTTPClient(srv.URL + "/"),
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Lookup(ctx, "space")
			assert.ErrorIs(t, err, ErrNotBound)

			require.NoError(t, reg.Bind(ctx, "space", "http://a"))
			addr, err := reg.Lookup(ctx, "space")
			require.NoError(t, err)
			assert.Equal(t, "http://a", addr)

			assert.ErrorIs(t, reg.Bind(ctx, "space", "http://b"), ErrAlreadyBound)

			require.NoError(t, reg.Rebind(ctx, "space", "http://b"))
			addr, err = reg.Lookup(ctx, "space")
			require.NoError(t, err)
			assert.Equal(t, "http://b", addr)

			require.NoError(t, reg.Rebind(ctx, "other", "http://c"))
			addr, _ = reg.Lookup(ctx, "other")
			assert.Equal(t, "http://c", addr)

			require.NoError(t, reg.Unbind(ctx, "space"))
			_, err = reg.Lookup(ctx, "space")
			assert.ErrorIs(t, err, ErrNotBound)
			assert.ErrorIs(t, reg.Unbind(ctx, "space"), ErrNotBound)
		})
	}
}

func TestMemoryBindingsSorted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Bind(ctx, "zeta", "http://z"))
	require.NoError(t, m.Bind(ctx, "alpha", "http://a"))
	require.NoError(t, m.Bind(ctx, "mid", "http://m"))

	got := m.Bindings()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := NewHandler(NewMemory())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bind wrong method", http.MethodGet, "/bind", "", http.StatusMethodNotAllowed},
		{"bind bad json", http.MethodPost, "/bind", "{", http.StatusBadRequest},
		{"bind missing addr", http.MethodPost, "/bind", `{"name":"space"}`, http.StatusBadRequest},
		{"rebind missing name", http.MethodPost, "/rebind", `{"addr":"http://a"}`, http.StatusBadRequest},
		{"lookup without name", http.MethodGet, "/lookup", "", http.StatusBadRequest},
		{"lookup unknown", http.MethodGet, "/lookup?name=nope", "", http.StatusNotFound},
		{"unbind unknown", http.MethodPost, "/unbind", `{"name":"nope"}`, http.StatusNotFound},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHTTPClientNames(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	srv := httptest.NewServer(NewHandler(mem))
	defer srv.Close()

	require.NoError(t, mem.Bind(ctx, "space", "http://a"))
	names, err := NewHTTPClient(srv.URL).Names(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "space", names[0].Name)
	assert.Equal(t, "http://a", names[0].Addr)
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewHTTPClient(base).Lookup(context.Background(), "space")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotBound)
}
