package catalog

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newCatalogRouter(store *memoryStore) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(store, 0))
	r := chi.NewRouter()
	r.Route("/api", h.MountRoutes)
	return r
}

func call(t *testing.T, router http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec.Code, decoded
}

func TestHandlerBoxLifecycle(t *testing.T) {
	store := newMemoryStore()
	router := newCatalogRouter(store)

	code, body := call(t, router, http.MethodPost, "/api/boxes", `{"code":"CAJA-1","sku":"SKU-9","qty_per_box":6}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "CAJA-1", body["data"].(map[string]any)["code"])

	code, body = call(t, router, http.MethodPost, "/api/boxes", `{"code":"CAJA-2","sku":"SKU-9","qty_per_box":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "validation", body["error"])

	code, body = call(t, router, http.MethodPost, "/api/resolve", `{"lines":[{"code":"CAJA-1","qty":2},{"code":"SKU-9","qty":1}]}`)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	require.Len(t, data["lines"], 2)
	require.Equal(t, float64(13), data["totals"].(map[string]any)["SKU-9"])

	code, _ = call(t, router, http.MethodDelete, "/api/boxes/CAJA-1", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, router, http.MethodDelete, "/api/boxes/CAJA-1", "")
	require.Equal(t, http.StatusNotFound, code)

	code, body = call(t, router, http.MethodGet, "/api/boxes?all=1", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"], 1)
}

func TestHandlerResolveRejectsBadQuantity(t *testing.T) {
	router := newCatalogRouter(newMemoryStore())
	code, _ := call(t, router, http.MethodPost, "/api/resolve", `{"lines":[{"code":"SKU-1","qty":0}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
}
