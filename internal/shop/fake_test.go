package shop

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type gqlCall struct {
	Operation string
	Variables map[string]any
}

type gqlHandler func(vars map[string]any) (data any, errs []string)

type fakeShop struct {
	mu       sync.Mutex
	handlers map[string]gqlHandler
	levels   map[string]int
	calls    []gqlCall
	rest     []string
}

func newFakeShop(t *testing.T) (*fakeShop, *Client) {
	t.Helper()
	fake := &fakeShop{handlers: make(map[string]gqlHandler), levels: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(srv.Close)
	client := NewClient(Config{URL: srv.URL, AccessToken: "shpat_test", APIVersion: "2025-10", Timeout: 5 * time.Second}, nil)
	return fake, client
}

func (f *fakeShop) on(op string, h gqlHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
}

func (f *fakeShop) reply(op string, data any) {
	f.on(op, func(map[string]any) (any, []string) { return data, nil })
}

func (f *fakeShop) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ops = append(ops, c.Operation)
	}
	return ops
}

func (f *fakeShop) callsTo(op string) []gqlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gqlCall
	for _, c := range f.calls {
		if c.Operation == op {
			out = append(out, c)
		}
	}
	return out
}

func operationName(query string) string {
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return ""
	}
	name := fields[1]
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	return name
}

func (f *fakeShop) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Shopify-Access-Token") != "shpat_test" {
		http.Error(w, `{"errors":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/inventory_levels.json"):
		f.serveLevels(w, r)
	case strings.HasSuffix(r.URL.Path, "/graphql.json"):
		f.serveGraphQL(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeShop) serveLevels(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.rest = append(f.rest, r.URL.RawQuery)
	levels := make([]map[string]any, 0)
	location := r.URL.Query().Get("location_ids")
	for _, id := range strings.Split(r.URL.Query().Get("inventory_item_ids"), ",") {
		if qty, ok := f.levels[id]; ok {
			levels = append(levels, map[string]any{
				"inventory_item_id": json.Number(id),
				"location_id":       json.Number(location),
				"available":         qty,
			})
		}
	}
	f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{"inventory_levels": levels})
}

func (f *fakeShop) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	op := operationName(req.Query)
	f.mu.Lock()
	f.calls = append(f.calls, gqlCall{Operation: op, Variables: req.Variables})
	h, ok := f.handlers[op]
	f.mu.Unlock()
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]any{{"message": "unexpected operation " + op}}})
		return
	}
	data, errs := h(req.Variables)
	resp := map[string]any{"data": data}
	if len(errs) > 0 {
		list := make([]map[string]any, 0, len(errs))
		for _, e := range errs {
			list = append(list, map[string]any{"message": e})
		}
		resp["errors"] = list
	}
	_ = json.NewEncoder(w).Encode(resp)
}
