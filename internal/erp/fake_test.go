package erp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type erpCall struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

type erpHandler func(call erpCall) (any, error)

type fakeERP struct {
	mu       sync.Mutex
	handlers map[string]erpHandler
	calls    []erpCall
}

type remoteFailure string

func (r remoteFailure) Error() string { return string(r) }

func newFakeERP(t *testing.T) (*fakeERP, *Client) {
	t.Helper()
	fake := &fakeERP{handlers: make(map[string]erpHandler)}
	srv := httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(srv.Close)
	client := NewClient(Config{URL: srv.URL, Database: "odoo", UserID: 2, APIKey: "secret", Timeout: 5 * time.Second}, nil)
	return fake, client
}

func (f *fakeERP) on(model, method string, h erpHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[model+"."+method] = h
}

func (f *fakeERP) reply(model, method string, result any) {
	f.on(model, method, func(erpCall) (any, error) { return result, nil })
}

func (f *fakeERP) called(model, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Model == model && c.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeERP) lastCall(model, method string) (erpCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Model == model && f.calls[i].Method == method {
			return f.calls[i], true
		}
	}
	return erpCall{}, false
}

func (f *fakeERP) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64 `json:"id"`
		Params struct {
			Args []json.RawMessage `json:"args"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Params.Args) < 7 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var call erpCall
	_ = json.Unmarshal(req.Params.Args[3], &call.Model)
	_ = json.Unmarshal(req.Params.Args[4], &call.Method)
	_ = json.Unmarshal(req.Params.Args[5], &call.Args)
	_ = json.Unmarshal(req.Params.Args[6], &call.Kwargs)

	f.mu.Lock()
	f.calls = append(f.calls, call)
	h, ok := f.handlers[call.Model+"."+call.Method]
	f.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = map[string]any{"code": 200, "message": "Odoo Server Error", "data": map[string]any{"message": "unexpected call " + call.Model + "." + call.Method}}
	} else if result, err := h(call); err != nil {
		resp["error"] = map[string]any{"code": 200, "message": "Odoo Server Error", "data": map[string]any{"message": err.Error()}}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
