package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func postJSON(t *testing.T, ts *httptest.Server, path string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPFullCycle(t *testing.T) {
	e, err := NewEngine(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	ts := httptest.NewServer(e.Router())
	defer ts.Close()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "app.em")
	writeFile(t, src, counterV1)

	var initRes InitializeResult
	status := postJSON(t, ts, "/v1/initialize", InitializeRequest{
		Modules: []ModuleContext{{Name: "app", Sources: []string{srcDir}}},
	}, &initRes)
	if status != http.StatusOK {
		t.Fatalf("initialize status = %d", status)
	}
	if len(initRes.Modules) != 1 || initRes.Modules[0].Name != "app" {
		t.Fatalf("initialize result = %+v", initRes)
	}

	writeFile(t, src, counterV2)
	var diffRes DiffResult
	status = postJSON(t, ts, "/v1/compile-diff", CycleRequest{Module: "app", ChangedFiles: []string{"app.em"}}, &diffRes)
	if status != http.StatusOK {
		t.Fatalf("compile-diff status = %d", status)
	}
	if _, ok := diffRes.Diff["app.Counter"]; !ok {
		t.Fatalf("diff = %+v, want app.Counter", diffRes.Diff)
	}

	var synthRes SynthesizeResult
	status = postJSON(t, ts, "/v1/synthesize", CycleRequest{Module: "app"}, &synthRes)
	if status != http.StatusOK {
		t.Fatalf("synthesize status = %d", status)
	}
	if _, err := os.Stat(synthRes.PatchPath); err != nil {
		t.Fatalf("patch file missing: %v", err)
	}

	var applyRes ApplyResult
	status = postJSON(t, ts, "/v1/apply-hooks", CycleRequest{Module: "app"}, &applyRes)
	if status != http.StatusOK {
		t.Fatalf("apply-hooks status = %d", status)
	}
	if len(applyRes.Applied) != 1 || len(applyRes.Errors) != 0 {
		t.Fatalf("apply result = %+v", applyRes)
	}

	h, ok := e.Image().Resolve("app.Counter.value/0")
	if !ok {
		t.Fatal("app.Counter.value/0 not loaded")
	}
	if got := callValue(t, e.Image(), h); got != 2 {
		t.Errorf("value() = %d after HTTP cycle, want 2", got)
	}
}

func TestHTTPBadRequests(t *testing.T) {
	e, _ := newTestEngine(t)
	ts := httptest.NewServer(e.Router())
	defer ts.Close()

	tests := []struct {
		path string
		body any
		want int
	}{
		{"/v1/initialize", map[string]any{}, http.StatusBadRequest},
		{"/v1/compile-diff", map[string]any{}, http.StatusBadRequest},
		{"/v1/compile-diff", CycleRequest{Module: "ghost"}, http.StatusNotFound},
		{"/v1/synthesize", CycleRequest{Module: "ghost"}, http.StatusNotFound},
		{"/v1/apply-hooks", CycleRequest{Module: "ghost"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		if got := postJSON(t, ts, tt.path, tt.body, nil); got != tt.want {
			t.Errorf("POST %s with %+v: status = %d, want %d", tt.path, tt.body, got, tt.want)
		}
	}
}
