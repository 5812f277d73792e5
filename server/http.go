package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns the engine's HTTP API:
//
//	POST /v1/initialize    {modules, defines}
//	POST /v1/compile-diff  {module, changedFiles}
//	POST /v1/synthesize    {module}
//	POST /v1/apply-hooks   {module}
func (e *Engine) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/initialize", e.handleInitialize)
		r.Post("/compile-diff", e.handleCompileDiff)
		r.Post("/synthesize", e.handleSynthesize)
		r.Post("/apply-hooks", e.handleApplyHooks)
	})
	return r
}

// ListenAndServe starts the loopback HTTP server.
func (e *Engine) ListenAndServe(addr string) error {
	engineLog.Noticef("ember engine listening on %s", addr)
	return http.ListenAndServe(addr, e.Router())
}

// InitializeRequest is the body for POST /v1/initialize.
type InitializeRequest struct {
	Modules []ModuleContext   `json:"modules"`
	Defines map[string]string `json:"defines,omitempty"`
}

func (e *Engine) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Modules) == 0 {
		http.Error(w, "modules required", http.StatusBadRequest)
		return
	}
	result, err := e.Initialize(req.Modules, req.Defines)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CycleRequest addresses one module's pending cycle.
type CycleRequest struct {
	Module       string   `json:"module"`
	ChangedFiles []string `json:"changedFiles,omitempty"`
}

func (e *Engine) handleCompileDiff(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Module == "" {
		http.Error(w, "module required", http.StatusBadRequest)
		return
	}
	result, err := e.CompileAndDiff(req.Module, req.ChangedFiles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *Engine) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Module == "" {
		http.Error(w, "module required", http.StatusBadRequest)
		return
	}
	result, err := e.SynthesizeAndWritePatch(req.Module)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *Engine) handleApplyHooks(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Module == "" {
		http.Error(w, "module required", http.StatusBadRequest)
		return
	}
	result, err := e.ApplyHooks(req.Module)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrUnknownModule) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
