package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vivagen/internal/domain"
)

type optimizeRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

func (a *App) OptimizePrompt(w http.ResponseWriter, r *http.Request) {
	if a.Optimizer == nil {
		a.json(w, http.StatusServiceUnavailable, map[string]string{"error": "optimizer not configured"})
		return
	}
	var req optimizeRequest
	if !a.decode(w, r, &req) {
		return
	}
	kind := domain.AssetKindImage
	if req.Kind == string(domain.AssetKindVideo) {
		kind = domain.AssetKindVideo
	}
	optimized, err := a.Optimizer.Optimize(r.Context(), kind, req.Prompt)
	if err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"prompt": optimized})
}

type libraryRequest struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

func (a *App) ListLibrary(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"prompts": a.Library.List()})
}

func (a *App) AddLibraryPrompt(w http.ResponseWriter, r *http.Request) {
	var req libraryRequest
	if !a.decode(w, r, &req) {
		return
	}
	entry, err := a.Library.Add(req.Text)
	if err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusCreated, entry)
}

func (a *App) UpdateLibraryPrompt(w http.ResponseWriter, r *http.Request) {
	var req libraryRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Library.Update(chi.URLParam(r, "id"), req.Text); err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *App) DeleteLibraryPrompt(w http.ResponseWriter, r *http.Request) {
	if err := a.Library.Remove(chi.URLParam(r, "id")); err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) MoveLibraryPrompt(w http.ResponseWriter, r *http.Request) {
	var req libraryRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Library.Move(chi.URLParam(r, "id"), req.Index); err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "moved"})
}
