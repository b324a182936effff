package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vivagen/internal/domain"
	"vivagen/internal/generate"
)

type generateRequest struct {
	Kind        string                  `json:"kind"`
	ModelID     string                  `json:"model_id"`
	Prompt      string                  `json:"prompt"`
	AspectRatio string                  `json:"aspect_ratio"`
	ImageSize   string                  `json:"image_size"`
	OptionIndex int                     `json:"option_index"`
	Count       int                     `json:"count"`
	References  []domain.ReferenceImage `json:"references"`
}

func (a *App) ListAssets(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"assets": a.Dispatcher.Assets()})
}

func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	ids, err := a.Dispatcher.Submit(r.Context(), generate.Request{
		Kind:        domain.AssetKind(req.Kind),
		ModelID:     req.ModelID,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ImageSize:   req.ImageSize,
		OptionIndex: req.OptionIndex,
		Count:       req.Count,
		References:  req.References,
	})
	if err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"ids": ids})
}

func (a *App) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := a.Dispatcher.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) RefreshAsset(w http.ResponseWriter, r *http.Request) {
	ids, err := a.Dispatcher.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"ids": ids})
}
