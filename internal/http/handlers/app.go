// Package handlers exposes the local viewer API over the dispatcher and its
// supporting services.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"vivagen/internal/domain"
	"vivagen/internal/generate"
	"vivagen/internal/library"
	"vivagen/internal/providers/billing"
	"vivagen/internal/providers/prompt"
)

type App struct {
	Dispatcher *generate.Dispatcher
	Library    *library.Library
	Optimizer  *prompt.Optimizer
	Billing    *billing.Client
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError maps domain sentinels onto HTTP statuses and renders a uniform
// error envelope.
func (a *App) jsonError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyPrompt),
		errors.Is(err, domain.ErrInvalidCount),
		errors.Is(err, domain.ErrTooManyReferences),
		errors.Is(err, domain.ErrUnknownModel),
		errors.Is(err, domain.ErrAssetNotRetryable):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingCredential):
		code = http.StatusUnauthorized
	}
	a.json(w, code, map[string]string{"error": err.Error()})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	return true
}
