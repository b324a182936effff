package handlers

import "net/http"

func (a *App) Balance(w http.ResponseWriter, r *http.Request) {
	if a.Billing == nil {
		a.json(w, http.StatusServiceUnavailable, map[string]string{"error": "billing not configured"})
		return
	}
	balance, err := a.Billing.RemainingBalance(r.Context())
	if err != nil {
		a.jsonError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]float64{"balance": balance})
}
