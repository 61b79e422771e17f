/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aiulian25/soundwave/internal/subscriptions"
)

func (a *API) handleSubscriptionsList(w http.ResponseWriter, r *http.Request) {
	subs, err := a.subs.List(r.Context(), ownerID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (a *API) handleSubscriptionsCreate(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	sub, err := a.subs.Create(r.Context(), ownerID(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleSubscriptionsGet(w http.ResponseWriter, r *http.Request) {
	sub, err := a.subs.Get(r.Context(), ownerID(r), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleSubscriptionsUpdate(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	sub, err := a.subs.Update(r.Context(), ownerID(r), chi.URLParam(r, "subscriptionID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleSubscriptionsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.subs.Delete(r.Context(), ownerID(r), chi.URLParam(r, "subscriptionID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSubscriptionsRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := a.subs.Refresh(r.Context(), ownerID(r), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
