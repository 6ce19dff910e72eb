package main

import (
	"net/http"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
)

type createScopeRequest struct {
	ProjectID string `json:"project_id"`
	domain.ScopeDefinition
}

type updateScopeRequest struct {
	// Version is the draft version being edited; zero edits the current one.
	Version int `json:"version,omitempty"`
	domain.ScopeDefinition
}

func (api *governanceAPI) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var req createScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		api.badRequest(w, r, "project_id is required")
		return
	}
	scope, err := api.svc.scopes.Create(r.Context(), auditInfo(r), req.ProjectID, req.ScopeDefinition)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, scope)
}

func (api *governanceAPI) handleGetScope(w http.ResponseWriter, r *http.Request) {
	scope, err := api.svc.scopes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, scope)
}

func (api *governanceAPI) handleUpdateScope(w http.ResponseWriter, r *http.Request) {
	var req updateScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	scope, err := api.svc.scopes.Update(r.Context(), auditInfo(r), r.PathValue("id"), req.Version, req.ScopeDefinition)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, scope)
}

func (api *governanceAPI) handleLockScope(w http.ResponseWriter, r *http.Request) {
	scope, err := api.svc.scopes.Lock(r.Context(), auditInfo(r), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, scope)
}
