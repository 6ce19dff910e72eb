package main

import (
	"net/http"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type createRunRequest struct {
	ProjectID string `json:"project_id"`
	ScopeID   string `json:"scope_id"`
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (api *governanceAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.ScopeID) == "" {
		api.badRequest(w, r, "project_id and scope_id are required")
		return
	}
	run, err := api.svc.runs.Create(r.Context(), auditInfo(r), req.ProjectID, req.ScopeID)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, run)
}

func (api *governanceAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100, 500)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	filter := repo.RunFilter{
		ProjectID: strings.TrimSpace(r.URL.Query().Get("project_id")),
		Limit:     limit,
	}
	if s := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); s != "" {
		filter.Status = domain.RunStatus(s)
		if !filter.Status.Valid() {
			api.badRequest(w, r, "status is invalid")
			return
		}
	}
	list, err := api.svc.runs.List(r.Context(), filter)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": list})
}

func (api *governanceAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.svc.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, run)
}

// handleRunStatus is the cheap poll used by agents and workers to observe
// the kill switch.
func (api *governanceAPI) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := api.svc.runs.Status(r.Context(), id)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "status": st})
}

func (api *governanceAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.svc.runs.Start(r.Context(), auditInfo(r), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, run)
}

func (api *governanceAPI) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.svc.runs.Stop(r.Context(), auditInfo(r), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, run)
}

func (api *governanceAPI) handleKillRun(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	run, err := api.svc.runs.Kill(r.Context(), auditInfo(r), r.PathValue("id"), req.Reason)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, run)
}

func (api *governanceAPI) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 500, 5000)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	entries, err := api.svc.runs.Timeline(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (api *governanceAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.svc.runs.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stats)
}
