package main

import (
	"encoding/json"
	"net/http"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auth"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/manualtasks"
)

func (api *governanceAPI) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 200, 1000)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	list, err := api.svc.evidence.ListByRun(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"evidence": list})
}

func (api *governanceAPI) handleHumanEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidence.HumanUpload
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	ev, err := api.svc.evidence.CreateHuman(r.Context(), auditInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, ev)
}

type evidenceResponse struct {
	Evidence domain.Evidence `json:"evidence"`
	Verified bool            `json:"verified"`
	Artifact json.RawMessage `json:"artifact"`
}

// handleGetEvidence returns the record with its artifact after re-hashing
// the stored bytes.
func (api *governanceAPI) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	ev, body, err := api.svc.evidence.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	artifact := json.RawMessage(body)
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		artifact = quoted
	}
	api.writeJSON(w, http.StatusOK, evidenceResponse{Evidence: ev, Verified: true, Artifact: artifact})
}

// handleDeleteEvidence never deletes. It records the attempt and refuses.
func (api *governanceAPI) handleDeleteEvidence(w http.ResponseWriter, r *http.Request) {
	if api.authz.Authenticator != nil {
		if identity, err := api.authz.Authenticator.Authenticate(r.Context(), r); err == nil {
			r = r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
		}
	}
	err := api.svc.evidence.AttemptDelete(r.Context(), auditInfo(r), r.PathValue("id"))
	api.writeError(w, r, err)
}

func (api *governanceAPI) handleListManualTasks(w http.ResponseWriter, r *http.Request) {
	list, err := api.svc.manual.ListByRun(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"manual_tasks": list})
}

func (api *governanceAPI) handleCompleteManualTask(w http.ResponseWriter, r *http.Request) {
	var req manualtasks.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	task, err := api.svc.manual.Complete(r.Context(), auditInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, task)
}
