package main

import (
	"context"
	"net/http"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/service/findings"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

func (api *governanceAPI) handleListFindings(w http.ResponseWriter, r *http.Request) {
	list, err := api.svc.findings.ListByRun(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"findings": list})
}

func (api *governanceAPI) handleCreateFinding(w http.ResponseWriter, r *http.Request) {
	var req findings.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	finding, err := api.svc.findings.Create(r.Context(), auditInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, finding)
}

func (api *governanceAPI) handleGetFinding(w http.ResponseWriter, r *http.Request) {
	finding, err := api.svc.findings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, finding)
}

func (api *governanceAPI) handleUpdateFinding(w http.ResponseWriter, r *http.Request) {
	var req findings.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	finding, err := api.svc.findings.Update(r.Context(), auditInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, finding)
}

func (api *governanceAPI) handleSubmitFinding(w http.ResponseWriter, r *http.Request) {
	finding, err := api.svc.findings.Submit(r.Context(), auditInfo(r), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, finding)
}

func (api *governanceAPI) handleConfirmFinding(w http.ResponseWriter, r *http.Request) {
	api.reviewFinding(w, r, api.svc.findings.Confirm)
}

func (api *governanceAPI) handleRejectFinding(w http.ResponseWriter, r *http.Request) {
	api.reviewFinding(w, r, api.svc.findings.Reject)
}

type findingReview func(ctx context.Context, info status.AuditInfo, id, reason string) (domain.Finding, error)

func (api *governanceAPI) reviewFinding(w http.ResponseWriter, r *http.Request, review findingReview) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	finding, err := review(r.Context(), auditInfo(r), r.PathValue("id"), req.Reason)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, finding)
}
