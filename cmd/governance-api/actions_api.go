package main

import (
	"net/http"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/service/actions"
)

type decisionResponse struct {
	RiskScore         float64     `json:"risk_score"`
	Tier              domain.Tier `json:"tier"`
	ManualOnly        bool        `json:"manual_only"`
	RequiredApprovals int         `json:"required_approvals"`
	RateCount         int         `json:"rate_count"`
	RateLimit         int         `json:"rate_limit"`
	PolicyVersion     string      `json:"policy_version"`
	Code              domain.Code `json:"code,omitempty"`
	Reason            string      `json:"reason,omitempty"`
}

type proposalResponse struct {
	Action     domain.ActionSpec  `json:"action"`
	Decision   decisionResponse   `json:"decision"`
	ManualTask *domain.ManualTask `json:"manual_task,omitempty"`
}

// handlePropose answers 201 for every evaluated proposal, including rejected
// ones; the rejection is part of the recorded action.
func (api *governanceAPI) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req actions.ProposeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	p, err := api.svc.actions.Propose(r.Context(), auditInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	d := p.Decision
	resp := proposalResponse{
		Action: p.Action,
		Decision: decisionResponse{
			RiskScore:         d.RiskScore,
			Tier:              d.Tier,
			ManualOnly:        d.ManualOnly,
			RequiredApprovals: d.RequiredApprovals,
			RateCount:         d.RateCount,
			RateLimit:         d.RateLimit,
			PolicyVersion:     d.PolicyVersion,
		},
		ManualTask: p.ManualTask,
	}
	if d.Rejection != nil {
		resp.Decision.Code = d.Rejection.Code
		resp.Decision.Reason = d.Rejection.Reason
	}
	api.writeJSON(w, http.StatusCreated, resp)
}

func (api *governanceAPI) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 200, 1000)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	var statuses []domain.ActionStatus
	for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		st := domain.ActionStatus(s)
		if !st.Valid() {
			api.badRequest(w, r, "status "+s+" is invalid")
			return
		}
		statuses = append(statuses, st)
	}
	list, err := api.svc.actions.List(r.Context(), r.PathValue("id"), statuses, limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"actions": list})
}

func (api *governanceAPI) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 200, 1000)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	list, err := api.svc.actions.Pending(r.Context(), strings.TrimSpace(r.URL.Query().Get("run_id")), limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"actions": list})
}

func (api *governanceAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	review, err := api.svc.actions.Approve(r.Context(), auditInfo(r), r.PathValue("id"), req.Reason)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, review)
}

func (api *governanceAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	review, err := api.svc.actions.Reject(r.Context(), auditInfo(r), r.PathValue("id"), req.Reason)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, review)
}

func (api *governanceAPI) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	list, err := api.svc.actions.Approvals(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"approvals": list})
}
