package main

import (
	"net/http"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
)

func (api *governanceAPI) handlePollActions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 10, 100)
	if err != nil {
		api.badRequest(w, r, err.Error())
		return
	}
	list, err := api.svc.actions.Executable(r.Context(), limit)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	items := make([]domain.WorkItem, 0, len(list))
	for _, a := range list {
		items = append(items, domain.WorkItem{Action: a, Token: a.Token})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"actions": items})
}

// handleClaimAction answers 409 to every caller but the one that won the
// APPROVED -> EXECUTING transition.
func (api *governanceAPI) handleClaimAction(w http.ResponseWriter, r *http.Request) {
	action, err := api.svc.actions.Claim(r.Context(), workerInfo(r), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, domain.WorkItem{Action: action, Token: action.Token})
}

func (api *governanceAPI) handleCompleteAction(w http.ResponseWriter, r *http.Request) {
	var req execution.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		api.badRequest(w, r, "invalid json: "+err.Error())
		return
	}
	res, err := api.svc.execution.Complete(r.Context(), workerInfo(r), r.PathValue("id"), req)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, res)
}
