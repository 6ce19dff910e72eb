package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/auth"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/httpserver"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/metrics"
	"github.com/ThewitchASarz/sucrityflash/internal/service/actions"
	"github.com/ThewitchASarz/sucrityflash/internal/service/evidence"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
	"github.com/ThewitchASarz/sucrityflash/internal/service/findings"
	"github.com/ThewitchASarz/sucrityflash/internal/service/manualtasks"
	"github.com/ThewitchASarz/sucrityflash/internal/service/runs"
	"github.com/ThewitchASarz/sucrityflash/internal/service/scopes"
	"github.com/ThewitchASarz/sucrityflash/internal/service/status"
)

const maxBodyBytes = 4 << 20

type services struct {
	scopes    *scopes.Service
	runs      *runs.Service
	actions   *actions.Service
	evidence  *evidence.Service
	execution *execution.Service
	manual    *manualtasks.Service
	findings  *findings.Service
	metrics   *metrics.Registry
}

type governanceAPI struct {
	logger *slog.Logger
	svc    services
	authz  auth.Middleware
}

func newGovernanceAPI(logger *slog.Logger, svc services, authz auth.Middleware) *governanceAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &governanceAPI{logger: logger, svc: svc, authz: authz}
}

func (api *governanceAPI) register(mux *http.ServeMux) {
	req := api.authz.Require

	mux.Handle("POST /api/v1/scopes", req(auth.RoleReviewer, api.handleCreateScope))
	mux.Handle("GET /api/v1/scopes/{id}", req(auth.RoleViewer, api.handleGetScope))
	mux.Handle("PUT /api/v1/scopes/{id}", req(auth.RoleReviewer, api.handleUpdateScope))
	mux.Handle("POST /api/v1/scopes/{id}/lock", req(auth.RoleReviewer, api.handleLockScope))

	mux.Handle("POST /api/v1/runs", req(auth.RoleReviewer, api.handleCreateRun))
	mux.Handle("GET /api/v1/runs", req(auth.RoleViewer, api.handleListRuns))
	mux.Handle("GET /api/v1/runs/{id}", req(auth.RoleViewer, api.handleGetRun))
	mux.Handle("GET /api/v1/runs/{id}/status", req(auth.RoleViewer, api.handleRunStatus))
	mux.Handle("POST /api/v1/runs/{id}/start", req(auth.RoleReviewer, api.handleStartRun))
	mux.Handle("POST /api/v1/runs/{id}/stop", req(auth.RoleReviewer, api.handleStopRun))
	mux.Handle("POST /api/v1/runs/{id}/kill", req(auth.RoleReviewer, api.handleKillRun))
	mux.Handle("GET /api/v1/runs/{id}/timeline", req(auth.RoleViewer, api.handleTimeline))
	mux.Handle("GET /api/v1/runs/{id}/stats", req(auth.RoleViewer, api.handleStats))

	mux.Handle("GET /api/v1/runs/{id}/actions", req(auth.RoleViewer, api.handleListActions))
	mux.Handle("POST /api/v1/runs/{id}/actions", req(auth.RoleAgent, api.handlePropose))
	mux.Handle("GET /api/v1/approvals/pending", req(auth.RoleReviewer, api.handlePendingApprovals))
	mux.Handle("POST /api/v1/actions/{id}/approve", req(auth.RoleReviewer, api.handleApprove))
	mux.Handle("POST /api/v1/actions/{id}/reject", req(auth.RoleReviewer, api.handleReject))
	mux.Handle("GET /api/v1/actions/{id}/approvals", req(auth.RoleViewer, api.handleListApprovals))

	mux.Handle("GET /api/v1/runs/{id}/evidence", req(auth.RoleViewer, api.handleListEvidence))
	mux.Handle("POST /api/v1/runs/{id}/evidence", req(auth.RoleReviewer, api.handleHumanEvidence))
	mux.Handle("GET /api/v1/evidence/{id}", req(auth.RoleViewer, api.handleGetEvidence))

	mux.Handle("GET /api/v1/runs/{id}/manual-tasks", req(auth.RoleViewer, api.handleListManualTasks))
	mux.Handle("POST /api/v1/manual-tasks/{id}/complete", req(auth.RoleReviewer, api.handleCompleteManualTask))

	mux.Handle("GET /api/v1/runs/{id}/findings", req(auth.RoleViewer, api.handleListFindings))
	mux.Handle("POST /api/v1/runs/{id}/findings", req(auth.RoleAgent, api.handleCreateFinding))
	mux.Handle("GET /api/v1/findings/{id}", req(auth.RoleViewer, api.handleGetFinding))
	mux.Handle("PATCH /api/v1/findings/{id}", req(auth.RoleAgent, api.handleUpdateFinding))
	mux.Handle("POST /api/v1/findings/{id}/submit", req(auth.RoleAgent, api.handleSubmitFinding))
	mux.Handle("POST /api/v1/findings/{id}/confirm", req(auth.RoleReviewer, api.handleConfirmFinding))
	mux.Handle("POST /api/v1/findings/{id}/reject", req(auth.RoleReviewer, api.handleRejectFinding))

	mux.Handle("GET /api/v1/worker/actions", req(auth.RoleWorker, api.handlePollActions))
	mux.Handle("POST /api/v1/worker/actions/{id}/claim", req(auth.RoleWorker, api.handleClaimAction))
	mux.Handle("POST /api/v1/worker/actions/{id}/complete", req(auth.RoleWorker, api.handleCompleteAction))
}

// handler returns the full API handler. Evidence deletion bypasses
// authentication so every caller, known or not, gets the same refusal.
func (api *governanceAPI) handler(extra func(*http.ServeMux)) http.Handler {
	protected := http.NewServeMux()
	api.register(protected)

	root := http.NewServeMux()
	if extra != nil {
		extra(root)
	}
	root.HandleFunc("DELETE /api/v1/evidence/{id}", api.handleDeleteEvidence)
	if api.svc.metrics != nil {
		root.Handle("GET /metrics", api.svc.metrics.Handler())
	}
	root.Handle("/", api.authz.Wrap(protected))
	return root
}

func auditInfo(r *http.Request) status.AuditInfo {
	identity, _ := auth.IdentityFromContext(r.Context())
	return status.AuditInfo{
		Actor:     identity.Actor(),
		RequestID: httpserver.RequestIDFromContext(r.Context()),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// workerInfo records the worker by its subject, which is its stable id.
func workerInfo(r *http.Request) status.AuditInfo {
	info := auditInfo(r)
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
		info.Actor = identity.Subject
	}
	return info
}

func (api *governanceAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *governanceAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	statusCode := statusFor(code)
	reason := domain.ReasonOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
		reason = "internal error"
		api.logger.Error("request failed",
			"request_id", httpserver.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	api.writeJSON(w, statusCode, map[string]any{
		"error":      code,
		"reason":     reason,
		"request_id": httpserver.RequestIDFromContext(r.Context()),
	})
}

func (api *governanceAPI) badRequest(w http.ResponseWriter, r *http.Request, reason string) {
	api.writeError(w, r, domain.NewError(domain.CodeInvalidRequest, "%s", reason))
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidRequest, domain.CodeUnsafeArgument:
		return http.StatusBadRequest
	case domain.CodeScopeViolation, domain.CodeToolNotAllowed, domain.CodeTokenInvalid, domain.CodeEvidenceDeleteForbidden:
		return http.StatusForbidden
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeInvalidTransition, domain.CodeScopeLocked, domain.CodeScopeNotLocked,
		domain.CodeRunNotRunning, domain.CodeApproverConflict, domain.CodeManualOnlyRefused:
		return http.StatusConflict
	case domain.CodeIntegrityMismatch:
		return http.StatusUnprocessableEntity
	case domain.CodeResourceLimitExceeded, domain.CodeExecutionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return errors.New("multiple JSON values")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
