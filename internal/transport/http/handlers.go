package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veriflow/internal/platform/middleware"
	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
)

// callbackRequest is the provider's webhook body.
type callbackRequest struct {
	SessionKey string `json:"sessionKey"`
	Status     struct {
		Overall          string   `json:"overall"`
		DenyReasons      []string `json:"denyReasons"`
		SuspicionReasons []string `json:"suspicionReasons"`
	} `json:"status"`
}

// handleCallback acknowledges 200 once the disposition has been classified
// and the ledger mutation committed; 500 only when the body cannot be parsed
// at all. The provider retries on 500.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionKey == "" || req.Status.Overall == "" {
		h.logger.WarnContext(r.Context(), "unparseable provider callback",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unparseable callback body"})
		return
	}

	reasons := append([]string{}, req.Status.DenyReasons...)
	reasons = append(reasons, req.Status.SuspicionReasons...)

	h.dispositions.HandleDisposition(r.Context(), req.SessionKey, models.OverallStatus(req.Status.Overall), reasons)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initiateRequest struct {
	SubjectID   string `json:"subjectId"`
	ExternalKey string `json:"externalKey"`
	Debug       bool   `json:"debug,omitempty"`
}

type initiateResponse struct {
	Pending       bool   `json:"pending"`
	ApprovalToken string `json:"approvalToken,omitempty"`
	SessionKey    string `json:"sessionKey,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	initiate := h.coordinator.Initiate
	if req.Debug {
		initiate = h.coordinator.InitiateDebug
	}
	res, err := initiate(r.Context(), req.SubjectID, req.ExternalKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, initiateResponse{
		Pending:       res.Pending,
		ApprovalToken: res.ApprovalToken,
		SessionKey:    res.SessionKey,
		RedirectURL:   res.RedirectURL,
	})
}

type approveRequest struct {
	Token      string `json:"token"`
	ApproverID string `json:"approverId"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.ApproverID == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "token and approverId are required"))
		return
	}

	res, err := h.coordinator.Approve(r.Context(), req.Token, req.ApproverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, initiateResponse{
		SessionKey:  res.SessionKey,
		RedirectURL: res.RedirectURL,
	})
}

type statusResponse struct {
	SubjectID   string `json:"subjectId"`
	ExternalKey string `json:"externalKey"`
	State       string `json:"state"`
	SessionKey  string `json:"sessionKey,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	Verified    bool   `json:"verified"`
}

func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	view, err := h.coordinator.Inspect(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		SubjectID:   view.SubjectID,
		ExternalKey: view.ExternalKey,
		State:       view.State,
		SessionKey:  view.SessionKey,
		Verified:    view.Verified,
	}
	if !view.CreatedAt.IsZero() {
		resp.CreatedAt = view.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	if err := h.coordinator.Cancel(r.Context(), subjectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecheck(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	status, err := h.coordinator.Recheck(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overall": string(status.Overall),
		"final":   status.Final,
		"reasons": status.Reasons(),
	})
}
