// Package httptransport is the thin HTTP layer. It delegates to the
// verification services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veriflow/internal/platform/middleware"
	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
)

// Coordinator is the lifecycle surface the HTTP layer drives.
type Coordinator interface {
	Initiate(ctx context.Context, subjectID, externalKey string) (models.InitiateResult, error)
	InitiateDebug(ctx context.Context, subjectID, externalKey string) (models.InitiateResult, error)
	Approve(ctx context.Context, token, approverID string) (models.InitiateResult, error)
	Inspect(ctx context.Context, subjectID string) (models.StatusView, error)
	Cancel(ctx context.Context, subjectID string) error
	Recheck(ctx context.Context, subjectID string) (models.SessionStatus, error)
}

// DispositionHandler consumes classified provider callbacks.
type DispositionHandler interface {
	HandleDisposition(ctx context.Context, sessionKey string, overall models.OverallStatus, reasons []string)
}

type Handler struct {
	coordinator  Coordinator
	dispositions DispositionHandler
	logger       *slog.Logger
	adminToken   string
}

func NewHandler(coordinator Coordinator, dispositions DispositionHandler, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator:  coordinator,
		dispositions: dispositions,
		logger:       logger,
		adminToken:   adminToken,
	}
}

// NewRouter wires all endpoints behind the shared middleware chain. The
// provider callback and the admin verification API live on separate
// sub-routers because only the latter requires the admin capability.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/callbacks/verification", h.handleCallback)

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
		admin.Post("/verifications", h.handleInitiate)
		admin.Post("/verifications/approve", h.handleApprove)
		admin.Get("/verifications/{subjectID}", h.handleInspect)
		admin.Delete("/verifications/{subjectID}", h.handleCancel)
		admin.Post("/verifications/{subjectID}/recheck", h.handleRecheck)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation so every endpoint returns
// the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	msg := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		msg = de.Message
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": msg,
	})
}
