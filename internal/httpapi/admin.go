package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/internal/validation"
	"github.com/jordigilh/medlearn-core/pkg/metrics"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
)

// runtimeStatus surfaces the active profile, overrides, and freeze state —
// the TTL-cached read, since a dashboard poll every few seconds doesn't need
// to hit Postgres directly.
func (h *handlers) runtimeStatus(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Runtime.CurrentConfig(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_profile":     cfg.ActiveProfile,
		"overrides":          cfg.Overrides,
		"search_engine_mode": cfg.SearchEngineMode,
		"safe_mode":          cfg.SafeMode,
		"active_since":       cfg.ActiveSince,
		"last_changed_by":    cfg.LastChangedBy,
	})
}

func (h *handlers) switchProfile(w http.ResponseWriter, r *http.Request) {
	var req switchProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	evt, err := h.deps.Runtime.SwitchProfile(r.Context(), runtimectl.SwitchProfileInput{
		Target:             models.Profile(req.Target),
		Reason:             req.Reason,
		ConfirmationPhrase: req.ConfirmationPhrase,
		Actor:              actorFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *handlers) setFreeze(w http.ResponseWriter, r *http.Request) {
	h.toggleFreeze(w, r, true)
}

func (h *handlers) clearFreeze(w http.ResponseWriter, r *http.Request) {
	h.toggleFreeze(w, r, false)
}

func (h *handlers) toggleFreeze(w http.ResponseWriter, r *http.Request, freeze bool) {
	var req freezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := h.deps.Runtime.SetFreeze(r.Context(), freeze, req.Reason, actorFromContext(r.Context())); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"frozen": freeze})
}

func (h *handlers) requestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	action := models.ActionType(req.ActionType)
	if !runtimectl.IsHighRisk(action) {
		writeError(w, r, h.deps.Log, apperrors.NewValidationError("action type does not require approval"))
		return
	}
	out, err := h.deps.Runtime.RequestApproval(r.Context(), runtimectl.RequestApprovalInput{
		Requester:          actorFromContext(r.Context()),
		ActionType:         action,
		Payload:            req.Payload,
		Reason:             req.Reason,
		ConfirmationPhrase: req.ConfirmationPhrase,
	})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handlers) listApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.deps.Runtime.ListPendingApprovals(r.Context())
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": reqs})
}

func requestIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		return uuid.UUID{}, apperrors.NewValidationError("invalid request id")
	}
	return id, nil
}

func (h *handlers) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	var req decideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	out, err := h.deps.Runtime.ApproveRequest(r.Context(), runtimectl.ApproveRequestInput{
		RequestID:          id,
		Approver:           actorFromContext(r.Context()),
		ConfirmationPhrase: req.ConfirmationPhrase,
	})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	metrics.RecordApprovalDecision(string(out.ActionType), "approved")
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := requestIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	var req decideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	out, err := h.deps.Runtime.RejectRequest(r.Context(), id, actorFromContext(r.Context()), req.Reason)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	metrics.RecordApprovalDecision(string(out.ActionType), "rejected")
	writeJSON(w, http.StatusOK, out)
}
