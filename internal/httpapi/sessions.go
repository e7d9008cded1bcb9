package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/internal/validation"
	"github.com/jordigilh/medlearn-core/pkg/metrics"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/session"
)

func sessionIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "sessionID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, apperrors.NewValidationError("invalid session id")
	}
	return id, nil
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := learnerIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.deps.Log, apperrors.NewAuthError("missing learner context"))
		return
	}

	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}

	sess, items, err := h.deps.Sessions.Create(r.Context(), session.CreateInput{
		LearnerID:       learnerID,
		Mode:            models.SessionMode(req.Mode),
		Year:            req.Year,
		Blocks:          req.Blocks,
		Themes:          req.Themes,
		Count:           req.Count,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	metrics.RecordSessionCreated(req.Mode)

	writeJSON(w, http.StatusCreated, toSessionResponse(sess, items, session.Progress{CurrentPosition: 1}))
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	sess, progress, err := h.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := requireOwner(r, sess.LearnerID); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	items, err := h.deps.Sessions.ListItemsForDisplay(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, items, progress))
}

func (h *handlers) submitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	var req AnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	itemID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		writeError(w, r, h.deps.Log, apperrors.NewValidationError("invalid question_id"))
		return
	}

	existing, progress, err := h.deps.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := requireOwner(r, existing.LearnerID); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	_ = progress

	ans, progress, err := h.deps.Sessions.SubmitAnswer(r.Context(), session.AnswerInput{
		SessionID:       sessionID,
		ItemID:          itemID,
		SelectedIndex:   req.SelectedIndex,
		MarkedForReview: req.MarkedForReview,
		TimeSpentMs:     req.TimeSpentMs,
	})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_id":           ans.ItemID,
		"marked_for_review": ans.MarkedForReview,
		"changed_count":     ans.ChangedCount,
		"progress":          toProgressResponse(progress),
	})
}

func (h *handlers) submitSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	existing, _, err := h.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := requireOwner(r, existing.LearnerID); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	sess, err := h.deps.Sessions.Submit(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	metrics.RecordSessionTerminal(string(sess.Status))
	items, err := h.deps.Sessions.ListItemsForDisplay(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	progress, err := h.deps.Sessions.Progress(r.Context(), sess)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, items, progress))
}

func (h *handlers) reviewSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	sess, items, answers, err := h.deps.Sessions.Review(r.Context(), id)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if err := requireOwner(r, sess.LearnerID); err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}

	byItem := make(map[uuid.UUID]models.SessionAnswer, len(answers))
	for _, a := range answers {
		byItem[a.ItemID] = a
	}

	views := make([]reviewItemView, 0, len(items))
	for _, it := range items {
		var snap models.ItemSnapshot
		_ = jsonUnmarshal(it.FrozenSnapshot, &snap)
		v := reviewItemView{
			Position:     it.Position,
			ItemID:       it.ItemID,
			Stem:         snap.Stem,
			Options:      snap.Options,
			CorrectIndex: snap.CorrectIndex,
			Explanation:  snap.Explanation,
		}
		if a, ok := byItem[it.ItemID]; ok {
			v.SelectedIndex = a.SelectedIndex
			v.IsCorrect = a.IsCorrect
			v.MarkedForReview = a.MarkedForReview
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sess.ID,
		"score_correct": sess.ScoreCorrect,
		"score_total":   sess.ScoreTotal,
		"score_pct":     sess.ScorePct,
		"items":         views,
	})
}

// requireOwner rejects access to another learner's session, unless the
// caller is an admin (e.g. support diagnosing a reported issue).
func requireOwner(r *http.Request, owner uuid.UUID) error {
	if roleFromContext(r.Context()) == "admin" {
		return nil
	}
	callerID, ok := learnerIDFromContext(r.Context())
	if !ok || callerID != owner {
		return apperrors.NewAuthError("not permitted to access this session")
	}
	return nil
}
