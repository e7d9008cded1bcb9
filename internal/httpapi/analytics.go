package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
)

// analyticsOverview returns every theme the learner has a mastery record
// for, the basis of a dashboard's top-level rollup.
func (h *handlers) analyticsOverview(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := learnerIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.deps.Log, apperrors.NewAuthError("missing learner context"))
		return
	}
	recs, err := h.deps.Analytics.MasteryByLearner(r.Context(), learnerID)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mastery": recs})
}

// analyticsBlock restricts the rollup to the themes published under a
// single syllabus block.
func (h *handlers) analyticsBlock(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := learnerIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.deps.Log, apperrors.NewAuthError("missing learner context"))
		return
	}
	block := chi.URLParam(r, "blockID")
	themes, err := h.deps.Analytics.ThemesForBlock(r.Context(), block)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	recs, err := h.deps.Analytics.MasteryForThemes(r.Context(), learnerID, themes)
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"block": block, "mastery": recs})
}

// analyticsTheme resolves a single theme's mastery record for the caller.
func (h *handlers) analyticsTheme(w http.ResponseWriter, r *http.Request) {
	learnerID, ok := learnerIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.deps.Log, apperrors.NewAuthError("missing learner context"))
		return
	}
	theme := chi.URLParam(r, "themeID")
	recs, err := h.deps.Analytics.MasteryForThemes(r.Context(), learnerID, []string{theme})
	if err != nil {
		writeError(w, r, h.deps.Log, err)
		return
	}
	if len(recs) == 0 {
		writeError(w, r, h.deps.Log, apperrors.NewNotFoundError("mastery record for theme"))
		return
	}
	writeJSON(w, http.StatusOK, recs[0])
}
