package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/session"
)

// CreateSessionRequest is the validated body of POST /sessions.
type CreateSessionRequest struct {
	Mode            string   `json:"mode" validate:"required,sessionmode"`
	Year            int      `json:"year" validate:"required,min=1"`
	Blocks          []string `json:"blocks" validate:"required,min=1"`
	Themes          []string `json:"themes"`
	Count           int      `json:"count" validate:"required,min=1,max=200"`
	DurationSeconds *int     `json:"duration_seconds,omitempty" validate:"omitempty,min=1"`
}

// AnswerRequest is the validated body of POST /sessions/{id}/answer.
type AnswerRequest struct {
	QuestionID      string `json:"question_id" validate:"required,uuid"`
	SelectedIndex   *int   `json:"selected_index,omitempty" validate:"omitempty,min=0,max=4"`
	MarkedForReview *bool  `json:"marked_for_review,omitempty"`
	TimeSpentMs     *int   `json:"time_spent_ms,omitempty" validate:"omitempty,min=0"`
}

// itemView is the learner-facing view of a frozen Session Item: no
// correct_index, no explanation, since the answer key must never be
// visible before the session is submitted.
type itemView struct {
	Position int       `json:"position"`
	ItemID   uuid.UUID `json:"item_id"`
	Stem     string    `json:"stem"`
	Options  [5]string `json:"options"`
	Year     int       `json:"year"`
	Block    string    `json:"block"`
	Theme    string    `json:"theme"`
}

type sessionResponse struct {
	ID             uuid.UUID  `json:"id"`
	LearnerID      uuid.UUID  `json:"learner_id"`
	Mode           string     `json:"mode"`
	Year           int        `json:"year"`
	Blocks         []string   `json:"blocks"`
	Themes         []string   `json:"themes,omitempty"`
	TotalQuestions int        `json:"total_questions"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	ScoreCorrect   *int       `json:"score_correct,omitempty"`
	ScoreTotal     *int       `json:"score_total,omitempty"`
	ScorePct       *float64   `json:"score_pct,omitempty"`
	Progress       progressResponse `json:"progress"`
	Items          []itemView `json:"items,omitempty"`
}

type progressResponse struct {
	Answered        int `json:"answered"`
	Marked          int `json:"marked"`
	CurrentPosition int `json:"current_position"`
}

func toProgressResponse(p session.Progress) progressResponse {
	return progressResponse{Answered: p.Answered, Marked: p.Marked, CurrentPosition: p.CurrentPosition}
}

func toSessionResponse(sess *models.Session, items []models.SessionItem, progress session.Progress) sessionResponse {
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		var snap models.ItemSnapshot
		_ = jsonUnmarshal(it.FrozenSnapshot, &snap)
		views = append(views, itemView{
			Position: it.Position,
			ItemID:   it.ItemID,
			Stem:     snap.Stem,
			Options:  snap.Options,
			Year:     snap.Year,
			Block:    snap.Block,
			Theme:    snap.Theme,
		})
	}
	return sessionResponse{
		ID:             sess.ID,
		LearnerID:      sess.LearnerID,
		Mode:           string(sess.Mode),
		Year:           sess.Year,
		Blocks:         sess.Blocks,
		Themes:         sess.Themes,
		TotalQuestions: sess.TotalQuestions,
		Status:         string(sess.Status),
		StartedAt:      sess.StartedAt,
		ExpiresAt:      sess.ExpiresAt,
		SubmittedAt:    sess.SubmittedAt,
		ScoreCorrect:   sess.ScoreCorrect,
		ScoreTotal:     sess.ScoreTotal,
		ScorePct:       sess.ScorePct,
		Progress:       toProgressResponse(progress),
		Items:          views,
	}
}

// reviewItemView is the post-submission view: unlike itemView it does carry
// the correct answer and explanation, since /review is only reachable once
// the session is terminal.
type reviewItemView struct {
	Position        int       `json:"position"`
	ItemID          uuid.UUID `json:"item_id"`
	Stem            string    `json:"stem"`
	Options         [5]string `json:"options"`
	CorrectIndex    int       `json:"correct_index"`
	Explanation     string    `json:"explanation"`
	SelectedIndex   *int      `json:"selected_index,omitempty"`
	IsCorrect       *bool     `json:"is_correct,omitempty"`
	MarkedForReview bool      `json:"marked_for_review"`
}

// switchProfileRequest is the validated body of the runtime profile-switch
// admin endpoint.
type switchProfileRequest struct {
	Target             string `json:"target" validate:"required,oneof=V1_PRIMARY V0_FALLBACK"`
	Reason             string `json:"reason" validate:"required,min=10"`
	ConfirmationPhrase string `json:"confirmation_phrase" validate:"required,confirmphrase"`
}

type freezeRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}

type requestApprovalRequest struct {
	ActionType         string                 `json:"action_type" validate:"required"`
	Payload            map[string]interface{} `json:"payload"`
	Reason             string                 `json:"reason" validate:"required,min=10"`
	ConfirmationPhrase string                 `json:"confirmation_phrase" validate:"required,confirmphrase"`
}

type decideApprovalRequest struct {
	ConfirmationPhrase string `json:"confirmation_phrase"`
	Reason             string `json:"reason"`
}
