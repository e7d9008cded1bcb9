// Package session implements the Session State Machine: creation via the
// Adaptive Selection Engine, lazy expiry, answer upsert, and idempotent
// submission.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/pkg/models"
)

// Repository is the persistence contract for sessions, their frozen items,
// and recorded answers.
type Repository interface {
	CreateSession(ctx context.Context, sess models.Session, items []models.SessionItem) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateSessionStatus(ctx context.Context, sess models.Session) error

	ListItems(ctx context.Context, sessionID uuid.UUID) ([]models.SessionItem, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.SessionAnswer, error)
	UpsertAnswer(ctx context.Context, ans models.SessionAnswer) (models.SessionAnswer, error)
}

// Catalog resolves the published-item candidates the selection pipeline
// scores over, and the learner's theme state, for a Create call.
type Catalog interface {
	RecentlySeen(ctx context.Context, learnerID uuid.UUID, withinDays int, lastKSessions int) (map[uuid.UUID]bool, error)
	ThemeCandidates(ctx context.Context, learnerID uuid.UUID, year int, blockIDs, themeIDs []string) ([]ThemeCandidate, error)
}

// ThemeCandidate bundles a theme's scoring inputs with its raw item pool,
// resolved once per Create call inside the enclosing transaction.
type ThemeCandidate struct {
	Theme string
	Items []ItemCandidate

	Mastery            float64
	DueConceptCount    int
	LearnerUncertainty float64
	UncertaintyFloor   float64
	UncertaintyInit    float64
	LastSelectedAt     *time.Time
	BanditAlpha        float64
	BanditBeta         float64
}

// ItemCandidate is a catalog-resolved item eligible for selection.
type ItemCandidate struct {
	ItemID      uuid.UUID
	Due         bool
	Weak        bool
	Unrated     bool
	PCorrect    float64
	Uncertainty float64
	Snapshot    models.ItemSnapshot
	ItemVersion int
}
