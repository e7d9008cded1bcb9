// Package knowledge wires the mastery, revision, elo, and bandit modules
// into the single Knowledge-State Store facade that enforces the freeze
// invariant and stamps provenance on every write.
package knowledge

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// Freezer is the minimal capability the store needs from the Runtime
// Control Plane: a live (uncached) freeze check on every write path.
type Freezer interface {
	IsFrozen(ctx context.Context) (bool, error)
}

// Repository is the persistence contract backing the Knowledge-State Store,
// implemented by pkg/store/postgres.
type Repository interface {
	GetMastery(ctx context.Context, learnerID uuid.UUID, theme string) (*models.MasteryRecord, error)
	UpsertMastery(ctx context.Context, rec models.MasteryRecord) error

	GetRevision(ctx context.Context, learnerID uuid.UUID, theme string) (*models.RevisionRecord, error)
	UpsertRevision(ctx context.Context, rec models.RevisionRecord) error
	DueRevisions(ctx context.Context, learnerID uuid.UUID, before time.Time, limit int) ([]models.RevisionRecord, error)

	GetElo(ctx context.Context, scope models.EloScope, subjectID uuid.UUID) (*models.EloRating, error)
	UpsertElo(ctx context.Context, rating models.EloRating, attemptID uuid.UUID) (applied bool, err error)
	AllItemRatings(ctx context.Context) ([]models.EloRating, error)
	AllLearnerRatings(ctx context.Context) ([]models.EloRating, error)
	BulkUpdateEloValues(ctx context.Context, scope models.EloScope, deltas map[uuid.UUID]float64) error

	GetBandit(ctx context.Context, learnerID uuid.UUID, theme string) (*models.BanditThemeState, error)
	UpsertBandit(ctx context.Context, state models.BanditThemeState) error

	RecordRun(ctx context.Context, run models.AlgorithmRun) error
}

// Store is the Knowledge-State Store facade. Every method that writes a
// mastery, revision, Elo or bandit row checks IsFrozen before writing, per
// Testable Property 9; RecordRun does not, so run records are written
// while frozen.
type Store struct {
	repo    Repository
	freezer Freezer
}

func NewStore(repo Repository, freezer Freezer) *Store {
	return &Store{repo: repo, freezer: freezer}
}

// checkWritable returns an error when the runtime is frozen; callers must
// call this immediately before every write. The check and the write are
// separate repository calls, not one transaction.
func (s *Store) checkWritable(ctx context.Context) error {
	frozen, err := s.freezer.IsFrozen(ctx)
	if err != nil {
		return err
	}
	if frozen {
		return apperrors.New(apperrors.ErrorTypeConflict, "runtime is frozen, write suppressed")
	}
	return nil
}

func (s *Store) GetMastery(ctx context.Context, learnerID uuid.UUID, theme string) (*models.MasteryRecord, error) {
	return s.repo.GetMastery(ctx, learnerID, theme)
}

// UpsertMastery writes rec unless the runtime is frozen, in which case
// nothing is written and a Conflict-typed error is returned.
func (s *Store) UpsertMastery(ctx context.Context, rec models.MasteryRecord) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	return s.repo.UpsertMastery(ctx, rec)
}

func (s *Store) GetRevision(ctx context.Context, learnerID uuid.UUID, theme string) (*models.RevisionRecord, error) {
	return s.repo.GetRevision(ctx, learnerID, theme)
}

func (s *Store) UpsertRevision(ctx context.Context, rec models.RevisionRecord) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	return s.repo.UpsertRevision(ctx, rec)
}

func (s *Store) DueRevisions(ctx context.Context, learnerID uuid.UUID, before time.Time, limit int) ([]models.RevisionRecord, error) {
	return s.repo.DueRevisions(ctx, learnerID, before, limit)
}

func (s *Store) GetElo(ctx context.Context, scope models.EloScope, subjectID uuid.UUID) (*models.EloRating, error) {
	return s.repo.GetElo(ctx, scope, subjectID)
}

// UpsertElo is idempotent per attemptID: a duplicate attemptID observes the
// first writer's effect and is reported via applied=false.
func (s *Store) UpsertElo(ctx context.Context, rating models.EloRating, attemptID uuid.UUID) (applied bool, err error) {
	if err := s.checkWritable(ctx); err != nil {
		return false, err
	}
	return s.repo.UpsertElo(ctx, rating, attemptID)
}

func (s *Store) GetBandit(ctx context.Context, learnerID uuid.UUID, theme string) (*models.BanditThemeState, error) {
	return s.repo.GetBandit(ctx, learnerID, theme)
}

func (s *Store) UpsertBandit(ctx context.Context, state models.BanditThemeState) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	return s.repo.UpsertBandit(ctx, state)
}

// Recenter rebalances every item rating to zero mean and shifts every
// learner rating of the same scope by the same constant, preserving
// theta-b for every pair exactly. It is itself subject to the freeze check
// since it mutates Elo rows.
func (s *Store) Recenter(ctx context.Context) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	items, err := s.repo.AllItemRatings(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	var sum float64
	for _, r := range items {
		sum += r.Rating
	}
	mean := sum / float64(len(items))

	itemDeltas := make(map[uuid.UUID]float64, len(items))
	for _, r := range items {
		itemDeltas[r.SubjectID] = -mean
	}
	if err := s.repo.BulkUpdateEloValues(ctx, models.EloScopeItem, itemDeltas); err != nil {
		return err
	}

	learners, err := s.repo.AllLearnerRatings(ctx)
	if err != nil {
		return err
	}
	learnerDeltas := make(map[uuid.UUID]float64, len(learners))
	for _, r := range learners {
		learnerDeltas[r.SubjectID] = -mean
	}
	return s.repo.BulkUpdateEloValues(ctx, models.EloScopeLearner, learnerDeltas)
}

func (s *Store) RecordRun(ctx context.Context, run models.AlgorithmRun) error {
	return s.repo.RecordRun(ctx, run)
}

// ItemRatingMean reads the current mean item Elo rating, used by
// cmd/recompute-worker to decide whether a Recenter run is due and by the
// telemetry pipeline to log when one is.
func (s *Store) ItemRatingMean(ctx context.Context) (float64, error) {
	items, err := s.repo.AllItemRatings(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range items {
		sum += r.Rating
	}
	return sum / float64(len(items)), nil
}

// NewRunID mints a fresh run identifier for a recompute/fan-out invocation.
func NewRunID() uuid.UUID {
	return uuid.New()
}

// StartRun returns an in-progress AlgorithmRun ready to be recorded at
// completion via FinishRun.
func StartRun(module string, version models.ModuleVersion, inputSummary []byte) models.AlgorithmRun {
	return models.AlgorithmRun{
		ID:           NewRunID(),
		Module:       module,
		Version:      version,
		Status:       models.RunRunning,
		InputSummary: inputSummary,
		StartedAt:    time.Now().UTC(),
	}
}

// FinishRun stamps a terminal status, output summary, and finish time.
func FinishRun(run models.AlgorithmRun, status models.RunStatus, outputSummary []byte, errMsg string) models.AlgorithmRun {
	now := time.Now().UTC()
	run.Status = status
	run.OutputSummary = outputSummary
	run.ErrorMessage = errMsg
	run.FinishedAt = &now
	return run
}
