package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// KnowledgeRepository implements knowledge.Repository. Every mastery,
// revision, Elo and bandit table carries
// a shadow boolean as part of its primary key so a shadow-resolved write
// lands in a row the canonical Get* queries (which always filter on
// shadow = false) never return.
type KnowledgeRepository struct {
	db *sqlx.DB
}

func NewKnowledgeRepository(db *sqlx.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

const masteryColumns = `learner_id, theme, shadow, attempts_total, correct_total, accuracy_pct, mastery_score, mastery_model, last_attempt_at, model_state, algo_version_id, params_id, run_id`

func (r *KnowledgeRepository) GetMastery(ctx context.Context, learnerID uuid.UUID, theme string) (*models.MasteryRecord, error) {
	var rec models.MasteryRecord
	const query = `SELECT ` + masteryColumns + ` FROM mastery_records WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := r.db.GetContext(ctx, &rec, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get mastery record", err)
	}
	return &rec, nil
}

func (r *KnowledgeRepository) UpsertMastery(ctx context.Context, rec models.MasteryRecord) error {
	const upsert = `
INSERT INTO mastery_records (` + masteryColumns + `)
VALUES (:learner_id, :theme, :shadow, :attempts_total, :correct_total, :accuracy_pct, :mastery_score, :mastery_model, :last_attempt_at, :model_state, :algo_version_id, :params_id, :run_id)
ON CONFLICT (learner_id, theme, shadow) DO UPDATE SET
  attempts_total = EXCLUDED.attempts_total,
  correct_total = EXCLUDED.correct_total,
  accuracy_pct = EXCLUDED.accuracy_pct,
  mastery_score = EXCLUDED.mastery_score,
  mastery_model = EXCLUDED.mastery_model,
  last_attempt_at = EXCLUDED.last_attempt_at,
  model_state = EXCLUDED.model_state,
  algo_version_id = EXCLUDED.algo_version_id,
  params_id = EXCLUDED.params_id,
  run_id = EXCLUDED.run_id`
	_, err := r.db.NamedExecContext(ctx, upsert, rec)
	if err != nil {
		return dbErr("upsert mastery record", err)
	}
	return nil
}

const revisionColumns = `learner_id, theme, shadow, due_at, last_review_at, stability, difficulty, retrievability, interval_days, stage, algo_version_id, params_id, run_id`

func (r *KnowledgeRepository) GetRevision(ctx context.Context, learnerID uuid.UUID, theme string) (*models.RevisionRecord, error) {
	var rec models.RevisionRecord
	const query = `SELECT ` + revisionColumns + ` FROM revision_records WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := r.db.GetContext(ctx, &rec, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get revision record", err)
	}
	return &rec, nil
}

func (r *KnowledgeRepository) UpsertRevision(ctx context.Context, rec models.RevisionRecord) error {
	const upsert = `
INSERT INTO revision_records (` + revisionColumns + `)
VALUES (:learner_id, :theme, :shadow, :due_at, :last_review_at, :stability, :difficulty, :retrievability, :interval_days, :stage, :algo_version_id, :params_id, :run_id)
ON CONFLICT (learner_id, theme, shadow) DO UPDATE SET
  due_at = EXCLUDED.due_at,
  last_review_at = EXCLUDED.last_review_at,
  stability = EXCLUDED.stability,
  difficulty = EXCLUDED.difficulty,
  retrievability = EXCLUDED.retrievability,
  interval_days = EXCLUDED.interval_days,
  stage = EXCLUDED.stage,
  algo_version_id = EXCLUDED.algo_version_id,
  params_id = EXCLUDED.params_id,
  run_id = EXCLUDED.run_id`
	_, err := r.db.NamedExecContext(ctx, upsert, rec)
	if err != nil {
		return dbErr("upsert revision record", err)
	}
	return nil
}

func (r *KnowledgeRepository) DueRevisions(ctx context.Context, learnerID uuid.UUID, before time.Time, limit int) ([]models.RevisionRecord, error) {
	var recs []models.RevisionRecord
	const query = `
SELECT ` + revisionColumns + ` FROM revision_records
WHERE learner_id = $1 AND shadow = false AND due_at <= $2
ORDER BY due_at ASC LIMIT $3`
	if err := r.db.SelectContext(ctx, &recs, query, learnerID, before, limit); err != nil {
		return nil, dbErr("list due revisions", err)
	}
	return recs, nil
}

const eloColumns = `scope, subject_id, shadow, rating, uncertainty, n_attempts, last_seen_at`

func (r *KnowledgeRepository) GetElo(ctx context.Context, scope models.EloScope, subjectID uuid.UUID) (*models.EloRating, error) {
	var rating models.EloRating
	const query = `SELECT ` + eloColumns + ` FROM elo_ratings WHERE scope = $1 AND subject_id = $2 AND shadow = false`
	err := r.db.GetContext(ctx, &rating, query, scope, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get elo rating", err)
	}
	return &rating, nil
}

// UpsertElo applies rating, unless attemptID has already been applied, in
// which case it is a no-op reported via applied=false. Idempotency is
// enforced by a dedicated attempt-log table rather than the primary key,
// since the same (scope, subject, shadow) row legitimately receives many
// attempts over its lifetime.
func (r *KnowledgeRepository) UpsertElo(ctx context.Context, rating models.EloRating, attemptID uuid.UUID) (applied bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, dbErr("begin upsert elo rating", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO elo_applied_attempts (attempt_id) VALUES ($1) ON CONFLICT DO NOTHING`, attemptID)
	if err != nil {
		return false, dbErr("record elo applied attempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	const upsert = `
INSERT INTO elo_ratings (` + eloColumns + `)
VALUES (:scope, :subject_id, :shadow, :rating, :uncertainty, :n_attempts, :last_seen_at)
ON CONFLICT (scope, subject_id, shadow) DO UPDATE SET
  rating = EXCLUDED.rating,
  uncertainty = EXCLUDED.uncertainty,
  n_attempts = EXCLUDED.n_attempts,
  last_seen_at = EXCLUDED.last_seen_at`
	if _, err := tx.NamedExecContext(ctx, upsert, rating); err != nil {
		return false, dbErr("upsert elo rating", err)
	}
	if err := tx.Commit(); err != nil {
		return false, dbErr("commit upsert elo rating", err)
	}
	return true, nil
}

func (r *KnowledgeRepository) AllItemRatings(ctx context.Context) ([]models.EloRating, error) {
	return r.allRatings(ctx, models.EloScopeItem)
}

func (r *KnowledgeRepository) AllLearnerRatings(ctx context.Context) ([]models.EloRating, error) {
	return r.allRatings(ctx, models.EloScopeLearner)
}

func (r *KnowledgeRepository) allRatings(ctx context.Context, scope models.EloScope) ([]models.EloRating, error) {
	var ratings []models.EloRating
	const query = `SELECT ` + eloColumns + ` FROM elo_ratings WHERE scope = $1 AND shadow = false`
	if err := r.db.SelectContext(ctx, &ratings, query, scope); err != nil {
		return nil, dbErr("list elo ratings", err)
	}
	return ratings, nil
}

// BulkUpdateEloValues applies a per-subject rating delta within a single
// transaction, used by the recenter sweep to shift every rating of a scope
// by a constant without a read-modify-write race between subjects.
func (r *KnowledgeRepository) BulkUpdateEloValues(ctx context.Context, scope models.EloScope, deltas map[uuid.UUID]float64) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin bulk update elo values", err)
	}
	defer tx.Rollback()

	const update = `UPDATE elo_ratings SET rating = rating + $1 WHERE scope = $2 AND subject_id = $3 AND shadow = false`
	for subjectID, delta := range deltas {
		if _, err := tx.ExecContext(ctx, update, delta, scope, subjectID); err != nil {
			return dbErr("bulk update elo value", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit bulk update elo values", err)
	}
	return nil
}

const banditColumns = `learner_id, theme, shadow, alpha, beta, n_sessions, last_selected_at, last_reward`

func (r *KnowledgeRepository) GetBandit(ctx context.Context, learnerID uuid.UUID, theme string) (*models.BanditThemeState, error) {
	var state models.BanditThemeState
	const query = `SELECT ` + banditColumns + ` FROM bandit_theme_states WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := r.db.GetContext(ctx, &state, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get bandit theme state", err)
	}
	return &state, nil
}

func (r *KnowledgeRepository) UpsertBandit(ctx context.Context, state models.BanditThemeState) error {
	const upsert = `
INSERT INTO bandit_theme_states (` + banditColumns + `)
VALUES (:learner_id, :theme, :shadow, :alpha, :beta, :n_sessions, :last_selected_at, :last_reward)
ON CONFLICT (learner_id, theme, shadow) DO UPDATE SET
  alpha = EXCLUDED.alpha,
  beta = EXCLUDED.beta,
  n_sessions = EXCLUDED.n_sessions,
  last_selected_at = EXCLUDED.last_selected_at,
  last_reward = EXCLUDED.last_reward`
	_, err := r.db.NamedExecContext(ctx, upsert, state)
	if err != nil {
		return dbErr("upsert bandit theme state", err)
	}
	return nil
}

func (r *KnowledgeRepository) RecordRun(ctx context.Context, run models.AlgorithmRun) error {
	const upsert = `
INSERT INTO algorithm_runs (id, module, version, status, input_summary, output_summary, error_message, started_at, finished_at)
VALUES (:id, :module, :version, :status, :input_summary, :output_summary, :error_message, :started_at, :finished_at)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  output_summary = EXCLUDED.output_summary,
  error_message = EXCLUDED.error_message,
  finished_at = EXCLUDED.finished_at`
	_, err := r.db.NamedExecContext(ctx, upsert, run)
	if err != nil {
		return dbErr("record algorithm run", err)
	}
	return nil
}
