package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/elo"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/mastery"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/revision"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/session"
)

// SessionRepository implements session.Repository: the Session State
// Machine's persistence of sessions, their frozen items, and answers.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, learner_id, mode, year, blocks, themes, total_questions, status, started_at, expires_at, duration_seconds, submitted_at, score_correct, score_total, score_pct, algo_profile_at_start, algo_overrides_at_start, algo_policy_version_at_start, exam_mode_at_start, freeze_updates_at_start, seed`

func (r *SessionRepository) CreateSession(ctx context.Context, sess models.Session, items []models.SessionItem) error {
	blocksJSON, err := json.Marshal(sess.Blocks)
	if err != nil {
		return apperrors.NewValidationError("blocks is not serializable")
	}
	themesJSON, err := json.Marshal(sess.Themes)
	if err != nil {
		return apperrors.NewValidationError("themes is not serializable")
	}
	sess.BlocksJSON = blocksJSON
	sess.ThemesJSON = themesJSON

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin create session", err)
	}
	defer tx.Rollback()

	const insertSession = `
INSERT INTO sessions (` + sessionColumns + `)
VALUES (:id, :learner_id, :mode, :year, :blocks, :themes, :total_questions, :status, :started_at, :expires_at, :duration_seconds, :submitted_at, :score_correct, :score_total, :score_pct, :algo_profile_at_start, :algo_overrides_at_start, :algo_policy_version_at_start, :exam_mode_at_start, :freeze_updates_at_start, :seed)`
	if _, err := tx.NamedExecContext(ctx, insertSession, sess); err != nil {
		return dbErr("insert session", err)
	}

	const insertItem = `
INSERT INTO session_items (session_id, position, item_id, item_version, frozen_snapshot)
VALUES (:session_id, :position, :item_id, :item_version, :frozen_snapshot)`
	for _, item := range items {
		if _, err := tx.NamedExecContext(ctx, insertItem, item); err != nil {
			return dbErr("insert session item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit create session", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var sess models.Session
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	err := r.db.GetContext(ctx, &sess, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get session", err)
	}
	if err := json.Unmarshal(sess.BlocksJSON, &sess.Blocks); err != nil {
		return nil, dbErr("decode session blocks", err)
	}
	if err := json.Unmarshal(sess.ThemesJSON, &sess.Themes); err != nil {
		return nil, dbErr("decode session themes", err)
	}
	return &sess, nil
}

func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, sess models.Session) error {
	const update = `
UPDATE sessions SET
  status = :status,
  submitted_at = :submitted_at,
  score_correct = :score_correct,
  score_total = :score_total,
  score_pct = :score_pct
WHERE id = :id`
	_, err := r.db.NamedExecContext(ctx, update, sess)
	if err != nil {
		return dbErr("update session status", err)
	}
	return nil
}

func (r *SessionRepository) ListItems(ctx context.Context, sessionID uuid.UUID) ([]models.SessionItem, error) {
	var items []models.SessionItem
	const query = `SELECT session_id, position, item_id, item_version, frozen_snapshot FROM session_items WHERE session_id = $1 ORDER BY position ASC`
	if err := r.db.SelectContext(ctx, &items, query, sessionID); err != nil {
		return nil, dbErr("list session items", err)
	}
	return items, nil
}

func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.SessionAnswer, error) {
	var answers []models.SessionAnswer
	const query = `SELECT session_id, item_id, selected_index, is_correct, answered_at, changed_count, marked_for_review, time_spent_ms FROM session_answers WHERE session_id = $1`
	if err := r.db.SelectContext(ctx, &answers, query, sessionID); err != nil {
		return nil, dbErr("list session answers", err)
	}
	return answers, nil
}

// UpsertAnswer relies on UNIQUE(session_id, item_id) to serialize concurrent
// submissions for the same item: the row is created once and every
// subsequent call updates it in place, last writer wins.
func (r *SessionRepository) UpsertAnswer(ctx context.Context, ans models.SessionAnswer) (models.SessionAnswer, error) {
	const upsert = `
INSERT INTO session_answers (session_id, item_id, selected_index, is_correct, answered_at, changed_count, marked_for_review, time_spent_ms)
VALUES (:session_id, :item_id, :selected_index, :is_correct, :answered_at, :changed_count, :marked_for_review, :time_spent_ms)
ON CONFLICT (session_id, item_id) DO UPDATE SET
  selected_index = EXCLUDED.selected_index,
  is_correct = EXCLUDED.is_correct,
  answered_at = COALESCE(session_answers.answered_at, EXCLUDED.answered_at),
  changed_count = EXCLUDED.changed_count,
  marked_for_review = EXCLUDED.marked_for_review,
  time_spent_ms = EXCLUDED.time_spent_ms
RETURNING session_id, item_id, selected_index, is_correct, answered_at, changed_count, marked_for_review, time_spent_ms`

	rows, err := r.db.NamedQueryContext(ctx, upsert, ans)
	if err != nil {
		return models.SessionAnswer{}, dbErr("upsert session answer", err)
	}
	defer rows.Close()

	var saved models.SessionAnswer
	if rows.Next() {
		if err := rows.StructScan(&saved); err != nil {
			return models.SessionAnswer{}, dbErr("scan upserted session answer", err)
		}
	}
	return saved, nil
}

// CatalogRepository implements session.Catalog (and telemetry.HistoryReader)
// against the published-items view and the Knowledge-State Store tables.
// Per-concept granularity collapses to per-theme here, matching every other
// table in this schema (mastery, revision, bandit are all keyed by theme).
type CatalogRepository struct {
	db                   *sqlx.DB
	eloParams            elo.Params
	weakThreshold        float64
	initialLearnerRating float64
	initialItemRating    float64
}

func NewCatalogRepository(db *sqlx.DB, eloParams elo.Params, weakThreshold, initialLearnerRating, initialItemRating float64) *CatalogRepository {
	return &CatalogRepository{
		db:                   db,
		eloParams:            eloParams,
		weakThreshold:        weakThreshold,
		initialLearnerRating: initialLearnerRating,
		initialItemRating:    initialItemRating,
	}
}

// RecentlySeen returns the items the learner has answered within the last
// withinDays days or within their last lastKSessions sessions.
func (c *CatalogRepository) RecentlySeen(ctx context.Context, learnerID uuid.UUID, withinDays, lastKSessions int) (map[uuid.UUID]bool, error) {
	const query = `
SELECT DISTINCT si.item_id
FROM session_items si
JOIN sessions s ON s.id = si.session_id
WHERE s.learner_id = $1
  AND (
    s.started_at >= now() - ($2 || ' days')::interval
    OR s.id IN (
      SELECT id FROM sessions WHERE learner_id = $1 ORDER BY started_at DESC LIMIT $3
    )
  )`
	var ids []uuid.UUID
	if err := c.db.SelectContext(ctx, &ids, query, learnerID, withinDays, lastKSessions); err != nil {
		return nil, dbErr("list recently seen items", err)
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

type itemRow struct {
	ID           uuid.UUID       `db:"id"`
	Theme        string          `db:"theme"`
	CorrectIndex int             `db:"correct_index"`
	OptionsJSON  json.RawMessage `db:"options"`
	Stem         string          `db:"stem"`
	Explanation  string          `db:"explanation"`
	Year         int             `db:"year"`
	Block        string          `db:"block"`
	Difficulty   string          `db:"difficulty"`
	Version      int             `db:"version"`
}

// ThemeCandidates resolves, for each theme matching the filter, the
// scoring inputs the Adaptive Selection Engine needs plus its raw
// candidate item pool. It is the only place that translates the
// Knowledge-State Store's persisted rows into selection.ThemeInput shape.
func (c *CatalogRepository) ThemeCandidates(ctx context.Context, learnerID uuid.UUID, year int, blockIDs, themeIDs []string) ([]session.ThemeCandidate, error) {
	query := `
SELECT id, theme, correct_index, options, stem, explanation, year, block, difficulty, version
FROM items
WHERE published = true AND year = $1 AND block = ANY($2::text[])`
	args := []interface{}{year, pq.Array(blockIDs)}
	if len(themeIDs) > 0 {
		query += ` AND theme = ANY($3::text[])`
		args = append(args, pq.Array(themeIDs))
	}

	var rows []itemRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbErr("list candidate items", err)
	}

	byTheme := make(map[string][]itemRow)
	themeOrder := make([]string, 0)
	for _, row := range rows {
		if _, ok := byTheme[row.Theme]; !ok {
			themeOrder = append(themeOrder, row.Theme)
		}
		byTheme[row.Theme] = append(byTheme[row.Theme], row)
	}

	learnerElo, err := c.getOrDefaultElo(ctx, models.EloScopeLearner, learnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	candidates := make([]session.ThemeCandidate, 0, len(themeOrder))
	for _, theme := range themeOrder {
		masteryRec, err := c.getMastery(ctx, learnerID, theme)
		if err != nil {
			return nil, err
		}
		revisionRec, err := c.getRevision(ctx, learnerID, theme)
		if err != nil {
			return nil, err
		}
		banditState, err := c.getBandit(ctx, learnerID, theme)
		if err != nil {
			return nil, err
		}

		due := revisionRec != nil && !now.Before(revisionRec.DueAt)
		dueConceptCount := 0
		if due {
			dueConceptCount = 1
		}
		masteryScore := 0.0
		if masteryRec != nil {
			masteryScore = masteryRec.MasteryScore
		}

		items := make([]session.ItemCandidate, 0, len(byTheme[theme]))
		for _, row := range byTheme[theme] {
			itemElo, err := c.getOrDefaultElo(ctx, models.EloScopeItem, row.ID)
			if err != nil {
				return nil, err
			}
			var options [5]string
			if err := json.Unmarshal(row.OptionsJSON, &options); err != nil {
				return nil, dbErr("decode item options", err)
			}
			items = append(items, session.ItemCandidate{
				ItemID:      row.ID,
				Due:         due,
				Weak:        masteryScore < c.weakThreshold,
				Unrated:     itemElo.NAttempts == 0,
				PCorrect:    elo.PCorrect(learnerElo.Rating, itemElo.Rating, c.eloParams),
				Uncertainty: itemElo.Uncertainty,
				ItemVersion: row.Version,
				Snapshot: models.ItemSnapshot{
					Stem:         row.Stem,
					Options:      options,
					CorrectIndex: row.CorrectIndex,
					Explanation:  row.Explanation,
					Year:         row.Year,
					Block:        row.Block,
					Theme:        row.Theme,
					Difficulty:   row.Difficulty,
				},
			})
		}

		candidates = append(candidates, session.ThemeCandidate{
			Theme:              theme,
			Items:               items,
			Mastery:            masteryScore,
			DueConceptCount:    dueConceptCount,
			LearnerUncertainty: learnerElo.Uncertainty,
			UncertaintyFloor:   c.eloParams.UncertaintyFloor,
			UncertaintyInit:    c.eloParams.UncertaintyInit,
			LastSelectedAt:     banditState.LastSelectedAt,
			BanditAlpha:        banditState.Alpha,
			BanditBeta:         banditState.Beta,
		})
	}
	return candidates, nil
}

func (c *CatalogRepository) getMastery(ctx context.Context, learnerID uuid.UUID, theme string) (*models.MasteryRecord, error) {
	var rec models.MasteryRecord
	const query = `SELECT ` + masteryColumns + ` FROM mastery_records WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := c.db.GetContext(ctx, &rec, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get mastery record", err)
	}
	return &rec, nil
}

func (c *CatalogRepository) getRevision(ctx context.Context, learnerID uuid.UUID, theme string) (*models.RevisionRecord, error) {
	var rec models.RevisionRecord
	const query = `SELECT ` + revisionColumns + ` FROM revision_records WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := c.db.GetContext(ctx, &rec, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get revision record", err)
	}
	return &rec, nil
}

func (c *CatalogRepository) getBandit(ctx context.Context, learnerID uuid.UUID, theme string) (models.BanditThemeState, error) {
	var state models.BanditThemeState
	const query = `SELECT ` + banditColumns + ` FROM bandit_theme_states WHERE learner_id = $1 AND theme = $2 AND shadow = false`
	err := c.db.GetContext(ctx, &state, query, learnerID, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BanditThemeState{LearnerID: learnerID, Theme: theme, Alpha: 1, Beta: 1}, nil
	}
	if err != nil {
		return models.BanditThemeState{}, dbErr("get bandit theme state", err)
	}
	return state, nil
}

func (c *CatalogRepository) getOrDefaultElo(ctx context.Context, scope models.EloScope, subjectID uuid.UUID) (models.EloRating, error) {
	var rating models.EloRating
	const query = `SELECT ` + eloColumns + ` FROM elo_ratings WHERE scope = $1 AND subject_id = $2 AND shadow = false`
	err := c.db.GetContext(ctx, &rating, query, scope, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		initial := c.initialItemRating
		if scope == models.EloScopeLearner {
			initial = c.initialLearnerRating
		}
		return models.EloRating{
			Scope:       scope,
			SubjectID:   subjectID,
			Rating:      initial,
			Uncertainty: c.eloParams.UncertaintyInit,
		}, nil
	}
	if err != nil {
		return models.EloRating{}, dbErr("get elo rating", err)
	}
	return rating, nil
}

// RecentAttempts implements telemetry.HistoryReader by reading every
// answered session item tagged with theme for learnerID since the cutoff,
// taking correctness from the stored answer and theme and item difficulty
// from the frozen snapshot so
// recomputation never depends on the live item changing underneath it.
func (c *CatalogRepository) RecentAttempts(ctx context.Context, learnerID uuid.UUID, theme string, since time.Time) ([]mastery.Attempt, error) {
	const query = `
SELECT sa.answered_at, sa.is_correct, si.frozen_snapshot
FROM session_answers sa
JOIN session_items si ON si.session_id = sa.session_id AND si.item_id = sa.item_id
JOIN sessions s ON s.id = sa.session_id
WHERE s.learner_id = $1 AND sa.answered_at IS NOT NULL AND sa.answered_at >= $2
  AND si.frozen_snapshot->>'theme' = $3`
	rows, err := c.db.QueryxContext(ctx, query, learnerID, since, theme)
	if err != nil {
		return nil, dbErr("list recent attempts", err)
	}
	defer rows.Close()

	var attempts []mastery.Attempt
	for rows.Next() {
		var answeredAt time.Time
		var isCorrect sql.NullBool
		var snapshotJSON []byte
		if err := rows.Scan(&answeredAt, &isCorrect, &snapshotJSON); err != nil {
			return nil, dbErr("scan recent attempt", err)
		}
		var snap models.ItemSnapshot
		if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
			return nil, dbErr("decode frozen snapshot", err)
		}
		attempts = append(attempts, mastery.Attempt{
			OccurredAt: answeredAt,
			Correct:    isCorrect.Valid && isCorrect.Bool,
			Difficulty: snap.Difficulty,
		})
	}
	return attempts, nil
}

// LastReviewState resolves the learner's current FSRS state for theme, or
// nil with the zero time when no revision record exists yet (cold start).
func (c *CatalogRepository) LastReviewState(ctx context.Context, learnerID uuid.UUID, theme string) (*revision.FSRSState, time.Time, error) {
	rec, err := c.getRevision(ctx, learnerID, theme)
	if err != nil {
		return nil, time.Time{}, err
	}
	if rec == nil || rec.Stability == nil || rec.Difficulty == nil {
		return nil, time.Time{}, nil
	}
	retrievability := 0.0
	if rec.Retrievability != nil {
		retrievability = *rec.Retrievability
	}
	return &revision.FSRSState{
		Stability:      *rec.Stability,
		Difficulty:     *rec.Difficulty,
		Retrievability: retrievability,
	}, rec.LastReviewAt, nil
}
