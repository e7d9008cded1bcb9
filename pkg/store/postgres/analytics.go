package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jordigilh/medlearn-core/pkg/models"
)

// AnalyticsRepository backs the read-only /analytics/* endpoints: plain
// aggregated reads over the Knowledge-State Store tables, outside the
// knowledge.Store facade since nothing here writes and the freeze gate
// only governs writes.
type AnalyticsRepository struct {
	db *sqlx.DB
}

func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// MasteryByLearner lists every non-shadow mastery record for a learner,
// the basis of the overview endpoint.
func (r *AnalyticsRepository) MasteryByLearner(ctx context.Context, learnerID uuid.UUID) ([]models.MasteryRecord, error) {
	var recs []models.MasteryRecord
	const query = `SELECT ` + masteryColumns + ` FROM mastery_records WHERE learner_id = $1 AND shadow = false ORDER BY theme`
	if err := r.db.SelectContext(ctx, &recs, query, learnerID); err != nil {
		return nil, dbErr("list mastery by learner", err)
	}
	return recs, nil
}

// ThemesForBlock lists the distinct published themes within a syllabus
// block, used to scope the /analytics/blocks/{id} rollup to the block's
// own themes.
func (r *AnalyticsRepository) ThemesForBlock(ctx context.Context, block string) ([]string, error) {
	var themes []string
	const query = `SELECT DISTINCT theme FROM items WHERE block = $1 AND published = true ORDER BY theme`
	if err := r.db.SelectContext(ctx, &themes, query, block); err != nil {
		return nil, dbErr("list themes for block", err)
	}
	return themes, nil
}

// MasteryForThemes resolves the learner's mastery records restricted to
// themes, preserving input order where a record exists.
func (r *AnalyticsRepository) MasteryForThemes(ctx context.Context, learnerID uuid.UUID, themes []string) ([]models.MasteryRecord, error) {
	if len(themes) == 0 {
		return nil, nil
	}
	var recs []models.MasteryRecord
	const query = `SELECT ` + masteryColumns + ` FROM mastery_records WHERE learner_id = $1 AND shadow = false AND theme = ANY($2::text[]) ORDER BY theme`
	if err := r.db.SelectContext(ctx, &recs, query, learnerID, pq.Array(themes)); err != nil {
		return nil, dbErr("list mastery for themes", err)
	}
	return recs, nil
}
