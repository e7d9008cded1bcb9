// Package telemetry implements the update pipeline that runs on session
// submit/expire: it fans out the answered items into coordinated Mastery,
// Revision, Elo, and Bandit updates on the Knowledge-State Store,
// respecting the session's frozen module-version snapshot and the runtime
// freeze gate.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/knowledge"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/bandit"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/elo"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/mastery"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/revision"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
)

// SessionReader is the read-only slice of the Session State Machine's
// repository the pipeline needs to reconstruct what was answered.
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListItems(ctx context.Context, sessionID uuid.UUID) ([]models.SessionItem, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.SessionAnswer, error)
}

// HistoryReader resolves the attempt history the mastery/revision models
// recompute from. Implementations read from whatever durable attempt log
// backs the core; recomputation is always across the attempts within
// Params.HistoryWindow plus the newly submitted session, never
// incremental, so that mastery/revision
// upserts stay idempotent on (user, theme, run_id).
type HistoryReader interface {
	RecentAttempts(ctx context.Context, learnerID uuid.UUID, theme string, since time.Time) ([]mastery.Attempt, error)
	LastReviewState(ctx context.Context, learnerID uuid.UUID, theme string) (*revision.FSRSState, time.Time, error)
}

// Freezer is the live freeze check the pipeline must consult once per
// fan-out: every state write path re-checks freeze status immediately
// before writing, rather than trusting a snapshot taken earlier.
type Freezer interface {
	IsFrozen(ctx context.Context) (bool, error)
}

// VersionResolver resolves the module version pinned on a session's
// snapshot, never the live runtime config.
type VersionResolver func(snap models.Snapshot, module string) models.ModuleVersion

// Params bundles every module's tunable parameters plus the thresholds that
// gate bandit updates and Elo recentering.
type Params struct {
	Mastery           mastery.Params
	BKT               mastery.BKTParams
	Elo               elo.Params
	FSRSWeights       revision.FSRSWeights
	DesiredRetention   float64
	RewardMinAttempts int     // minimum attempts-per-theme-in-session before a bandit update runs
	RecenterThreshold float64 // |mean(item_ratings)| above which Recenter runs
	HistoryWindow     time.Duration
	AlgoVersionIDs    map[string]uuid.UUID // per-module registry id, stamped as provenance
	ParamsID          uuid.UUID
}

func DefaultParams() Params {
	return Params{
		Mastery:           mastery.DefaultParams(),
		BKT:               mastery.BKTParams{L0: 0.3, T: 0.15, S: 0.1, G: 0.2},
		Elo:               elo.DefaultParams(),
		FSRSWeights:       revision.DefaultWeights,
		DesiredRetention:  0.9,
		RewardMinAttempts: 2,
		RecenterThreshold: 50,
		HistoryWindow:     180 * 24 * time.Hour,
		AlgoVersionIDs:    map[string]uuid.UUID{},
		ParamsID:          uuid.Nil,
	}
}

// Pipeline is the Telemetry Update Pipeline. It implements pkg/session's
// Telemetry capability.
type Pipeline struct {
	sessions SessionReader
	history  HistoryReader
	store    *knowledge.Store
	freezer  Freezer
	resolve  VersionResolver
	log      logr.Logger
	now      func() time.Time
	params   Params
}

func NewPipeline(sessions SessionReader, history HistoryReader, store *knowledge.Store, freezer Freezer, log logr.Logger, params Params) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		history:  history,
		store:    store,
		freezer:  freezer,
		resolve:  runtimectl.SnapshotVersion,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		params:   params,
	}
}

// themeAttempt is one session-local answered attempt, attributed to its
// frozen theme.
type themeAttempt struct {
	itemID      uuid.UUID
	theme       string
	correct     bool
	answeredAt  time.Time
	timeSpentMs *int
	changeCount int
	marked      bool
}

// Fanout implements session.Telemetry. It is invoked once per Submit or
// auto-Expire transition. A single module's failure does not abort the
// others: each module's outcome is recorded as its own AlgorithmRun.
func (p *Pipeline) Fanout(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return apperrors.NewDatabaseError("get session for fanout", err)
	}
	if sess == nil {
		return apperrors.NewNotFoundError("session")
	}

	items, err := p.sessions.ListItems(ctx, sessionID)
	if err != nil {
		return apperrors.NewDatabaseError("list session items for fanout", err)
	}
	answers, err := p.sessions.ListAnswers(ctx, sessionID)
	if err != nil {
		return apperrors.NewDatabaseError("list session answers for fanout", err)
	}

	snap := snapshotFromSession(*sess)
	attempts, err := attributeThemes(items, answers)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil // nothing answered; no fan-out work
	}

	byTheme := make(map[string][]themeAttempt)
	for _, a := range attempts {
		byTheme[a.theme] = append(byTheme[a.theme], a)
	}

	frozen, err := p.freezer.IsFrozen(ctx)
	if err != nil {
		return err
	}

	for theme, themeAttempts := range byTheme {
		preMastery, postMastery, err := p.runMastery(ctx, sess.LearnerID, theme, themeAttempts, snap, frozen)
		if err != nil {
			p.log.Error(err, "mastery update failed", "theme", theme, "session_id", sessionID)
		}

		if err := p.runRevision(ctx, sess.LearnerID, theme, themeAttempts, snap, frozen); err != nil {
			p.log.Error(err, "revision update failed", "theme", theme, "session_id", sessionID)
		}

		if bandit.ShouldUpdate(len(themeAttempts), p.params.RewardMinAttempts) {
			if err := p.runBandit(ctx, sess.LearnerID, theme, preMastery, postMastery, snap, frozen); err != nil {
				p.log.Error(err, "bandit update failed", "theme", theme, "session_id", sessionID)
			}
		}
	}

	if err := p.runElo(ctx, sessionID, sess.LearnerID, attempts, snap, frozen); err != nil {
		p.log.Error(err, "elo update failed", "session_id", sessionID)
	}

	return nil
}

func snapshotFromSession(sess models.Session) models.Snapshot {
	var overrides map[string]models.ModuleVersion
	_ = json.Unmarshal(sess.AlgoOverridesAtStart, &overrides)
	return models.Snapshot{
		Profile:       sess.AlgoProfileAtStart,
		Overrides:     overrides,
		PolicyVersion: sess.AlgoPolicyVersionAtStart,
		ExamMode:      sess.ExamModeAtStart,
		FreezeUpdates: sess.FreezeUpdatesAtStart,
	}
}

func attributeThemes(items []models.SessionItem, answers []models.SessionAnswer) ([]themeAttempt, error) {
	byItem := make(map[uuid.UUID]models.SessionItem, len(items))
	for _, it := range items {
		byItem[it.ItemID] = it
	}
	answerByItem := make(map[uuid.UUID]models.SessionAnswer, len(answers))
	for _, a := range answers {
		answerByItem[a.ItemID] = a
	}

	var out []themeAttempt
	for itemID, it := range byItem {
		ans, ok := answerByItem[itemID]
		if !ok || ans.AnsweredAt == nil || ans.IsCorrect == nil {
			continue
		}
		var snap models.ItemSnapshot
		if err := json.Unmarshal(it.FrozenSnapshot, &snap); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal frozen snapshot for fanout")
		}
		out = append(out, themeAttempt{
			itemID:      itemID,
			theme:       snap.Theme,
			correct:     *ans.IsCorrect,
			answeredAt:  *ans.AnsweredAt,
			timeSpentMs: ans.TimeSpentMs,
			changeCount: ans.ChangedCount,
			marked:      ans.MarkedForReview,
		})
	}
	return out, nil
}

// runMastery computes the module-version-appropriate mastery recompute for
// theme and upserts it unless the runtime is frozen. A shadow-resolved
// module still writes, but the record is stamped Shadow so the row lands
// apart from the canonical one Selection/Session read. Returns the pre-
// and post-session mastery scores for the bandit reward computation
// regardless of whether a write occurred.
func (p *Pipeline) runMastery(ctx context.Context, learnerID uuid.UUID, theme string, sessionAttempts []themeAttempt, snap models.Snapshot, frozen bool) (pre, post float64, err error) {
	run := knowledge.StartRun(models.ModuleMastery, p.resolve(snap, models.ModuleMastery), inputSummary(learnerID, theme, len(sessionAttempts)))

	prior, err := p.store.GetMastery(ctx, learnerID, theme)
	if err != nil {
		p.finishRun(ctx, run, nil, err)
		return 0, 0, err
	}
	if prior != nil {
		pre = prior.MasteryScore
	}

	since := p.now().Add(-p.params.HistoryWindow)
	history, err := p.history.RecentAttempts(ctx, learnerID, theme, since)
	if err != nil {
		p.finishRun(ctx, run, nil, err)
		return pre, pre, err
	}
	full := append(append([]mastery.Attempt{}, history...), sessionAttemptsToMastery(sessionAttempts)...)

	version := p.resolve(snap, models.ModuleMastery)
	var result mastery.Result
	var modelTag models.MasteryModel
	switch version {
	case models.VersionV1, models.VersionShadow:
		if err := mastery.ValidateBKTParams(p.params.BKT); err != nil {
			// Constraint violation on the fitted parameters: fall back to
			// the v0 rules-based model rather than compute on bad inputs.
			result = mastery.ComputeV0(p.now(), full, p.params.Mastery)
			modelTag = models.MasteryModelV0
		} else {
			res, state := mastery.ComputeV1(full, p.params.BKT, p.params.Mastery.MinAttempts)
			stateJSON, _ := json.Marshal(state)
			res.ModelState = stateJSON
			result = res
			modelTag = models.MasteryModelV1
		}
	default:
		result = mastery.ComputeV0(p.now(), full, p.params.Mastery)
		modelTag = models.MasteryModelV0
	}
	post = result.MasteryScore

	if frozen {
		p.finishRunf(ctx, run, "suppressed: frozen=%v", frozen)
		return pre, post, nil
	}

	rec := mastery.NewRecord(learnerID, theme, result, modelTag, p.now(), mastery.Provenance{
		AlgoVersionID: p.params.AlgoVersionIDs[models.ModuleMastery],
		ParamsID:      p.params.ParamsID,
		RunID:         run.ID,
	})
	rec.Shadow = version == models.VersionShadow
	if err := p.store.UpsertMastery(ctx, rec); err != nil {
		p.finishRun(ctx, run, nil, err)
		return pre, post, err
	}
	p.finishRun(ctx, run, map[string]interface{}{"mastery_score": post, "reason": result.Reason}, nil)
	return pre, post, nil
}

func sessionAttemptsToMastery(in []themeAttempt) []mastery.Attempt {
	out := make([]mastery.Attempt, 0, len(in))
	for _, a := range in {
		out = append(out, mastery.Attempt{OccurredAt: a.answeredAt, Correct: a.correct})
	}
	return out
}

// runRevision maps each session attempt to an FSRS rating (v1) or a
// Leitner bucket advance (v0) and upserts the resulting schedule state.
func (p *Pipeline) runRevision(ctx context.Context, learnerID uuid.UUID, theme string, sessionAttempts []themeAttempt, snap models.Snapshot, frozen bool) error {
	version := p.resolve(snap, models.ModuleRevision)
	run := knowledge.StartRun(models.ModuleRevision, version, inputSummary(learnerID, theme, len(sessionAttempts)))

	last := sessionAttempts[len(sessionAttempts)-1]

	var rec models.RevisionRecord
	switch version {
	case models.VersionV1, models.VersionShadow:
		current, lastReviewAt, err := p.history.LastReviewState(ctx, learnerID, theme)
		if err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}
		tel, _ := revision.ValidateTelemetry(revision.Telemetry{
			TimeSpentMs:     last.timeSpentMs,
			ChangeCount:     &last.changeCount,
			MarkedForReview: last.marked,
		})
		rating := revision.MapAttemptToRating(last.correct, tel)
		elapsedDays := 0.0
		if !lastReviewAt.IsZero() {
			elapsedDays = last.answeredAt.Sub(lastReviewAt).Hours() / 24
		}
		next, dueAt := revision.ComputeNextState(current, rating, elapsedDays, p.params.FSRSWeights, p.params.DesiredRetention, last.answeredAt)
		rec = models.RevisionRecord{
			LearnerID:      learnerID,
			Theme:          theme,
			DueAt:          dueAt,
			LastReviewAt:   last.answeredAt,
			Stability:      &next.Stability,
			Difficulty:     &next.Difficulty,
			Retrievability: &next.Retrievability,
			AlgoVersionID:  p.params.AlgoVersionIDs[models.ModuleRevision],
			ParamsID:       p.params.ParamsID,
			RunID:          run.ID,
		}
	default:
		masteryRec, err := p.store.GetMastery(ctx, learnerID, theme)
		if err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}
		score := 0.0
		if masteryRec != nil {
			score = masteryRec.MasteryScore
		}
		state, dueAt := revision.ComputeV0(score, last.answeredAt)
		rec = models.RevisionRecord{
			LearnerID:     learnerID,
			Theme:         theme,
			DueAt:         dueAt,
			LastReviewAt:  last.answeredAt,
			IntervalDays:  &state.IntervalDays,
			Stage:         &state.Stage,
			AlgoVersionID: p.params.AlgoVersionIDs[models.ModuleRevision],
			ParamsID:      p.params.ParamsID,
			RunID:         run.ID,
		}
	}

	rec.Shadow = version == models.VersionShadow
	if frozen {
		p.finishRunf(ctx, run, "suppressed: frozen=%v", frozen)
		return nil
	}
	if err := p.store.UpsertRevision(ctx, rec); err != nil {
		p.finishRun(ctx, run, nil, err)
		return err
	}
	p.finishRun(ctx, run, map[string]interface{}{"due_at": rec.DueAt}, nil)
	return nil
}

// runElo updates the learner's and every answered item's Elo ratings for
// the session, keyed for idempotency by a deterministic attempt id derived
// from (session, item). When the mean item rating drifts past the
// configured threshold it only logs; the Recenter sweep itself runs in
// cmd/recompute-worker.
func (p *Pipeline) runElo(ctx context.Context, sessionID, learnerID uuid.UUID, attempts []themeAttempt, snap models.Snapshot, frozen bool) error {
	version := p.resolve(snap, models.ModuleElo)
	shadow := version == models.VersionShadow
	run := knowledge.StartRun(models.ModuleElo, version, inputSummary(learnerID, "*", len(attempts)))

	if frozen {
		p.finishRunf(ctx, run, "suppressed: frozen=%v", frozen)
		return nil
	}

	var meanTouched bool
	for _, a := range attempts {
		attemptID := uuid.NewSHA1(sessionID, []byte(a.itemID.String()))

		learnerRating, err := p.loadOrInit(ctx, models.EloScopeLearner, learnerID)
		if err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}
		itemRating, err := p.loadOrInit(ctx, models.EloScopeItem, a.itemID)
		if err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}

		result := elo.Update(elo.Rating{Value: learnerRating.Rating, Uncertainty: learnerRating.Uncertainty},
			elo.Rating{Value: itemRating.Rating, Uncertainty: itemRating.Uncertainty}, a.correct, p.params.Elo)

		newLearner := models.EloRating{Scope: models.EloScopeLearner, SubjectID: learnerID, Shadow: shadow, Rating: result.Learner.Value, Uncertainty: result.Learner.Uncertainty, NAttempts: learnerRating.NAttempts + 1, LastSeenAt: a.answeredAt}
		if _, err := p.store.UpsertElo(ctx, newLearner, attemptID); err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}
		newItem := models.EloRating{Scope: models.EloScopeItem, SubjectID: a.itemID, Shadow: shadow, Rating: result.Item.Value, Uncertainty: result.Item.Uncertainty, NAttempts: itemRating.NAttempts + 1, LastSeenAt: a.answeredAt}
		if _, err := p.store.UpsertElo(ctx, newItem, attemptID); err != nil {
			p.finishRun(ctx, run, nil, err)
			return err
		}
		meanTouched = !shadow
	}

	if meanTouched {
		// The recenter job itself is meant to run outside the hot path;
		// this only decides whether one is due, the actual sweep is left
		// to the periodic recompute job driven by cmd/recompute-worker.
		if mean, err := p.store.ItemRatingMean(ctx); err == nil && absf(mean) > p.params.RecenterThreshold {
			p.log.Info("item rating mean exceeds recenter threshold", "mean", mean)
		}
	}

	p.finishRun(ctx, run, map[string]interface{}{"attempts": len(attempts)}, nil)
	return nil
}

func (p *Pipeline) loadOrInit(ctx context.Context, scope models.EloScope, subject uuid.UUID) (models.EloRating, error) {
	rating, err := p.store.GetElo(ctx, scope, subject)
	if err != nil {
		return models.EloRating{}, err
	}
	if rating == nil {
		init := elo.NewRating(0, p.params.Elo)
		return models.EloRating{Scope: scope, SubjectID: subject, Rating: init.Value, Uncertainty: init.Uncertainty}, nil
	}
	return *rating, nil
}

// runBandit computes the BKT-delta reward for theme from the pre/post
// mastery transition and updates its Beta posterior.
func (p *Pipeline) runBandit(ctx context.Context, learnerID uuid.UUID, theme string, preMastery, postMastery float64, snap models.Snapshot, frozen bool) error {
	version := p.resolve(snap, models.ModuleBandit)
	run := knowledge.StartRun(models.ModuleBandit, version, inputSummary(learnerID, theme, 1))

	reward := bandit.Reward(preMastery, postMastery)

	if frozen {
		p.finishRunf(ctx, run, "suppressed: frozen=%v", frozen)
		return nil
	}

	state, err := p.store.GetBandit(ctx, learnerID, theme)
	if err != nil {
		p.finishRun(ctx, run, nil, err)
		return err
	}
	cur := bandit.NewState()
	if state != nil {
		cur = bandit.State{Alpha: state.Alpha, Beta: state.Beta}
	}
	next := bandit.UpdatePosterior(cur, reward)

	now := p.now()
	if err := p.store.UpsertBandit(ctx, models.BanditThemeState{
		LearnerID:      learnerID,
		Theme:          theme,
		Shadow:         version == models.VersionShadow,
		Alpha:          next.Alpha,
		Beta:           next.Beta,
		NSessions:      valueOr(state, func(s *models.BanditThemeState) int { return s.NSessions }, 0) + 1,
		LastSelectedAt: &now,
		LastReward:     &reward,
	}); err != nil {
		p.finishRun(ctx, run, nil, err)
		return err
	}
	p.finishRun(ctx, run, map[string]interface{}{"reward": reward, "alpha": next.Alpha, "beta": next.Beta}, nil)
	return nil
}

func valueOr[T any](s *models.BanditThemeState, get func(*models.BanditThemeState) T, fallback T) T {
	if s == nil {
		return fallback
	}
	return get(s)
}

func (p *Pipeline) finishRun(ctx context.Context, run models.AlgorithmRun, output map[string]interface{}, err error) {
	status := models.RunSuccess
	errMsg := ""
	var outJSON []byte
	if err != nil {
		status = models.RunFailed
		errMsg = err.Error()
	} else if output != nil {
		outJSON, _ = json.Marshal(output)
	}
	finished := knowledge.FinishRun(run, status, outJSON, errMsg)
	if recErr := p.store.RecordRun(ctx, finished); recErr != nil {
		p.log.Error(recErr, "failed to record algorithm run", "module", run.Module)
	}
}

func (p *Pipeline) finishRunf(ctx context.Context, run models.AlgorithmRun, format string, args ...interface{}) {
	out := map[string]interface{}{"note": fmt.Sprintf(format, args...)}
	p.finishRun(ctx, run, out, nil)
}

func inputSummary(learnerID uuid.UUID, theme string, n int) []byte {
	b, _ := json.Marshal(map[string]interface{}{"learner_id": learnerID, "theme": theme, "attempts": n})
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
