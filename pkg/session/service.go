package session

import (
	"context"
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/selection"
	"github.com/jordigilh/medlearn-core/pkg/telemetry/tracing"
)

const (
	defaultExclusionDays    = 14
	defaultExclusionSessions = 3
)

// Snapshotter is the Runtime Control Plane capability Create needs: a
// point-in-time module-version/freeze/exam-mode resolution persisted onto
// the Session row.
type Snapshotter interface {
	OpenSessionSnapshot(ctx context.Context) (models.Snapshot, error)
}

// Telemetry is the fan-out capability invoked once a session transitions to
// SUBMITTED or EXPIRED.
type Telemetry interface {
	Fanout(ctx context.Context, sessionID uuid.UUID) error
}

// Service implements the Session State Machine.
type Service struct {
	repo      Repository
	catalog   Catalog
	runtime   Snapshotter
	telemetry Telemetry
	log       logr.Logger
	now       func() time.Time
}

func NewService(repo Repository, catalog Catalog, runtime Snapshotter, telemetry Telemetry, log logr.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, runtime: runtime, telemetry: telemetry, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput is the validated request to create a session.
type CreateInput struct {
	LearnerID       uuid.UUID
	Mode            models.SessionMode
	Year            int
	Blocks          []string
	Themes          []string
	Count           int
	DurationSeconds *int
}

// Progress is the aggregate read-model surfaced alongside a Session.
type Progress struct {
	Answered       int
	Marked         int
	CurrentPosition int
}

// Create validates filters, runs the Adaptive Selection Engine, freezes
// each picked item's content into a Session Item, and captures the runtime
// snapshot on the Session row.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Session, []models.SessionItem, error) {
	if in.Count <= 0 {
		return nil, nil, apperrors.NewValidationError("count must be positive")
	}
	if len(in.Blocks) == 0 {
		return nil, nil, apperrors.NewValidationError("at least one block is required")
	}

	excluded, err := s.catalog.RecentlySeen(ctx, in.LearnerID, defaultExclusionDays, defaultExclusionSessions)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := s.catalog.ThemeCandidates(ctx, in.LearnerID, in.Year, in.Blocks, in.Themes)
	if err != nil {
		return nil, nil, err
	}

	themeInputs := make([]selection.ThemeInput, 0, len(candidates))
	itemsByTheme := make(map[string][]selection.ItemInput, len(candidates))
	itemDetail := make(map[uuid.UUID]ItemCandidate)
	for _, c := range candidates {
		themeInputs = append(themeInputs, selection.ThemeInput{
			Theme:              c.Theme,
			Mastery:            c.Mastery,
			DueConceptCount:    c.DueConceptCount,
			LearnerUncertainty: c.LearnerUncertainty,
			UncertaintyFloor:   c.UncertaintyFloor,
			UncertaintyInit:    c.UncertaintyInit,
			LastSelectedAt:     c.LastSelectedAt,
			AvailableItems:     len(c.Items),
			Bandit:             banditState(c.BanditAlpha, c.BanditBeta),
		})
		items := make([]selection.ItemInput, 0, len(c.Items))
		for _, it := range c.Items {
			items = append(items, selection.ItemInput{
				ItemID:      it.ItemID,
				Theme:       c.Theme,
				Due:         it.Due,
				Weak:        it.Weak,
				Unrated:     it.Unrated,
				PCorrect:    it.PCorrect,
				Uncertainty: it.Uncertainty,
			})
			itemDetail[it.ItemID] = it
		}
		itemsByTheme[c.Theme] = items
	}

	_, selSpan := tracing.Tracer.Start(ctx, "selection.Run")
	selSpan.SetAttributes(
		attribute.String("learner_id", in.LearnerID.String()),
		attribute.String("mode", string(in.Mode)),
		attribute.Int("count", in.Count),
		attribute.Int("candidate_themes", len(themeInputs)),
	)
	plan, err := selection.RunOrError(selection.Input{
		LearnerID: in.LearnerID,
		Mode:      in.Mode,
		Count:     in.Count,
		BlockIDs:  in.Blocks,
		ThemeIDs:  in.Themes,
		Excluded:  excluded,
		Themes:    themeInputs,
		Items:     itemsByTheme,
	}, s.now())
	if err != nil {
		selSpan.RecordError(err)
		selSpan.SetStatus(codes.Error, err.Error())
		selSpan.End()
		return nil, nil, err
	}
	selSpan.SetAttributes(
		attribute.Int("themes_chosen", len(plan.Themes)),
		attribute.Bool("not_enough", plan.NotEnough),
	)
	selSpan.End()

	snap, err := s.runtime.OpenSessionSnapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	overridesJSON, _ := marshalOverrides(snap)

	startedAt := s.now()
	sess := models.Session{
		ID:                       uuid.New(),
		LearnerID:                in.LearnerID,
		Mode:                     in.Mode,
		Year:                     in.Year,
		Blocks:                   in.Blocks,
		Themes:                   in.Themes,
		TotalQuestions:           len(plan.ItemIDs),
		Status:                   models.SessionActive,
		StartedAt:                startedAt,
		DurationSeconds:          in.DurationSeconds,
		AlgoProfileAtStart:       snap.Profile,
		AlgoOverridesAtStart:     overridesJSON,
		AlgoPolicyVersionAtStart: snap.PolicyVersion,
		ExamModeAtStart:          snap.ExamMode,
		FreezeUpdatesAtStart:     snap.FreezeUpdates,
		Seed:                     plan.Seed,
	}
	if in.DurationSeconds != nil {
		expires := startedAt.Add(time.Duration(*in.DurationSeconds) * time.Second)
		sess.ExpiresAt = &expires
	}

	sessionItems := make([]models.SessionItem, 0, len(plan.ItemIDs))
	for i, id := range plan.ItemIDs {
		detail := itemDetail[id]
		frozen, _ := marshalSnapshot(detail.Snapshot)
		sessionItems = append(sessionItems, models.SessionItem{
			SessionID:      sess.ID,
			Position:       i + 1,
			ItemID:         id,
			ItemVersion:    detail.ItemVersion,
			FrozenSnapshot: frozen,
		})
	}

	if err := s.repo.CreateSession(ctx, sess, sessionItems); err != nil {
		return nil, nil, apperrors.NewDatabaseError("create session", err)
	}
	return &sess, sessionItems, nil
}

// Get reads the current session state, lazily transitioning ACTIVE to
// EXPIRED when the clock has passed expires_at.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Session, Progress, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, Progress{}, apperrors.NewDatabaseError("get session", err)
	}
	if sess == nil {
		return nil, Progress{}, apperrors.NewNotFoundError("session not found")
	}

	if sess.Status == models.SessionActive && sess.ExpiresAt != nil && !s.now().Before(*sess.ExpiresAt) {
		if err := s.finalize(ctx, sess, models.SessionExpired); err != nil {
			return nil, Progress{}, err
		}
	}

	progress, err := s.progress(ctx, sess)
	if err != nil {
		return nil, Progress{}, err
	}
	return sess, progress, nil
}

// ListItemsForDisplay returns a session's frozen items in position order,
// the read the HTTP layer renders alongside Progress.
func (s *Service) ListItemsForDisplay(ctx context.Context, sessionID uuid.UUID) ([]models.SessionItem, error) {
	items, err := s.repo.ListItems(ctx, sessionID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list items", err)
	}
	return items, nil
}

// Progress recomputes the Progress read-model for an already-loaded session.
func (s *Service) Progress(ctx context.Context, sess *models.Session) (Progress, error) {
	return s.progress(ctx, sess)
}

func (s *Service) progress(ctx context.Context, sess *models.Session) (Progress, error) {
	answers, err := s.repo.ListAnswers(ctx, sess.ID)
	if err != nil {
		return Progress{}, apperrors.NewDatabaseError("list answers", err)
	}
	answered, marked := 0, 0
	for _, a := range answers {
		if a.AnsweredAt != nil {
			answered++
		}
		if a.MarkedForReview {
			marked++
		}
	}
	items, err := s.repo.ListItems(ctx, sess.ID)
	if err != nil {
		return Progress{}, apperrors.NewDatabaseError("list items", err)
	}
	answeredByItem := map[uuid.UUID]bool{}
	for _, a := range answers {
		if a.AnsweredAt != nil {
			answeredByItem[a.ItemID] = true
		}
	}
	current := len(items)
	for _, it := range items {
		if !answeredByItem[it.ItemID] {
			current = it.Position
			break
		}
	}
	return Progress{Answered: answered, Marked: marked, CurrentPosition: current}, nil
}

// AnswerInput is the validated request to submit-answer.
type AnswerInput struct {
	SessionID       uuid.UUID
	ItemID          uuid.UUID
	SelectedIndex   *int
	MarkedForReview *bool
	TimeSpentMs     *int
}

// SubmitAnswer upserts a (session, item) answer. Only permitted while the
// session is ACTIVE after a lazy-expiry check.
func (s *Service) SubmitAnswer(ctx context.Context, in AnswerInput) (*models.SessionAnswer, Progress, error) {
	sess, _, err := s.Get(ctx, in.SessionID)
	if err != nil {
		return nil, Progress{}, err
	}
	if sess.Status != models.SessionActive {
		return nil, Progress{}, apperrors.NewValidationError("session is not active")
	}

	items, err := s.repo.ListItems(ctx, in.SessionID)
	if err != nil {
		return nil, Progress{}, apperrors.NewDatabaseError("list items", err)
	}
	var target *models.SessionItem
	for i := range items {
		if items[i].ItemID == in.ItemID {
			target = &items[i]
			break
		}
	}
	if target == nil {
		return nil, Progress{}, apperrors.NewNotFoundError("item not in session")
	}

	existing, err := s.repo.ListAnswers(ctx, in.SessionID)
	if err != nil {
		return nil, Progress{}, apperrors.NewDatabaseError("list answers", err)
	}
	var prior *models.SessionAnswer
	for i := range existing {
		if existing[i].ItemID == in.ItemID {
			prior = &existing[i]
			break
		}
	}

	ans := models.SessionAnswer{SessionID: in.SessionID, ItemID: in.ItemID}
	if prior != nil {
		ans = *prior
	}

	if in.SelectedIndex != nil {
		if prior == nil || prior.SelectedIndex == nil || *prior.SelectedIndex != *in.SelectedIndex {
			ans.ChangedCount++
		}
		ans.SelectedIndex = in.SelectedIndex
		if ans.AnsweredAt == nil {
			now := s.now()
			ans.AnsweredAt = &now
		}
		correct := isCorrect(*in.SelectedIndex, target.FrozenSnapshot)
		ans.IsCorrect = &correct
	}
	if in.MarkedForReview != nil {
		ans.MarkedForReview = *in.MarkedForReview
	}
	if in.TimeSpentMs != nil {
		ans.TimeSpentMs = in.TimeSpentMs
	}

	saved, err := s.repo.UpsertAnswer(ctx, ans)
	if err != nil {
		return nil, Progress{}, apperrors.NewDatabaseError("upsert answer", err)
	}
	progress, err := s.progress(ctx, sess)
	if err != nil {
		return nil, Progress{}, err
	}
	return &saved, progress, nil
}

// Submit idempotently finalizes a session: if already terminal, returns the
// current state unchanged; otherwise scores and transitions to SUBMITTED,
// then fans out to the telemetry pipeline.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get session", err)
	}
	if sess == nil {
		return nil, apperrors.NewNotFoundError("session not found")
	}
	if sess.Status != models.SessionActive {
		return sess, nil
	}
	if err := s.finalize(ctx, sess, models.SessionSubmitted); err != nil {
		return nil, err
	}
	return sess, nil
}

// Review returns the full item-level breakdown of a terminal session,
// including the correct answer and explanation withheld while the session
// was active. It is rejected for sessions still in progress.
func (s *Service) Review(ctx context.Context, id uuid.UUID) (*models.Session, []models.SessionItem, []models.SessionAnswer, error) {
	sess, _, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if sess.Status == models.SessionActive {
		return nil, nil, nil, apperrors.NewValidationError("session is still active")
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, nil, nil, apperrors.NewDatabaseError("list items", err)
	}
	answers, err := s.repo.ListAnswers(ctx, id)
	if err != nil {
		return nil, nil, nil, apperrors.NewDatabaseError("list answers", err)
	}
	return sess, items, answers, nil
}

// finalize scores the session and transitions it to status, mutating sess
// in place. It is used by both Get's auto-expire path and Submit.
func (s *Service) finalize(ctx context.Context, sess *models.Session, status models.SessionStatus) error {
	ctx, span := tracing.Tracer.Start(ctx, "session.Submit")
	span.SetAttributes(
		attribute.String("session_id", sess.ID.String()),
		attribute.String("status", string(status)),
	)
	defer span.End()

	answers, err := s.repo.ListAnswers(ctx, sess.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperrors.NewDatabaseError("list answers", err)
	}
	correct := 0
	for _, a := range answers {
		if a.IsCorrect != nil && *a.IsCorrect {
			correct++
		}
	}
	total := sess.TotalQuestions
	pct := 0.0
	if total > 0 {
		pct = math.Round(10000*float64(correct)/float64(total)) / 100
	}

	now := s.now()
	sess.ScoreCorrect = &correct
	sess.ScoreTotal = &total
	sess.ScorePct = &pct
	sess.Status = status
	sess.SubmittedAt = &now

	if err := s.repo.UpdateSessionStatus(ctx, *sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperrors.NewDatabaseError("update session status", err)
	}
	span.SetAttributes(attribute.Int("score_correct", correct), attribute.Float64("score_pct", pct))

	if s.telemetry != nil {
		if err := s.telemetry.Fanout(ctx, sess.ID); err != nil {
			s.log.Error(err, "telemetry fanout failed", "session_id", sess.ID)
		}
	}
	return nil
}

func isCorrect(selected int, frozen []byte) bool {
	snap, err := unmarshalSnapshot(frozen)
	if err != nil {
		return false
	}
	return selected == snap.CorrectIndex
}
