// Package models defines the persistent entities shared across the
// adaptive learning core.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionMode selects the interleaving and scoring behavior of a session.
type SessionMode string

const (
	ModeTutor    SessionMode = "TUTOR"
	ModeExam     SessionMode = "EXAM"
	ModeRevision SessionMode = "REVISION"
)

// SessionStatus is the one-way state-machine status of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionSubmitted SessionStatus = "SUBMITTED"
	SessionExpired   SessionStatus = "EXPIRED"
)

// ModuleVersion is the resolved implementation variant for an algorithmic module.
type ModuleVersion string

const (
	VersionV0     ModuleVersion = "v0"
	VersionV1     ModuleVersion = "v1"
	VersionShadow ModuleVersion = "shadow"
)

// Profile is the Runtime Config's coarse activation state.
type Profile string

const (
	ProfileV1Primary  Profile = "V1_PRIMARY"
	ProfileV0Fallback Profile = "V0_FALLBACK"
)

// Module names used as keys into Runtime Config overrides.
const (
	ModuleMastery   = "mastery"
	ModuleRevision  = "revision"
	ModuleSelection = "selection"
	ModuleElo       = "elo"
	ModuleBandit    = "bandit"
)

// Learner is a stable learner identity.
type Learner struct {
	ID        uuid.UUID `db:"id"`
	YearOfStudy int     `db:"year_of_study"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// Item is a published multiple-choice question.
type Item struct {
	ID            uuid.UUID `db:"id"`
	Year          int       `db:"year"`
	Block         string    `db:"block"`
	Theme         string    `db:"theme"`
	Topic         string    `db:"topic"`
	ConceptID     uuid.UUID `db:"concept_id"`
	Stem          string    `db:"stem"`
	Options       [5]string `db:"-"`
	CorrectIndex  int       `db:"correct_index"`
	Explanation   string    `db:"explanation"`
	Difficulty    string    `db:"difficulty"` // easy|medium|hard
	CognitiveLevel string   `db:"cognitive_level"`
	Version       int       `db:"version"`
	Published     bool      `db:"published"`
}

// ItemSnapshot is the frozen content copied onto a Session Item at creation.
type ItemSnapshot struct {
	Stem         string    `json:"stem"`
	Options      [5]string `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	Explanation  string    `json:"explanation"`
	Year         int       `json:"year"`
	Block        string    `json:"block"`
	Theme        string    `json:"theme"`
	Difficulty   string    `json:"difficulty"`
}

// SyllabusTriple is the (year, block, theme) filter/aggregation dimension.
type SyllabusTriple struct {
	Year  int    `db:"year"`
	Block string `db:"block"`
	Theme string `db:"theme"`
}

// SafeModeConfig holds the freeze/cache-preference flags of Runtime Config.
type SafeModeConfig struct {
	FreezeUpdates bool `json:"freeze_updates"`
	PreferCache   bool `json:"prefer_cache"`
}

// RuntimeConfig is the singleton switchboard row.
type RuntimeConfig struct {
	ID               uuid.UUID                `db:"id"`
	ActiveProfile    Profile                   `db:"active_profile"`
	Overrides        map[string]ModuleVersion  `db:"-"`
	OverridesJSON    json.RawMessage           `db:"overrides"`
	SafeMode         SafeModeConfig            `db:"-"`
	SafeModeJSON     json.RawMessage           `db:"safe_mode"`
	SearchEngineMode string                    `db:"search_engine_mode"`
	ActiveSince      time.Time                 `db:"active_since"`
	LastChangedBy    string                    `db:"last_changed_by"`
}

// Snapshot is the point-in-time resolution of Runtime Config captured on a Session.
type Snapshot struct {
	Profile       Profile                  `json:"profile"`
	Overrides     map[string]ModuleVersion `json:"overrides"`
	PolicyVersion int                      `json:"policy_version"`
	ExamMode      bool                     `json:"exam_mode"`
	FreezeUpdates bool                     `json:"freeze_updates"`
}

// SwitchEvent is an append-only record of a Runtime Config change.
type SwitchEvent struct {
	ID        uuid.UUID       `db:"id"`
	Before    json.RawMessage `db:"before"`
	After     json.RawMessage `db:"after"`
	Reason    string          `db:"reason"`
	Actor     string          `db:"actor"`
	CreatedAt time.Time       `db:"created_at"`
}

// ApprovalStatus is the lifecycle state of an Approval Request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ActionType enumerates the high-risk actions gated by two-person approval.
type ActionType string

const (
	ActionProfileSwitchPrimary  ActionType = "PROFILE_SWITCH_PRIMARY"
	ActionProfileSwitchFallback ActionType = "PROFILE_SWITCH_FALLBACK"
	ActionIRTActivate           ActionType = "IRT_ACTIVATE"
	ActionElasticsearchEnable   ActionType = "ELASTICSEARCH_ENABLE"
	ActionNeo4jEnable           ActionType = "NEO4J_ENABLE"
	ActionSnowflakeExportEnable ActionType = "SNOWFLAKE_EXPORT_ENABLE"
)

// ApprovalRequest is a pending or decided two-person-approval record.
type ApprovalRequest struct {
	ID                 uuid.UUID       `db:"id"`
	Requester           string          `db:"requester"`
	ActionType          ActionType      `db:"action_type"`
	Payload             json.RawMessage `db:"payload"`
	Reason              string          `db:"reason"`
	ConfirmationPhrase  string          `db:"confirmation_phrase"`
	Status              ApprovalStatus  `db:"status"`
	Approver            *string         `db:"approver"`
	DecidedAt           *time.Time      `db:"decided_at"`
	CreatedAt           time.Time       `db:"created_at"`
}

// MasteryModel distinguishes the algorithm that produced a Mastery Record.
type MasteryModel string

const (
	MasteryModelV0     MasteryModel = "v0"
	MasteryModelV1     MasteryModel = "v1"
	MasteryModelHybrid MasteryModel = "hybrid"
)

// MasteryRecord is the canonical per-(learner,theme) mastery state. A
// Shadow record is keyed the same as its canonical counterpart but stored
// apart from it (a shadow-suffixed table/column set in
// pkg/store/postgres), so read paths that serve Selection/Session output
// never observe it.
type MasteryRecord struct {
	LearnerID     uuid.UUID       `db:"learner_id"`
	Theme         string          `db:"theme"`
	Shadow        bool            `db:"shadow"`
	AttemptsTotal int             `db:"attempts_total"`
	CorrectTotal  int             `db:"correct_total"`
	AccuracyPct   float64         `db:"accuracy_pct"`
	MasteryScore  float64         `db:"mastery_score"`
	MasteryModel  MasteryModel    `db:"mastery_model"`
	LastAttemptAt time.Time       `db:"last_attempt_at"`
	ModelState    json.RawMessage `db:"model_state"`
	AlgoVersionID uuid.UUID       `db:"algo_version_id"`
	ParamsID      uuid.UUID       `db:"params_id"`
	RunID         uuid.UUID       `db:"run_id"`
}

// RevisionRecord is the canonical per-(learner,theme) review-schedule state.
type RevisionRecord struct {
	LearnerID       uuid.UUID `db:"learner_id"`
	Theme           string    `db:"theme"`
	Shadow          bool      `db:"shadow"`
	DueAt           time.Time `db:"due_at"`
	LastReviewAt    time.Time `db:"last_review_at"`
	Stability       *float64  `db:"stability"`
	Difficulty      *float64  `db:"difficulty"`
	Retrievability  *float64  `db:"retrievability"`
	IntervalDays    *int      `db:"interval_days"`
	Stage           *int      `db:"stage"`
	AlgoVersionID   uuid.UUID `db:"algo_version_id"`
	ParamsID        uuid.UUID `db:"params_id"`
	RunID           uuid.UUID `db:"run_id"`
}

// EloScope distinguishes the two Elo rating scopes.
type EloScope string

const (
	EloScopeLearner EloScope = "learner"
	EloScopeItem    EloScope = "item"
)

// EloRating is a per-(scope,subject) rating with uncertainty.
type EloRating struct {
	Scope        EloScope  `db:"scope"`
	SubjectID    uuid.UUID `db:"subject_id"`
	Shadow       bool      `db:"shadow"`
	Rating       float64   `db:"rating"`
	Uncertainty  float64   `db:"uncertainty"`
	NAttempts    int       `db:"n_attempts"`
	LastSeenAt   time.Time `db:"last_seen_at"`
}

// BanditThemeState is the per-(learner,theme) Beta posterior.
type BanditThemeState struct {
	LearnerID      uuid.UUID  `db:"learner_id"`
	Theme          string     `db:"theme"`
	Shadow         bool       `db:"shadow"`
	Alpha          float64    `db:"alpha"`
	Beta           float64    `db:"beta"`
	NSessions      int        `db:"n_sessions"`
	LastSelectedAt *time.Time `db:"last_selected_at"`
	LastReward     *float64   `db:"last_reward"`
}

// Session is an authored test-session instance.
type Session struct {
	ID                    uuid.UUID       `db:"id"`
	LearnerID             uuid.UUID       `db:"learner_id"`
	Mode                  SessionMode     `db:"mode"`
	Year                  int             `db:"year"`
	Blocks                []string        `db:"-"`
	BlocksJSON            json.RawMessage `db:"blocks"`
	Themes                []string        `db:"-"`
	ThemesJSON            json.RawMessage `db:"themes"`
	TotalQuestions        int             `db:"total_questions"`
	Status                SessionStatus   `db:"status"`
	StartedAt             time.Time       `db:"started_at"`
	ExpiresAt             *time.Time      `db:"expires_at"`
	DurationSeconds       *int            `db:"duration_seconds"`
	SubmittedAt           *time.Time      `db:"submitted_at"`
	ScoreCorrect          *int            `db:"score_correct"`
	ScoreTotal            *int            `db:"score_total"`
	ScorePct              *float64        `db:"score_pct"`
	AlgoProfileAtStart    Profile         `db:"algo_profile_at_start"`
	AlgoOverridesAtStart  json.RawMessage `db:"algo_overrides_at_start"`
	AlgoPolicyVersionAtStart int          `db:"algo_policy_version_at_start"`
	ExamModeAtStart       bool            `db:"exam_mode_at_start"`
	FreezeUpdatesAtStart  bool            `db:"freeze_updates_at_start"`
	Seed                  string          `db:"seed"`
}

// SessionItem is a frozen per-position question within a Session.
type SessionItem struct {
	SessionID      uuid.UUID       `db:"session_id"`
	Position       int             `db:"position"`
	ItemID         uuid.UUID       `db:"item_id"`
	ItemVersion    int             `db:"item_version"`
	FrozenSnapshot json.RawMessage `db:"frozen_snapshot"`
}

// SessionAnswer is the learner's recorded response to a Session Item.
type SessionAnswer struct {
	SessionID        uuid.UUID  `db:"session_id"`
	ItemID           uuid.UUID  `db:"item_id"`
	SelectedIndex    *int       `db:"selected_index"`
	IsCorrect        *bool      `db:"is_correct"`
	AnsweredAt       *time.Time `db:"answered_at"`
	ChangedCount     int        `db:"changed_count"`
	MarkedForReview  bool       `db:"marked_for_review"`
	TimeSpentMs      *int       `db:"time_spent_ms"`
}

// AttemptEventType enumerates the telemetry event kinds.
type AttemptEventType string

const (
	EventQuestionViewed AttemptEventType = "QUESTION_VIEWED"
	EventAnswerSelected AttemptEventType = "ANSWER_SELECTED"
	EventAnswerChanged  AttemptEventType = "ANSWER_CHANGED"
	EventBlur           AttemptEventType = "BLUR"
	EventMarkReview     AttemptEventType = "MARK_REVIEW"
)

// AttemptEvent is one entry in the telemetry sequence for an answer.
type AttemptEvent struct {
	ID             uuid.UUID        `db:"id"`
	SessionID      uuid.UUID        `db:"session_id"`
	ItemID         uuid.UUID        `db:"item_id"`
	Type           AttemptEventType `db:"type"`
	ClientTime     time.Time        `db:"client_time"`
	ServerTime     time.Time        `db:"server_time"`
	Sequence       int              `db:"sequence"`
}

// RunStatus is the lifecycle status of an Algorithm Run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// AlgorithmRun records one execution of a recompute/fan-out step.
type AlgorithmRun struct {
	ID            uuid.UUID       `db:"id"`
	Module        string          `db:"module"`
	Version       ModuleVersion   `db:"version"`
	Status        RunStatus       `db:"status"`
	InputSummary  json.RawMessage `db:"input_summary"`
	OutputSummary json.RawMessage `db:"output_summary"`
	ErrorMessage  string          `db:"error_message"`
	StartedAt     time.Time       `db:"started_at"`
	FinishedAt    *time.Time      `db:"finished_at"`
}
