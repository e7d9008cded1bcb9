// Package runtimectl implements the Runtime Control Plane: the switchboard
// mapping each algorithmic module to a version, safe-mode freeze, and the
// two-person approval workflow for high-risk actions.
package runtimectl

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// defaultCacheTTL bounds how long a read may serve a cached Runtime Config
// snapshot before re-consulting the store, per the shared-resource policy.
const defaultCacheTTL = 8 * time.Second

// policyVersion increments whenever the Runtime Config shape changes in a
// way that must be visible to consumers of a session's frozen snapshot.
const policyVersion = 1

// Service is the Runtime Control Plane. It is safe for concurrent use.
type Service struct {
	store      ConfigStore
	approvals  ApprovalStore
	audit      audit.Sink
	log        logr.Logger
	cacheTTL   time.Duration
	production bool

	cached atomic.Pointer[cachedConfig]
}

type cachedConfig struct {
	cfg       *models.RuntimeConfig
	fetchedAt time.Time
}

// production is the server-side deployment flag (internal/config.Config's
// IsProduction), never a per-request value: it decides whether a direct
// SwitchProfile call is rejected with APPROVAL_REQUIRED.
func NewService(store ConfigStore, approvals ApprovalStore, sink audit.Sink, log logr.Logger, production bool) *Service {
	return &Service{
		store:      store,
		approvals:  approvals,
		audit:      sink,
		log:        log,
		cacheTTL:   defaultCacheTTL,
		production: production,
	}
}

// current returns the Runtime Config, serving a cached copy within the TTL
// window. Callers on a state-write path must call currentUncached instead.
func (s *Service) current(ctx context.Context) (*models.RuntimeConfig, error) {
	if cached := s.cached.Load(); cached != nil && time.Since(cached.fetchedAt) < s.cacheTTL {
		return cached.cfg, nil
	}
	return s.currentUncached(ctx)
}

func (s *Service) currentUncached(ctx context.Context) (*models.RuntimeConfig, error) {
	cfg, err := s.store.Get(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get runtime config", err)
	}
	s.cached.Store(&cachedConfig{cfg: cfg, fetchedAt: time.Now()})
	return cfg, nil
}

func (s *Service) invalidate() {
	s.cached.Store(nil)
}

// CurrentConfig returns the TTL-cached Runtime Config, the read backing the
// admin status endpoint.
func (s *Service) CurrentConfig(ctx context.Context) (*models.RuntimeConfig, error) {
	return s.current(ctx)
}

// EffectiveVersion resolves which implementation variant runs module right
// now. An override wins over the active profile's default.
func (s *Service) EffectiveVersion(ctx context.Context, module string) (models.ModuleVersion, error) {
	cfg, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	return resolveVersion(cfg, module), nil
}

func resolveVersion(cfg *models.RuntimeConfig, module string) models.ModuleVersion {
	if v, ok := cfg.Overrides[module]; ok {
		return v
	}
	return profileDefault(cfg.ActiveProfile)
}

func profileDefault(p models.Profile) models.ModuleVersion {
	if p == models.ProfileV0Fallback {
		return models.VersionV0
	}
	return models.VersionV1
}

// IsFrozen reports whether every state-mutating write in the knowledge store,
// bandit update, and telemetry pipeline must short-circuit without writing.
// State-write paths must call this against the live (uncached) value.
func (s *Service) IsFrozen(ctx context.Context) (bool, error) {
	cfg, err := s.currentUncached(ctx)
	if err != nil {
		return false, err
	}
	return cfg.SafeMode.FreezeUpdates, nil
}

// IsFrozenCached is the TTL-bounded read used by non-write paths (e.g. to
// surface freeze status to an admin dashboard read).
func (s *Service) IsFrozenCached(ctx context.Context) (bool, error) {
	cfg, err := s.current(ctx)
	if err != nil {
		return false, err
	}
	return cfg.SafeMode.FreezeUpdates, nil
}

// OpenSessionSnapshot returns the point-in-time resolution of every module's
// version plus the freeze/exam-mode flags. Callers must persist the result
// on the Session row and consult it, never the live config, thereafter.
func (s *Service) OpenSessionSnapshot(ctx context.Context) (models.Snapshot, error) {
	cfg, err := s.currentUncached(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	overrides := make(map[string]models.ModuleVersion, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}
	return models.Snapshot{
		Profile:       cfg.ActiveProfile,
		Overrides:     overrides,
		PolicyVersion: policyVersion,
		ExamMode:      cfg.SearchEngineMode == "exam",
		FreezeUpdates: cfg.SafeMode.FreezeUpdates,
	}, nil
}

// SnapshotVersion resolves module against a previously captured session
// snapshot rather than the live config, per the "never perturb mid-flight"
// invariant.
func SnapshotVersion(snap models.Snapshot, module string) models.ModuleVersion {
	if v, ok := snap.Overrides[module]; ok {
		return v
	}
	return profileDefault(snap.Profile)
}

// confirmationPhrases maps each high-risk action to its required exact
// confirmation phrase.
var confirmationPhrases = map[models.ActionType]string{
	models.ActionProfileSwitchPrimary:  "SWITCH TO V1_PRIMARY",
	models.ActionProfileSwitchFallback: "SWITCH TO V0_FALLBACK",
	models.ActionIRTActivate:           "ACTIVATE IRT",
	models.ActionElasticsearchEnable:   "ENABLE ELASTICSEARCH",
	models.ActionNeo4jEnable:           "ENABLE NEO4J",
	models.ActionSnowflakeExportEnable: "ENABLE SNOWFLAKE EXPORT",
}

// ConfirmationPhrase returns the exact phrase an actor must supply for action.
func ConfirmationPhrase(action models.ActionType) (string, bool) {
	p, ok := confirmationPhrases[action]
	return p, ok
}

const minReasonLength = 10

// SwitchProfileInput is the validated request to switch_profile.
type SwitchProfileInput struct {
	Target             models.Profile
	Reason             string
	ConfirmationPhrase string
	Actor              string
}

func actionForProfile(p models.Profile) models.ActionType {
	if p == models.ProfileV0Fallback {
		return models.ActionProfileSwitchFallback
	}
	return models.ActionProfileSwitchPrimary
}

// SwitchProfile validates and applies a profile change. It requires a
// non-empty reason and the exact confirmation phrase. In production it is
// the direct, caller-facing path and always rejects with APPROVAL_REQUIRED:
// there a switch runs only through ApproveRequest, which executes it once
// when a different admin approves the PENDING request.
func (s *Service) SwitchProfile(ctx context.Context, in SwitchProfileInput) (*models.SwitchEvent, error) {
	return s.switchProfile(ctx, in, s.production)
}

func (s *Service) switchProfile(ctx context.Context, in SwitchProfileInput, requireApproval bool) (*models.SwitchEvent, error) {
	if in.Reason == "" || len(in.Reason) < minReasonLength {
		return nil, apperrors.NewValidationError("reason must be at least 10 characters")
	}
	action := actionForProfile(in.Target)
	expected, ok := confirmationPhrases[action]
	if !ok || in.ConfirmationPhrase != expected {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "INVALID_CONFIRMATION").
			WithDetailsf("expected phrase %q", expected)
	}

	if requireApproval {
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "APPROVAL_REQUIRED")
	}

	cfg, err := s.currentUncached(ctx)
	if err != nil {
		return nil, err
	}
	before, _ := json.Marshal(cfg)

	cfg.ActiveProfile = in.Target
	cfg.LastChangedBy = in.Actor
	cfg.ActiveSince = time.Now().UTC()
	after, _ := json.Marshal(cfg)

	evt := &models.SwitchEvent{
		ID:        uuid.New(),
		Before:    before,
		After:     after,
		Reason:    in.Reason,
		Actor:     in.Actor,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.Update(ctx, cfg, evt); err != nil {
		return nil, apperrors.NewDatabaseError("persist profile switch", err)
	}
	s.invalidate()

	s.audit.Record(ctx, audit.Event{
		Type:   "ALGO_MODE_SWITCH",
		Actor:  in.Actor,
		Before: string(before),
		After:  string(after),
		Reason: in.Reason,
	})

	return evt, nil
}

// SetFreeze toggles safe_mode.freeze_updates directly. Freezing is not a
// two-person-approval action in this core; it is the emergency brake, which
// must be reachable by any admin without a second approver in the loop.
func (s *Service) SetFreeze(ctx context.Context, freeze bool, reason, actor string) error {
	if reason == "" {
		return apperrors.NewValidationError("reason is required")
	}
	cfg, err := s.currentUncached(ctx)
	if err != nil {
		return err
	}
	before, _ := json.Marshal(cfg)
	cfg.SafeMode.FreezeUpdates = freeze
	cfg.LastChangedBy = actor
	after, _ := json.Marshal(cfg)

	evt := &models.SwitchEvent{
		ID:        uuid.New(),
		Before:    before,
		After:     after,
		Reason:    reason,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Update(ctx, cfg, evt); err != nil {
		return apperrors.NewDatabaseError("persist freeze toggle", err)
	}
	s.invalidate()

	eventType := "SAFE_MODE_UNFROZEN"
	if freeze {
		eventType = "SAFE_MODE_FROZEN"
	}
	s.audit.Record(ctx, audit.Event{Type: eventType, Actor: actor, Reason: reason})
	return nil
}
