package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// defaultRuntimeConfigID is the fixed identifier of the singleton Runtime
// Config row; the table is expected to hold at most one row.
var defaultRuntimeConfigID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// RuntimeConfigStore implements runtimectl.ConfigStore against the
// runtime_config / switch_events tables.
type RuntimeConfigStore struct {
	db *sqlx.DB
}

func NewRuntimeConfigStore(db *sqlx.DB) *RuntimeConfigStore {
	return &RuntimeConfigStore{db: db}
}

const selectRuntimeConfig = `
SELECT id, active_profile, overrides, safe_mode, search_engine_mode, active_since, last_changed_by
FROM runtime_config WHERE id = $1`

// Get returns the singleton Runtime Config row, creating it with safe
// defaults (V0_FALLBACK, no overrides, updates frozen) on first read.
func (s *RuntimeConfigStore) Get(ctx context.Context) (*models.RuntimeConfig, error) {
	var cfg models.RuntimeConfig
	err := s.db.GetContext(ctx, &cfg, selectRuntimeConfig, defaultRuntimeConfigID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createDefault(ctx)
	}
	if err != nil {
		return nil, dbErr("get runtime config", err)
	}
	if err := decodeRuntimeConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RuntimeConfigStore) createDefault(ctx context.Context) (*models.RuntimeConfig, error) {
	cfg := &models.RuntimeConfig{
		ID:               defaultRuntimeConfigID,
		ActiveProfile:    models.ProfileV0Fallback,
		Overrides:        map[string]models.ModuleVersion{},
		SafeMode:         models.SafeModeConfig{FreezeUpdates: true, PreferCache: true},
		SearchEngineMode: "disabled",
		LastChangedBy:    "system",
	}
	if err := encodeRuntimeConfig(cfg); err != nil {
		return nil, err
	}
	const insert = `
INSERT INTO runtime_config (id, active_profile, overrides, safe_mode, search_engine_mode, last_changed_by)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, insert, cfg.ID, cfg.ActiveProfile, cfg.OverridesJSON, cfg.SafeModeJSON, cfg.SearchEngineMode, cfg.LastChangedBy)
	if err != nil {
		return nil, dbErr("create default runtime config", err)
	}
	return s.Get(ctx)
}

// Update persists cfg and appends evt inside a single transaction, so a
// Switch Event is never recorded without its corresponding config change
// taking effect (and vice versa).
func (s *RuntimeConfigStore) Update(ctx context.Context, cfg *models.RuntimeConfig, evt *models.SwitchEvent) error {
	if err := encodeRuntimeConfig(cfg); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr("begin update runtime config", err)
	}
	defer tx.Rollback()

	const update = `
UPDATE runtime_config
SET active_profile = $2, overrides = $3, safe_mode = $4, search_engine_mode = $5,
    active_since = now(), last_changed_by = $6
WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, cfg.ID, cfg.ActiveProfile, cfg.OverridesJSON, cfg.SafeModeJSON, cfg.SearchEngineMode, cfg.LastChangedBy); err != nil {
		return dbErr("update runtime config", err)
	}

	const insertEvt = `
INSERT INTO switch_events (id, before, after, reason, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insertEvt, evt.ID, evt.Before, evt.After, evt.Reason, evt.Actor, evt.CreatedAt); err != nil {
		return dbErr("record switch event", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("commit update runtime config", err)
	}
	return nil
}

func encodeRuntimeConfig(cfg *models.RuntimeConfig) error {
	overrides, err := json.Marshal(cfg.Overrides)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode runtime config overrides")
	}
	safeMode, err := json.Marshal(cfg.SafeMode)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode runtime config safe mode")
	}
	cfg.OverridesJSON = overrides
	cfg.SafeModeJSON = safeMode
	return nil
}

func decodeRuntimeConfig(cfg *models.RuntimeConfig) error {
	if len(cfg.OverridesJSON) > 0 {
		if err := json.Unmarshal(cfg.OverridesJSON, &cfg.Overrides); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode runtime config overrides")
		}
	}
	if len(cfg.SafeModeJSON) > 0 {
		if err := json.Unmarshal(cfg.SafeModeJSON, &cfg.SafeMode); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode runtime config safe mode")
		}
	}
	return nil
}
