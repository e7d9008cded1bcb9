package runtimectl

import (
	"context"

	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/pkg/models"
)

// ConfigStore is the persistence contract for the Runtime Config singleton.
// Implementations must create the row with safe defaults on first read.
type ConfigStore interface {
	Get(ctx context.Context) (*models.RuntimeConfig, error)
	// Update persists cfg and appends evt in the same transaction.
	Update(ctx context.Context, cfg *models.RuntimeConfig, evt *models.SwitchEvent) error
}

// ApprovalStore is the persistence contract for Approval Requests.
type ApprovalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error)
	// GetPendingByAction returns the single PENDING request for actionType,
	// or nil if none exists.
	GetPendingByAction(ctx context.Context, actionType models.ActionType) (*models.ApprovalRequest, error)
	// GetApprovedByAction returns the single un-executed APPROVED request for
	// actionType, or nil if none exists.
	GetApprovedByAction(ctx context.Context, actionType models.ActionType) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error
	ListPending(ctx context.Context) ([]*models.ApprovalRequest, error)
}
