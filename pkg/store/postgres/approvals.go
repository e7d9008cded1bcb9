package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// ApprovalStore implements runtimectl.ApprovalStore against the
// approval_requests table, whose partial unique index on (action_type)
// WHERE status = 'PENDING' is the database-level enforcement of Open
// Question 1's decision: at most one PENDING request per action type.
type ApprovalStore struct {
	db *sqlx.DB
}

func NewApprovalStore(db *sqlx.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

const approvalColumns = `id, requester, action_type, payload, reason, confirmation_phrase, status, approver, decided_at, created_at`

// Create inserts req, surfacing the partial unique index violation as a
// conflict error rather than a raw database error.
func (s *ApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	const insert = `
INSERT INTO approval_requests (` + approvalColumns + `)
VALUES (:id, :requester, :action_type, :payload, :reason, :confirmation_phrase, :status, :approver, :decided_at, :created_at)`
	_, err := s.db.NamedExecContext(ctx, insert, req)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("a pending approval request already exists for this action")
		}
		return dbErr("create approval request", err)
	}
	return nil
}

func (s *ApprovalStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := s.db.GetContext(ctx, &req, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("approval request")
	}
	if err != nil {
		return nil, dbErr("get approval request", err)
	}
	return &req, nil
}

func (s *ApprovalStore) GetPendingByAction(ctx context.Context, actionType models.ActionType) (*models.ApprovalRequest, error) {
	return s.getOneByActionAndStatus(ctx, actionType, models.ApprovalPending)
}

func (s *ApprovalStore) GetApprovedByAction(ctx context.Context, actionType models.ActionType) (*models.ApprovalRequest, error) {
	return s.getOneByActionAndStatus(ctx, actionType, models.ApprovalApproved)
}

func (s *ApprovalStore) getOneByActionAndStatus(ctx context.Context, actionType models.ActionType, status models.ApprovalStatus) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	const query = `
SELECT ` + approvalColumns + ` FROM approval_requests
WHERE action_type = $1 AND status = $2
ORDER BY created_at DESC LIMIT 1`
	err := s.db.GetContext(ctx, &req, query, actionType, status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("get approval request by action", err)
	}
	return &req, nil
}

func (s *ApprovalStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	const update = `
UPDATE approval_requests
SET status = :status, approver = :approver, decided_at = :decided_at
WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, update, req)
	if err != nil {
		return dbErr("update approval request", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("approval request")
	}
	return nil
}

func (s *ApprovalStore) ListPending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	var reqs []*models.ApprovalRequest
	const query = `SELECT ` + approvalColumns + ` FROM approval_requests WHERE status = $1 ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &reqs, query, models.ApprovalPending); err != nil {
		return nil, dbErr("list pending approval requests", err)
	}
	return reqs, nil
}
