package runtimectl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// highRiskActions is the set of action types that require the two-person
// approval workflow at all, distinct from confirmationPhrases which also
// covers phrases used by non-approval-gated endpoints (freeze/unfreeze).
var highRiskActions = map[models.ActionType]bool{
	models.ActionProfileSwitchPrimary:  true,
	models.ActionProfileSwitchFallback: true,
	models.ActionIRTActivate:           true,
	models.ActionElasticsearchEnable:   true,
	models.ActionNeo4jEnable:           true,
	models.ActionSnowflakeExportEnable: true,
}

// IsHighRisk reports whether action requires two-person approval.
func IsHighRisk(action models.ActionType) bool {
	return highRiskActions[action]
}

// RequestApprovalInput is the validated request to file an Approval Request.
type RequestApprovalInput struct {
	Requester          string
	ActionType         models.ActionType
	Payload            interface{}
	Reason             string
	ConfirmationPhrase string
}

// RequestApproval files a new Approval Request. Fails with a conflict if a
// PENDING request already exists for the same action type (the partial
// uniqueness constraint UNIQUE(action_type) WHERE status='PENDING').
func (s *Service) RequestApproval(ctx context.Context, in RequestApprovalInput) (*models.ApprovalRequest, error) {
	if !IsHighRisk(in.ActionType) {
		return nil, apperrors.NewValidationError("action type does not require approval")
	}
	if in.Reason == "" || len(in.Reason) < minReasonLength {
		return nil, apperrors.NewValidationError("reason must be at least 10 characters")
	}
	expected, ok := confirmationPhrases[in.ActionType]
	if !ok || in.ConfirmationPhrase != expected {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "INVALID_CONFIRMATION").
			WithDetailsf("expected phrase %q", expected)
	}

	existing, err := s.approvals.GetPendingByAction(ctx, in.ActionType)
	if err != nil {
		return nil, apperrors.NewDatabaseError("check pending approval", err)
	}
	if existing != nil {
		return nil, apperrors.NewConflictError("APPROVAL_ALREADY_PENDING").
			WithDetailsf("existing request_id %s", existing.ID)
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, apperrors.NewValidationError("payload is not serializable")
	}

	req := &models.ApprovalRequest{
		ID:                 uuid.New(),
		Requester:          in.Requester,
		ActionType:         in.ActionType,
		Payload:            payload,
		Reason:             in.Reason,
		ConfirmationPhrase: in.ConfirmationPhrase,
		Status:             models.ApprovalPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.approvals.Create(ctx, req); err != nil {
		return nil, apperrors.NewDatabaseError("create approval request", err)
	}

	s.audit.Record(ctx, audit.Event{
		Type:      "APPROVAL_REQUESTED",
		Actor:     in.Requester,
		Reason:    in.Reason,
		RequestID: req.ID.String(),
	})
	return req, nil
}

// ApproveRequestInput is the validated request to approve a pending request.
type ApproveRequestInput struct {
	RequestID          uuid.UUID
	Approver           string
	ConfirmationPhrase string
}

// ApproveRequest transitions a PENDING request to APPROVED and, for the
// PROFILE_SWITCH_* action types, executes the profile switch inline in the
// same call. Other high-risk actions (IRT_ACTIVATE, ELASTICSEARCH_ENABLE,
// NEO4J_ENABLE, SNOWFLAKE_EXPORT_ENABLE) are only recorded here; their
// readiness checks and activation live behind dedicated endpoints outside
// this core.
func (s *Service) ApproveRequest(ctx context.Context, in ApproveRequestInput) (*models.ApprovalRequest, error) {
	req, err := s.approvals.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get approval request", err)
	}
	if req == nil {
		return nil, apperrors.NewNotFoundError("approval request")
	}
	if req.Status != models.ApprovalPending {
		return nil, apperrors.NewConflictError("approval request is not pending")
	}
	if req.Requester == in.Approver {
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "self-approval is not permitted")
	}
	if in.ConfirmationPhrase != req.ConfirmationPhrase {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "INVALID_CONFIRMATION")
	}

	now := time.Now().UTC()
	req.Status = models.ApprovalApproved
	req.Approver = &in.Approver
	req.DecidedAt = &now

	if err := s.approvals.Update(ctx, req); err != nil {
		return nil, apperrors.NewDatabaseError("approve request", err)
	}

	if req.ActionType == models.ActionProfileSwitchPrimary || req.ActionType == models.ActionProfileSwitchFallback {
		target := models.ProfileV1Primary
		if req.ActionType == models.ActionProfileSwitchFallback {
			target = models.ProfileV0Fallback
		}
		if _, err := s.switchProfile(ctx, SwitchProfileInput{
			Target:             target,
			Reason:             req.Reason,
			ConfirmationPhrase: confirmationPhrases[req.ActionType],
			Actor:              in.Approver,
		}, false); err != nil { // this approval is the gate; skip the production rejection
			// Roll the decision back to REJECTED so the action can be re-requested.
			req.Status = models.ApprovalRejected
			_ = s.approvals.Update(ctx, req)
			return nil, err
		}
	}

	s.audit.Record(ctx, audit.Event{
		Type:      "APPROVAL_APPROVED",
		Actor:     in.Approver,
		RequestID: req.ID.String(),
	})
	return req, nil
}

// RejectRequest transitions a PENDING request to REJECTED.
func (s *Service) RejectRequest(ctx context.Context, requestID uuid.UUID, rejecter, reason string) (*models.ApprovalRequest, error) {
	req, err := s.approvals.GetByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get approval request", err)
	}
	if req == nil {
		return nil, apperrors.NewNotFoundError("approval request")
	}
	if req.Status != models.ApprovalPending {
		return nil, apperrors.NewConflictError("approval request is not pending")
	}
	if req.Requester == rejecter {
		return nil, apperrors.New(apperrors.ErrorTypeAuth, "self-rejection review requires a different admin")
	}

	now := time.Now().UTC()
	req.Status = models.ApprovalRejected
	req.Approver = &rejecter
	req.DecidedAt = &now

	if err := s.approvals.Update(ctx, req); err != nil {
		return nil, apperrors.NewDatabaseError("reject request", err)
	}

	s.audit.Record(ctx, audit.Event{
		Type:      "APPROVAL_REJECTED",
		Actor:     rejecter,
		Reason:    reason,
		RequestID: req.ID.String(),
	})
	return req, nil
}

// ListPendingApprovals returns every currently PENDING Approval Request.
func (s *Service) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	reqs, err := s.approvals.ListPending(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending approvals", err)
	}
	return reqs, nil
}
