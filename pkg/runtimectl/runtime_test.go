package runtimectl_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/audit"
	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/runtimectl"
)

func TestRuntimeCtl(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Runtime Control Plane Suite")
}

type fakeConfigStore struct {
	mu     sync.Mutex
	cfg    *models.RuntimeConfig
	events []*models.SwitchEvent
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{cfg: &models.RuntimeConfig{
		ID:            uuid.New(),
		ActiveProfile: models.ProfileV1Primary,
		Overrides:     map[string]models.ModuleVersion{},
	}}
}

func (f *fakeConfigStore) Get(context.Context) (*models.RuntimeConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.cfg
	return &cp, nil
}

func (f *fakeConfigStore) Update(_ context.Context, cfg *models.RuntimeConfig, evt *models.SwitchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.events = append(f.events, evt)
	return nil
}

type fakeApprovalStore struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*models.ApprovalRequest
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{reqs: map[uuid.UUID]*models.ApprovalRequest{}}
}

func (f *fakeApprovalStore) Create(_ context.Context, req *models.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs[req.ID] = req
	return nil
}

func (f *fakeApprovalStore) GetByID(_ context.Context, id uuid.UUID) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[id], nil
}

func (f *fakeApprovalStore) GetPendingByAction(_ context.Context, action models.ActionType) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reqs {
		if r.ActionType == action && r.Status == models.ApprovalPending {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeApprovalStore) GetApprovedByAction(_ context.Context, action models.ActionType) (*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reqs {
		if r.ActionType == action && r.Status == models.ApprovalApproved {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeApprovalStore) Update(_ context.Context, req *models.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs[req.ID] = req
	return nil
}

func (f *fakeApprovalStore) ListPending(context.Context) ([]*models.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ApprovalRequest
	for _, r := range f.reqs {
		if r.Status == models.ApprovalPending {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ = Describe("Runtime Control Plane", func() {
	var (
		ctx      context.Context
		cfgStore *fakeConfigStore
		appStore *fakeApprovalStore
		sink     *audit.BufferedSink
		svc      *runtimectl.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfgStore = newFakeConfigStore()
		appStore = newFakeApprovalStore()
		sink = &audit.BufferedSink{}
		svc = runtimectl.NewService(cfgStore, appStore, sink, logr.Discard(), true)
	})

	Describe("EffectiveVersion", func() {
		It("defaults to v1 under V1_PRIMARY with no override", func() {
			v, err := svc.EffectiveVersion(ctx, models.ModuleMastery)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(models.VersionV1))
		})

		It("honors a per-module override over the profile default", func() {
			cfgStore.cfg.Overrides[models.ModuleMastery] = models.VersionShadow
			v, err := svc.EffectiveVersion(ctx, models.ModuleMastery)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(models.VersionShadow))
		})
	})

	Describe("IsFrozen", func() {
		It("is false by default", func() {
			frozen, err := svc.IsFrozen(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(frozen).To(BeFalse())
		})

		It("reflects SetFreeze", func() {
			Expect(svc.SetFreeze(ctx, true, "incident response", "admin1")).To(Succeed())
			frozen, err := svc.IsFrozen(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(frozen).To(BeTrue())
		})
	})

	Describe("SwitchProfile", func() {
		It("rejects an empty confirmation phrase", func() {
			_, err := svc.SwitchProfile(ctx, runtimectl.SwitchProfileInput{
				Target: models.ProfileV0Fallback,
				Reason: "rolling back a regression",
				Actor:  "admin1",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("INVALID_CONFIRMATION"))
		})

		It("requires approval in production with no approved request", func() {
			_, err := svc.SwitchProfile(ctx, runtimectl.SwitchProfileInput{
				Target:             models.ProfileV0Fallback,
				Reason:             "rolling back a regression",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
				Actor:              "admin1",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("APPROVAL_REQUIRED"))
		})

		It("rejects a direct call while a request is still pending", func() {
			_, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionProfileSwitchFallback,
				Reason:             "rolling back a regression",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SwitchProfile(ctx, runtimectl.SwitchProfileInput{
				Target:             models.ProfileV0Fallback,
				Reason:             "rolling back a regression",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
				Actor:              "admin2",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("APPROVAL_REQUIRED"))
		})

		It("succeeds via ApproveRequest with an approved request from a different admin", func() {
			req, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionProfileSwitchFallback,
				Reason:             "rolling back a regression",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.ApproveRequest(ctx, runtimectl.ApproveRequestInput{
				RequestID:          req.ID,
				Approver:           "admin2",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cfgStore.cfg.ActiveProfile).To(Equal(models.ProfileV0Fallback))
		})

		It("rejects a second direct call after the request has already been approved and spent", func() {
			req, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionProfileSwitchFallback,
				Reason:             "rolling back a regression",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.ApproveRequest(ctx, runtimectl.ApproveRequestInput{
				RequestID:          req.ID,
				Approver:           "admin2",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.SwitchProfile(ctx, runtimectl.SwitchProfileInput{
				Target:             models.ProfileV0Fallback,
				Reason:             "trying to replay the switch",
				ConfirmationPhrase: "SWITCH TO V0_FALLBACK",
				Actor:              "admin3",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("APPROVAL_REQUIRED"))
		})
	})

	Describe("Approval workflow", func() {
		It("rejects a duplicate pending request for the same action type", func() {
			_, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionIRTActivate,
				Reason:             "enabling IRT for pilot cohort",
				ConfirmationPhrase: "ACTIVATE IRT",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionIRTActivate,
				Reason:             "enabling IRT for pilot cohort again",
				ConfirmationPhrase: "ACTIVATE IRT",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("APPROVAL_ALREADY_PENDING"))
		})

		It("rejects self-approval", func() {
			req, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionNeo4jEnable,
				Reason:             "enabling graph sync readiness",
				ConfirmationPhrase: "ENABLE NEO4J",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.ApproveRequest(ctx, runtimectl.ApproveRequestInput{
				RequestID:          req.ID,
				Approver:           "admin1",
				ConfirmationPhrase: "ENABLE NEO4J",
			})
			Expect(err).To(HaveOccurred())
		})

		It("records an APPROVAL_REQUESTED and APPROVAL_APPROVED audit event", func() {
			req, err := svc.RequestApproval(ctx, runtimectl.RequestApprovalInput{
				Requester:          "admin1",
				ActionType:         models.ActionElasticsearchEnable,
				Reason:             "enabling search indexing readiness",
				ConfirmationPhrase: "ENABLE ELASTICSEARCH",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.ApproveRequest(ctx, runtimectl.ApproveRequestInput{
				RequestID:          req.ID,
				Approver:           "admin2",
				ConfirmationPhrase: "ENABLE ELASTICSEARCH",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sink.Events).To(HaveLen(2))
			Expect(sink.Events[0].Type).To(Equal("APPROVAL_REQUESTED"))
			Expect(sink.Events[1].Type).To(Equal("APPROVAL_APPROVED"))
		})
	})

	Describe("OpenSessionSnapshot", func() {
		It("captures the live config at a point in time", func() {
			snap, err := svc.OpenSessionSnapshot(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Profile).To(Equal(models.ProfileV1Primary))
			Expect(snap.FreezeUpdates).To(BeFalse())

			Expect(svc.SetFreeze(ctx, true, "later change", "admin1")).To(Succeed())

			Expect(runtimectl.SnapshotVersion(snap, models.ModuleMastery)).To(Equal(models.VersionV1))
		})
	})
})
