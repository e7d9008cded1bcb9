package httpapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/models"
	"github.com/jordigilh/medlearn-core/pkg/session"
)

func TestDTO(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTP DTO Suite")
}

var _ = Describe("toSessionResponse", func() {
	It("never leaks correct_index or explanation into the learner-facing item view", func() {
		snap, err := json.Marshal(models.ItemSnapshot{
			Stem:         "A patient presents with...",
			Options:      [5]string{"A", "B", "C", "D", "E"},
			CorrectIndex: 2,
			Explanation:  "because of X",
			Year:         3,
			Block:        "cardio",
			Theme:        "arrhythmia",
		})
		Expect(err).NotTo(HaveOccurred())

		sess := &models.Session{
			ID:             uuid.New(),
			LearnerID:      uuid.New(),
			Mode:           models.ModeExam,
			Year:           3,
			Blocks:         []string{"cardio"},
			TotalQuestions: 1,
			Status:         models.SessionActive,
			StartedAt:      time.Now(),
		}
		items := []models.SessionItem{{
			SessionID:      sess.ID,
			Position:       1,
			ItemID:         uuid.New(),
			FrozenSnapshot: snap,
		}}

		resp := toSessionResponse(sess, items, session.Progress{Answered: 0, Marked: 0, CurrentPosition: 1})

		Expect(resp.Items).To(HaveLen(1))
		Expect(resp.Items[0].Stem).To(Equal("A patient presents with..."))
		Expect(resp.Items[0].Year).To(Equal(3))
		Expect(resp.Items[0].Block).To(Equal("cardio"))

		raw, err := json.Marshal(resp.Items[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).NotTo(ContainSubstring("correct_index"))
		Expect(string(raw)).NotTo(ContainSubstring("explanation"))
	})

	It("maps progress through unchanged", func() {
		resp := toProgressResponse(session.Progress{Answered: 4, Marked: 1, CurrentPosition: 5})
		Expect(resp.Answered).To(Equal(4))
		Expect(resp.Marked).To(Equal(1))
		Expect(resp.CurrentPosition).To(Equal(5))
	})

	It("tolerates an empty frozen snapshot without erroring", func() {
		sess := &models.Session{ID: uuid.New(), LearnerID: uuid.New(), Status: models.SessionActive, StartedAt: time.Now()}
		items := []models.SessionItem{{SessionID: sess.ID, Position: 1, ItemID: uuid.New()}}
		resp := toSessionResponse(sess, items, session.Progress{})
		Expect(resp.Items).To(HaveLen(1))
		Expect(resp.Items[0].Stem).To(BeEmpty())
	})
})
