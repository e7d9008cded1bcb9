package selection

import (
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/bandit"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// Weights configures the theme base-priority linear combination; the four
// coefficients must sum to 1.
type Weights struct {
	Weakness    float64
	DueRatio    float64
	Uncertainty float64
	Recency     float64
	Epsilon     float64 // floor added to final_score to keep exploration alive
}

func DefaultWeights() Weights {
	return Weights{Weakness: 0.4, DueRatio: 0.3, Uncertainty: 0.2, Recency: 0.1, Epsilon: 0.02}
}

// Thresholds configures the supply/band/count gates of the pipeline.
type Thresholds struct {
	SupplyMin       int // baseline supply a theme needs to count as fully supplied
	DueBaseline     int // baseline due-concept count normalizing due_ratio
	RecencyTau      float64
	MinThemeCount   int
	MaxThemeCount   int
	SupplyThreshold int // minimum available items for a theme to be selectable at all
	MinPerTheme     int
	MaxPerTheme     int
	ChallengeLow    float64
	ChallengeHigh   float64
	ExploreNewRate  float64 // not read by PickItems: no quota share is reserved for unrated items, which are picked in their category-order slot
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SupplyMin:       10,
		DueBaseline:     10,
		RecencyTau:      7 * 24 * 3600,
		MinThemeCount:   2,
		MaxThemeCount:   6,
		SupplyThreshold: 3,
		MinPerTheme:     1,
		MaxPerTheme:     20,
		ChallengeLow:    0.55,
		ChallengeHigh:   0.80,
		ExploreNewRate:  0.1,
	}
}

// ThemeInput is the pre-fetched per-theme state the pipeline scores from.
// Selection never reads the store directly; callers resolve these once so
// that two calls against unchanged state produce byte-identical plans.
type ThemeInput struct {
	Theme            string
	Mastery          float64
	DueConceptCount  int
	LearnerUncertainty float64
	UncertaintyFloor float64
	UncertaintyInit  float64
	LastSelectedAt   *time.Time
	AvailableItems   int
	Bandit           bandit.State
}

// ItemInput is the pre-fetched per-item candidate state the picker chooses
// from within a theme.
type ItemInput struct {
	ItemID      uuid.UUID
	Theme       string
	Due         bool
	Weak        bool
	Unrated     bool
	PCorrect    float64
	Uncertainty float64
}

// Input is the full set of arguments to one selection pipeline invocation.
type Input struct {
	LearnerID uuid.UUID
	Mode      models.SessionMode
	Count     int
	BlockIDs  []string
	ThemeIDs  []string // optional explicit restriction; empty means "all"
	Excluded  map[uuid.UUID]bool
	Themes    []ThemeInput
	Items     map[string][]ItemInput // candidate items keyed by theme

	Weights    Weights
	Thresholds Thresholds
}

// ThemeScore is the per-theme scoring detail retained on the Plan for
// logging.
type ThemeScore struct {
	Theme        string
	Weakness     float64
	DueRatio     float64
	Uncertainty  float64
	Recency      float64
	SupplyFactor float64
	BasePriority float64
	SampledY     float64
	FinalScore   float64
}

// Plan is the pipeline's emitted decision record plus the ordered item list.
type Plan struct {
	Seed          string
	ItemIDs       []uuid.UUID
	Themes        []ThemeScore
	Quotas        map[string]int
	AvgPCorrect   float64
	DueCoverage   float64
	Reason        string // non-empty on a degraded/partial result
	NotEnough     bool
}
