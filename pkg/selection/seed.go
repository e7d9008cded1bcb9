// Package selection implements the Adaptive Selection Engine: constrained
// Thompson Sampling over candidate themes combined with a desirable-
// difficulty item picker, deterministic under a derived seed.
package selection

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jordigilh/medlearn-core/pkg/models"
)

// DeriveSeed produces a stable hex digest from the canonicalized selection
// inputs, sorting block/theme IDs so that argument order never changes the
// result.
func DeriveSeed(learnerID uuid.UUID, mode models.SessionMode, count int, blockIDs, themeIDs []string) string {
	sortedBlocks := append([]string(nil), blockIDs...)
	sort.Strings(sortedBlocks)
	sortedThemes := append([]string(nil), themeIDs...)
	sort.Strings(sortedThemes)

	parts := []string{
		learnerID.String(),
		string(mode),
		fmt.Sprintf("%d", count),
		strings.Join(sortedBlocks, ","),
		strings.Join(sortedThemes, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum)
}

// NewSource builds a seeded, reproducible random source from a seed digest
// produced by DeriveSeed, threaded through every subsequent randomized step
// in the pipeline.
func NewSource(seedHex string) *rand.Rand {
	sum := sha256.Sum256([]byte(seedHex))
	hi := binary.BigEndian.Uint64(sum[0:8])
	lo := binary.BigEndian.Uint64(sum[8:16])
	return rand.New(rand.NewPCG(hi, lo))
}
