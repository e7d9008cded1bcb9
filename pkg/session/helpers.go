package session

import (
	"encoding/json"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/bandit"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

func banditState(alpha, beta float64) bandit.State {
	if alpha == 0 && beta == 0 {
		return bandit.NewState()
	}
	return bandit.State{Alpha: alpha, Beta: beta}
}

func marshalOverrides(snap models.Snapshot) (json.RawMessage, error) {
	return json.Marshal(snap.Overrides)
}

func marshalSnapshot(snap models.ItemSnapshot) (json.RawMessage, error) {
	return json.Marshal(snap)
}

func unmarshalSnapshot(raw []byte) (models.ItemSnapshot, error) {
	var snap models.ItemSnapshot
	err := json.Unmarshal(raw, &snap)
	return snap, err
}
