package board

import (
	"time"

	"github.com/mamadbah2/producao/internal/domain/models"
)

// PendingAction is an operator action that was accepted by the board but may
// not be visible in the store snapshot yet.
type PendingAction struct {
	RecordID    string        `json:"record_id"`
	BaseVersion int64         `json:"base_version"`
	Status      models.Status `json:"status"`
	Actor       string        `json:"actor,omitempty"`
	At          time.Time     `json:"at"`
}

// Card is one record as shown on the board.
type Card struct {
	models.ProductionRecord
	Optimistic       bool `json:"optimistic"`
	SecondsRemaining int  `json:"seconds_remaining,omitempty"`
}

// Merge overlays pending actions on the authoritative snapshot. An action
// survives only while the snapshot version of its record is not newer than
// the version the action was based on. The returned slice holds the actions
// that are still pending.
func Merge(snapshot []models.ProductionRecord, pending []PendingAction) ([]Card, []PendingAction) {
	byRecord := make(map[string]PendingAction, len(pending))
	for _, p := range pending {
		byRecord[p.RecordID] = p
	}

	cards := make([]Card, 0, len(snapshot))
	survivors := make([]PendingAction, 0, len(pending))
	for _, rec := range snapshot {
		card := Card{ProductionRecord: rec}
		if p, ok := byRecord[rec.ID]; ok && rec.Version <= p.BaseVersion {
			card.Status = p.Status
			card.Optimistic = true
			survivors = append(survivors, p)
		}
		cards = append(cards, card)
	}
	return cards, survivors
}
