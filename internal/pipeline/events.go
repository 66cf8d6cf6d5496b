package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"trove-capacity-lab/internal/domain"
)

// Events is a complete raw event history, as fetched or as stored in a
// fixture file.
type Events struct {
	Redemptions  []domain.RawRedemption   `json:"redemptions"`
	TroveUpdates []domain.RawTroveUpdated `json:"troveUpdateds"`
}

// LoadEvents reads an events JSON file.
func LoadEvents(path string) (*Events, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events file: %w", err)
	}

	var ev Events
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse events file %s: %w", path, err)
	}
	return &ev, nil
}

// SaveEvents writes events as indented JSON, for replaying a fetched history.
func SaveEvents(path string, ev *Events) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write events file: %w", err)
	}
	return nil
}
