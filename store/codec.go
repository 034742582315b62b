package store

import (
	"encoding/json"
	"fmt"

	"github.com/mdawes/phasetrack/engine"
)

// docSchemaVersion is bumped whenever the persisted document shape changes.
// Decoding rejects documents from a newer schema instead of silently
// misreading them.
const docSchemaVersion = 1

// document is the versioned serialization envelope used by the Redis store.
type document struct {
	SchemaVersion int                   `json:"schema_version"`
	Phase         *engine.PhaseInstance `json:"phase"`
}

// EncodePhase serializes a phase instance into the versioned document form.
func EncodePhase(phase *engine.PhaseInstance) ([]byte, error) {
	data, err := json.Marshal(document{
		SchemaVersion: docSchemaVersion,
		Phase:         phase,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding phase %s: %w", phase.Key, err)
	}
	return data, nil
}

// DecodePhase deserializes a versioned phase document.
func DecodePhase(data []byte) (*engine.PhaseInstance, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding phase document: %w", err)
	}
	if doc.SchemaVersion > docSchemaVersion {
		return nil, fmt.Errorf("phase document schema %d is newer than supported %d", doc.SchemaVersion, docSchemaVersion)
	}
	if doc.Phase == nil {
		return nil, fmt.Errorf("phase document has no payload")
	}
	return doc.Phase, nil
}
