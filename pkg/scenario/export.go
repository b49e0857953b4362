package scenario

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// verve/v1 scenario Go types.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Scenario{})
	s.ID = "https://github.com/probelab/verve/schemas/scenario-v1.json"
	s.Title = "Stream Verification Scenario — verve/v1"
	s.Description = "Schema for verve/v1 scenario YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal scenario schema: %w", err)
	}
	return data, nil
}
