package mqtt

import (
	"encoding/json"
	"fmt"
)

// RegistrationPayload is a v1 target announcement, published by the probe or
// cable adapter that fronts a target.
type RegistrationPayload struct {
	Version    int          `json:"version"`
	Target     TargetInfo   `json:"target"`
	Topics     TargetTopics `json:"topics"`
	Operations []string     `json:"operations"`
}

// TargetInfo contains target metadata.
type TargetInfo struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Firmware string `json:"firmware"`
	Cable    string `json:"cable"`
}

// TargetTopics defines the MQTT topics used to talk to a target.
type TargetTopics struct {
	Command string `json:"command"`
	Event   string `json:"event"`
}

// ParseRegistration parses a registration payload from JSON bytes.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Target.ID == "" {
		return nil, fmt.Errorf("target.id is required")
	}

	return &payload, nil
}

// TargetSpec is the expected shape of a target, taken from bridge.yaml.
type TargetSpec struct {
	Type       string
	Operations []string
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration validates an announcement against the configured
// TargetSpec for its target ID. Unknown targets are accepted with a warning.
func ValidateRegistration(payload *RegistrationPayload, specs map[string]TargetSpec) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if payload.Topics.Command == "" {
		result.Errors = append(result.Errors, "topics.command is required")
		result.Valid = false
	}
	if payload.Topics.Event == "" {
		result.Warnings = append(result.Warnings, "no event topic: wait_exit will never resume")
	}

	spec, ok := specs[payload.Target.ID]
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized target: %s", payload.Target.ID))
		return result
	}

	if spec.Type != "" && payload.Target.Type != spec.Type {
		result.Errors = append(result.Errors, fmt.Sprintf("target %s: type mismatch (expected %s, got %s)", payload.Target.ID, spec.Type, payload.Target.Type))
		result.Valid = false
	}

	// An empty announced list means every operation is supported.
	if len(payload.Operations) > 0 {
		for _, op := range spec.Operations {
			if !containsString(payload.Operations, op) {
				result.Errors = append(result.Errors, fmt.Sprintf("target %s: missing operation %s", payload.Target.ID, op))
				result.Valid = false
			}
		}
	}

	return result
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
