package mqtt

import (
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

// DefaultRegistrationTopic is where targets announce themselves.
const DefaultRegistrationTopic = "bridge/register"

// RegistrationHandler returns a message handler that validates target
// announcements against specs and records valid ones in registry.
func RegistrationHandler(registry *TargetRegistry, specs map[string]TargetSpec) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		HandleRegistration(registry, specs, msg.Payload())
	}
}

// HandleRegistration processes one announcement. Returns the validation
// result, or nil if the payload could not be parsed.
func HandleRegistration(registry *TargetRegistry, specs map[string]TargetSpec, data []byte) *ValidationResult {
	payload, err := ParseRegistration(data)
	if err != nil {
		events.Emit("error", "target.error", "invalid registration", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	result := ValidateRegistration(payload, specs)
	if !result.Valid {
		events.Emit("error", "target.error", "registration validation failed", map[string]interface{}{
			"target_id": payload.Target.ID,
			"errors":    result.Errors,
		})
		return result
	}

	reconnect := registry.Exists(payload.Target.ID)
	registry.RegisterFromPayload(payload)
	events.Emit("info", "target.registered", "", map[string]interface{}{
		"target_id":     payload.Target.ID,
		"type":          payload.Target.Type,
		"command_topic": payload.Topics.Command,
		"event_topic":   payload.Topics.Event,
		"reconnect":     reconnect,
		"warnings":      result.Warnings,
	})
	return result
}
