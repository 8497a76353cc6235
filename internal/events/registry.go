package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// bridge run lifecycle
	"bridge.started":   {},
	"bridge.suspended": {},
	"bridge.resumed":   {},
	"bridge.completed": {},
	"bridge.aborted":   {},
	"bridge.stopped":   {},

	// commands
	"command.failed": {},

	// repeat scopes
	"loop.started":   {},
	"loop.completed": {},

	// sessions
	"session.registered": {},
	"session.exit":       {},

	// target
	"target.registered": {},
	"target.op":         {},
	"target.read":       {},
	"target.error":      {},
	"target.output":     {},

	// broker
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate returns an error if event is not a known event name.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
