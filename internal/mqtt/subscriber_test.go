package mqtt

import (
	"testing"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

func lastEvent(t *testing.T) events.Event {
	t.Helper()
	snap := events.Snapshot()
	if len(snap) == 0 {
		t.Fatal("expected an event")
	}
	return snap[len(snap)-1]
}

func TestHandleRegistration_Registers(t *testing.T) {
	events.Clear()
	registry := NewTargetRegistry()

	result := HandleRegistration(registry, nil, []byte(validRegistration))
	if result == nil || !result.Valid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if !registry.Exists("gap8") {
		t.Fatal("expected gap8 registered")
	}

	ev := lastEvent(t)
	if ev.Name != "target.registered" {
		t.Errorf("expected target.registered, got %s", ev.Name)
	}
	if ev.Fields["reconnect"] != false {
		t.Errorf("expected reconnect=false, got %v", ev.Fields["reconnect"])
	}

	HandleRegistration(registry, nil, []byte(validRegistration))
	if lastEvent(t).Fields["reconnect"] != true {
		t.Error("expected reconnect=true on second announcement")
	}
}

func TestHandleRegistration_InvalidPayload(t *testing.T) {
	events.Clear()
	registry := NewTargetRegistry()

	if result := HandleRegistration(registry, nil, []byte("nope")); result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if ev := lastEvent(t); ev.Name != "target.error" {
		t.Errorf("expected target.error, got %s", ev.Name)
	}
	if len(registry.All()) != 0 {
		t.Error("expected nothing registered")
	}
}

func TestHandleRegistration_ValidationFailure(t *testing.T) {
	events.Clear()
	registry := NewTargetRegistry()
	specs := map[string]TargetSpec{"gap8": {Type: "vega"}}

	result := HandleRegistration(registry, specs, []byte(validRegistration))
	if result == nil || result.Valid {
		t.Fatalf("expected invalid result, got %+v", result)
	}
	if registry.Exists("gap8") {
		t.Error("expected invalid target not registered")
	}
}

func TestRegistrationHandler_RoutesMessages(t *testing.T) {
	registry := NewTargetRegistry()
	sub := NewMockSubscriber()

	if err := sub.Subscribe(DefaultRegistrationTopic, RegistrationHandler(registry, nil)); err != nil {
		t.Fatal(err)
	}
	sub.SimulateMessage(DefaultRegistrationTopic, []byte(validRegistration))

	if !registry.Exists("gap8") {
		t.Error("expected gap8 registered via handler")
	}
}
