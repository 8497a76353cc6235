package mqtt

import (
	"fmt"
	"sync"
)

// RegisteredTarget holds runtime information about an announced target.
type RegisteredTarget struct {
	ID           string
	Type         string
	Firmware     string
	CommandTopic string // operations are published here
	EventTopic   string // the target publishes output and exit here
	Operations   []string
}

// TargetRegistry maps target IDs to their topics and supported operations.
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[string]*RegisteredTarget
}

// NewTargetRegistry creates a new empty target registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{
		targets: make(map[string]*RegisteredTarget),
	}
}

// Register adds or updates a target in the registry.
func (r *TargetRegistry) Register(t *RegisteredTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.ID] = copyTarget(t)
}

// Unregister removes a target from the registry.
func (r *TargetRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
}

// Get returns a copy of a target, or nil if not found.
func (r *TargetRegistry) Get(id string) *RegisteredTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.targets[id]; ok {
		return copyTarget(t)
	}
	return nil
}

// Exists returns true if the target is registered.
func (r *TargetRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.targets[id]
	return ok
}

// CommandTopic returns the command topic for a target, or "" if not found.
func (r *TargetRegistry) CommandTopic(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.targets[id]; ok {
		return t.CommandTopic
	}
	return ""
}

// EventTopic returns the event topic for a target, or "" if not found.
func (r *TargetRegistry) EventTopic(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.targets[id]; ok {
		return t.EventTopic
	}
	return ""
}

// ValidateOp checks that a target exists, has a command topic and supports
// op. A target announcing no operations accepts all of them.
func (r *TargetRegistry) ValidateOp(id, op string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.targets[id]
	if !ok {
		return fmt.Errorf("target not registered: %s", id)
	}
	if t.CommandTopic == "" {
		return fmt.Errorf("target %s has no command topic", id)
	}
	if len(t.Operations) == 0 || containsString(t.Operations, op) {
		return nil
	}
	return fmt.Errorf("target %s does not support operation: %s", id, op)
}

// All returns a copy of all registered targets.
func (r *TargetRegistry) All() []*RegisteredTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RegisteredTarget, 0, len(r.targets))
	for _, t := range r.targets {
		result = append(result, copyTarget(t))
	}
	return result
}

// RegisterFromPayload registers the target described by an announcement.
func (r *TargetRegistry) RegisterFromPayload(payload *RegistrationPayload) {
	r.Register(&RegisteredTarget{
		ID:           payload.Target.ID,
		Type:         payload.Target.Type,
		Firmware:     payload.Target.Firmware,
		CommandTopic: payload.Topics.Command,
		EventTopic:   payload.Topics.Event,
		Operations:   payload.Operations,
	})
}

// Clear removes all targets from the registry.
func (r *TargetRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = make(map[string]*RegisteredTarget)
}

func copyTarget(t *RegisteredTarget) *RegisteredTarget {
	cpy := *t
	cpy.Operations = append([]string{}, t.Operations...)
	return &cpy
}
