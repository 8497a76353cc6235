// Package target drives a debug probe over MQTT. Every operation becomes one
// or more JSON messages on the target's command topic; the probe performs the
// JTAG or memory access and reports console output and exit on its event
// topic.
package target

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
	"github.com/AaronLay10/SentientBridge/internal/config"
	"github.com/AaronLay10/SentientBridge/internal/events"
	"github.com/AaronLay10/SentientBridge/internal/mqtt"
)

// Wire operations understood by the probe.
const (
	OpJTAGReset     = "jtag_reset"
	OpJTAGSoftReset = "jtag_soft_reset"
	OpChipReset     = "chip_reset"
	OpWrite         = "write"
	OpRead          = "read"
	OpIOLoopOpen    = "ioloop_open"
	OpIOLoopClose   = "ioloop_close"
	OpReqLoopOpen   = "reqloop_open"
	OpReqLoopClose  = "reqloop_close"
)

// maxChunk bounds the data carried by a single write or read message.
const maxChunk = 4096

// Message is published on the command topic. ID pairs a read with its reply
// on the event topic.
type Message struct {
	Op     string  `json:"op"`
	ID     uint64  `json:"id,omitempty"`
	Addr   *uint32 `json:"addr,omitempty"`
	Size   int     `json:"size,omitempty"`
	Data   []byte  `json:"data,omitempty"`
	Assert *bool   `json:"assert,omitempty"`
}

// Target is the bridge's view of one board.
type Target struct {
	cfg      config.TargetConfig
	pub      mqtt.Publisher
	registry *mqtt.TargetRegistry

	mu          sync.Mutex
	started     bool
	ioloopOpen  bool
	reqloopOpen bool
	nextID      uint64
	pending     map[uint64]chan mqtt.TargetMessage
}

// New creates a target publishing through pub. When registry is non-nil and
// the target has announced itself, operations are checked against its
// announced list and its announced command topic is used.
func New(cfg config.TargetConfig, pub mqtt.Publisher, registry *mqtt.TargetRegistry) *Target {
	return &Target{
		cfg:      cfg,
		pub:      pub,
		registry: registry,
		pending:  make(map[uint64]chan mqtt.TargetMessage),
	}
}

// ID returns the configured target ID.
func (t *Target) ID() string {
	return t.cfg.ID
}

// Started reports whether Start ran since the last Stop.
func (t *Target) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Reset pulses the JTAG reset and then the chip reset.
func (t *Target) Reset() error {
	for _, op := range []string{OpJTAGReset, OpChipReset} {
		for _, assert := range []bool{true, false} {
			assert := assert
			if err := t.publish(Message{Op: op, Assert: &assert}); err != nil {
				return err
			}
		}
	}
	return nil
}

// SoftReset resets the JTAG TAP without touching the chip.
func (t *Target) SoftReset() error {
	return t.publish(Message{Op: OpJTAGSoftReset})
}

// Write copies data to target memory at addr.
func (t *Target) Write(addr uint32, data []byte) error {
	for off := 0; off < len(data); off += maxChunk {
		end := off + maxChunk
		if end > len(data) {
			end = len(data)
		}
		a := addr + uint32(off)
		if err := t.publish(Message{Op: OpWrite, Addr: &a, Size: end - off, Data: data[off:end]}); err != nil {
			return err
		}
	}
	return nil
}

// WriteInt writes value little-endian using size bytes (1, 2 or 4).
func (t *Target) WriteInt(addr, value uint32, size int) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	switch size {
	case 1, 2, 4:
	default:
		return &OpError{Op: OpWrite, Target: t.cfg.ID, Err: fmt.Errorf("invalid write size %d", size)}
	}
	return t.Write(addr, buf[:size])
}

func (t *Target) Write32(addr, value uint32) error { return t.WriteInt(addr, value, 4) }
func (t *Target) Write16(addr, value uint32) error { return t.WriteInt(addr, value, 2) }
func (t *Target) Write8(addr, value uint32) error  { return t.WriteInt(addr, value, 1) }

// Read returns size bytes of target memory at addr. Each chunk is a read
// request answered on the event topic; see HandleReply. Without a deadline
// on ctx the configured read timeout applies.
func (t *Target) Read(ctx context.Context, addr uint32, size int) ([]byte, error) {
	if size < 0 {
		return nil, &OpError{Op: OpRead, Target: t.cfg.ID, Err: fmt.Errorf("invalid read size %d", size)}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ReadTimeoutOrDefault())
		defer cancel()
	}

	out := make([]byte, 0, size)
	for off := 0; off < size; off += maxChunk {
		n := min(maxChunk, size-off)
		data, err := t.readChunk(ctx, addr+uint32(off), n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (t *Target) readChunk(ctx context.Context, addr uint32, size int) ([]byte, error) {
	ch := make(chan mqtt.TargetMessage, 1)
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.publish(Message{Op: OpRead, ID: id, Addr: &addr, Size: size}); err != nil {
		return nil, err
	}

	select {
	case m := <-ch:
		if m.Error != "" {
			return nil, &OpError{Op: OpRead, Target: t.cfg.ID, Err: errors.New(m.Error)}
		}
		if len(m.Payload) != size {
			return nil, &OpError{Op: OpRead, Target: t.cfg.ID, Err: fmt.Errorf("short read at 0x%x: %d of %d bytes", addr, len(m.Payload), size)}
		}
		return m.Payload, nil
	case <-ctx.Done():
		return nil, &OpError{Op: OpRead, Target: t.cfg.ID, Err: ctx.Err()}
	}
}

// HandleReply hands a read reply to the request waiting for it. It reports
// false when no request has that ID.
func (t *Target) HandleReply(m mqtt.TargetMessage) bool {
	t.mu.Lock()
	ch, ok := t.pending[m.ID]
	delete(t.pending, m.ID)
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- m
	return true
}

// ReadInt reads a little-endian value of size bytes (1, 2 or 4).
func (t *Target) ReadInt(ctx context.Context, addr uint32, size int) (uint32, error) {
	switch size {
	case 1, 2, 4:
	default:
		return 0, &OpError{Op: OpRead, Target: t.cfg.ID, Err: fmt.Errorf("invalid read size %d", size)}
	}
	data, err := t.Read(ctx, addr, size)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 4)
	copy(buf, data)
	value := binary.LittleEndian.Uint32(buf)

	events.Emit("info", "target.read", "", map[string]interface{}{
		"target_id": t.cfg.ID,
		"addr":      addr,
		"size":      size,
		"value":     value,
	})
	return value, nil
}

func (t *Target) Read32(ctx context.Context, addr uint32) (uint32, error) { return t.ReadInt(ctx, addr, 4) }
func (t *Target) Read16(ctx context.Context, addr uint32) (uint32, error) { return t.ReadInt(ctx, addr, 2) }
func (t *Target) Read8(ctx context.Context, addr uint32) (uint32, error)  { return t.ReadInt(ctx, addr, 1) }

// Start releases the core by writing start_value to start_addr. Without a
// configured start_addr it does nothing.
func (t *Target) Start() error {
	if t.cfg.StartAddr == nil {
		return nil
	}
	t.setStarted(true)
	return t.Write32(*t.cfg.StartAddr, t.cfg.StartValue)
}

// Stop writes stop_value to stop_addr when configured.
func (t *Target) Stop() error {
	if t.cfg.StopAddr == nil {
		return nil
	}
	t.setStarted(false)
	return t.Write32(*t.cfg.StopAddr, t.cfg.StopValue)
}

func (t *Target) setStarted(v bool) {
	t.mu.Lock()
	t.started = v
	t.mu.Unlock()
}

// Load boots the configured binaries according to the boot mode.
func (t *Target) Load() error {
	switch mode := t.cfg.BootModeOrDefault(); mode {
	case config.BootModeJTAG, config.BootModeJTAGHyper:
		return &OpError{Op: "load", Target: t.cfg.ID, Err: fmt.Errorf("%s: %w", mode, ErrBootModeUnsupported)}
	}

	for _, bin := range t.cfg.Binaries {
		if err := t.LoadELF(bin); err != nil {
			return err
		}
	}
	return nil
}

// Flash is not supported on these targets.
func (t *Target) Flash() error {
	return &OpError{Op: "flash", Target: t.cfg.ID, Err: ErrFlashUnsupported}
}

// debugStructAddr locates the runtime's debug structure through
// __rt_debug_struct_ptr, or debugStruct_ptr on older runtimes. A symbol
// defined at 0 counts as missing.
func (t *Target) debugStructAddr() (uint32, error) {
	var lastErr error
	for _, name := range []string{"__rt_debug_struct_ptr", "debugStruct_ptr"} {
		addr, err := t.SymbolAddr(name)
		switch {
		case err != nil:
			lastErr = err
		case addr == 0:
			lastErr = fmt.Errorf("%s at address 0: %w", name, ErrSymbolNotFound)
		default:
			return uint32(addr), nil
		}
	}
	return 0, lastErr
}

// OpenIOLoop asks the probe to start serving the runtime's debug structure
// for console output and exit. An open loop is closed first.
func (t *Target) OpenIOLoop() error {
	a, err := t.debugStructAddr()
	if err != nil {
		return &OpError{Op: OpIOLoopOpen, Target: t.cfg.ID, Err: err}
	}

	t.mu.Lock()
	open := t.ioloopOpen
	t.mu.Unlock()
	if open {
		if err := t.publish(Message{Op: OpIOLoopClose}); err != nil {
			return err
		}
	}

	if err := t.publish(Message{Op: OpIOLoopOpen, Addr: &a}); err != nil {
		return err
	}

	t.mu.Lock()
	t.ioloopOpen = true
	t.mu.Unlock()
	return nil
}

// OpenReqLoop asks the probe to serve runtime requests (file and semihosting
// style calls) through the same debug structure as the ioloop.
func (t *Target) OpenReqLoop() error {
	a, err := t.debugStructAddr()
	if err != nil {
		return &OpError{Op: OpReqLoopOpen, Target: t.cfg.ID, Err: err}
	}
	if err := t.publish(Message{Op: OpReqLoopOpen, Addr: &a}); err != nil {
		return err
	}

	t.mu.Lock()
	t.reqloopOpen = true
	t.mu.Unlock()
	return nil
}

// Close shuts down any open ioloop and reqloop.
func (t *Target) Close() error {
	t.mu.Lock()
	ioloop, reqloop := t.ioloopOpen, t.reqloopOpen
	t.ioloopOpen, t.reqloopOpen = false, false
	t.mu.Unlock()

	var errs []error
	if ioloop {
		errs = append(errs, t.publish(Message{Op: OpIOLoopClose}))
	}
	if reqloop {
		errs = append(errs, t.publish(Message{Op: OpReqLoopClose}))
	}
	return errors.Join(errs...)
}

// Step wraps op as an execute callback. The callback reports failure to the
// script when op returns an error.
func (t *Target) Step(name string, op func() error) bridge.Func {
	return func(bc *bridge.Commands) bool {
		fields := map[string]interface{}{
			"bridge_id": bc.ID(),
			"target_id": t.cfg.ID,
			"op":        name,
		}
		if err := op(); err != nil {
			fields["error"] = err.Error()
			events.Emit("error", "target.error", err.Error(), fields)
			return false
		}
		events.Emit("info", "target.op", "", fields)
		return true
	}
}

func (t *Target) commandTopic() string {
	if t.registry != nil {
		if topic := t.registry.CommandTopic(t.cfg.ID); topic != "" {
			return topic
		}
	}
	return t.cfg.CommandTopicOrDefault()
}

func (t *Target) publish(m Message) error {
	if t.pub == nil {
		return &OpError{Op: m.Op, Target: t.cfg.ID, Err: ErrNoPublisher}
	}
	if t.registry != nil && t.registry.Exists(t.cfg.ID) {
		if err := t.registry.ValidateOp(t.cfg.ID, m.Op); err != nil {
			return &OpError{Op: m.Op, Target: t.cfg.ID, Err: err}
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return &OpError{Op: m.Op, Target: t.cfg.ID, Err: err}
	}
	if err := t.pub.Publish(t.commandTopic(), b); err != nil {
		return &OpError{Op: m.Op, Target: t.cfg.ID, Err: err}
	}
	return nil
}
