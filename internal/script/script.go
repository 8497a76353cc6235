// Package script loads YAML run scripts and turns them into bridge commands.
//
//	version: 1
//	steps:
//	  - reset
//	  - load
//	  - ioloop
//	  - start
//	  - repeat:
//	      count: 3
//	      delay: 500us
//	      steps:
//	        - write32: {addr: 0x1a104000, value: 1}
//	  - wait_exit
//	  - read32: {addr: 0x1a104004, value: 0}
package script

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
)

// Step names.
const (
	StepReset     = "reset"
	StepSoftReset = "soft_reset"
	StepLoad      = "load"
	StepFlash     = "flash"
	StepStart     = "start"
	StepStop      = "stop"
	StepIOLoop    = "ioloop"
	StepReqLoop   = "reqloop"
	StepWaitExit  = "wait_exit"
	StepDelay     = "delay"
	StepWrite32   = "write32"
	StepWrite16   = "write16"
	StepWrite8    = "write8"
	StepRead32    = "read32"
	StepRead16    = "read16"
	StepRead8     = "read8"
	StepRepeat    = "repeat"
)

var accessSize = map[string]int{
	StepWrite32: 4, StepWrite16: 2, StepWrite8: 1,
	StepRead32: 4, StepRead16: 2, StepRead8: 1,
}

// Script is a parsed run script.
type Script struct {
	Version int    `yaml:"version"`
	Steps   []Step `yaml:"steps"`
}

// Step is one entry of a script. Which fields are set depends on Name.
type Step struct {
	Name  string
	Line  int
	Delay time.Duration
	Addr  uint32
	Value uint32
	// Expect is the value a read step must return, if set.
	Expect *uint32
	Count  int
	Steps []Step
}

// Target is the board a script operates on.
type Target interface {
	Reset() error
	SoftReset() error
	Load() error
	Flash() error
	Start() error
	Stop() error
	OpenIOLoop() error
	OpenReqLoop() error
	WriteInt(addr, value uint32, size int) error
	ReadInt(ctx context.Context, addr uint32, size int) (uint32, error)
	Step(name string, op func() error) bridge.Func
}

// Env holds the collaborators a script needs at build time.
type Env struct {
	Target  Target
	Session bridge.Session
}

// StepError reports a step that could not be parsed or built.
type StepError struct {
	Step string
	Line int
	Err  error
}

func (e *StepError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a version 1 script.
func Parse(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if s.Version != 1 {
		return nil, fmt.Errorf("unsupported script version: %d", s.Version)
	}
	return &s, nil
}

// UnmarshalYAML accepts either a bare step name or a single-key mapping
// from step name to its arguments.
func (st *Step) UnmarshalYAML(n *yaml.Node) error {
	st.Line = n.Line

	switch n.Kind {
	case yaml.ScalarNode:
		st.Name = n.Value
		switch st.Name {
		case StepReset, StepSoftReset, StepLoad, StepFlash, StepStart, StepStop,
			StepIOLoop, StepReqLoop, StepWaitExit:
			return nil
		}
		return &StepError{Step: st.Name, Line: st.Line, Err: fmt.Errorf("unknown step")}
	case yaml.MappingNode:
	default:
		return &StepError{Line: st.Line, Err: fmt.Errorf("step must be a name or a mapping")}
	}

	if len(n.Content) != 2 {
		return &StepError{Line: st.Line, Err: fmt.Errorf("step mapping must have exactly one key")}
	}
	st.Name = n.Content[0].Value
	arg := n.Content[1]

	var err error
	switch st.Name {
	case StepDelay:
		st.Delay, err = parseDuration(arg)
	case StepWrite32, StepWrite16, StepWrite8:
		var w struct {
			Addr  *uint32 `yaml:"addr"`
			Value uint32  `yaml:"value"`
		}
		if err = arg.Decode(&w); err == nil && w.Addr == nil {
			err = fmt.Errorf("addr is required")
		}
		if err == nil {
			st.Addr, st.Value = *w.Addr, w.Value
		}
	case StepRead32, StepRead16, StepRead8:
		var r struct {
			Addr  *uint32 `yaml:"addr"`
			Value *uint32 `yaml:"value"`
		}
		if err = arg.Decode(&r); err == nil && r.Addr == nil {
			err = fmt.Errorf("addr is required")
		}
		if err == nil {
			st.Addr, st.Expect = *r.Addr, r.Value
		}
	case StepRepeat:
		var r struct {
			Count *int      `yaml:"count"`
			Delay yaml.Node `yaml:"delay"`
			Steps []Step    `yaml:"steps"`
		}
		if err = arg.Decode(&r); err != nil {
			// Nested step errors already carry their own line
			return err
		}
		switch {
		case r.Count == nil:
			err = fmt.Errorf("count is required")
		case *r.Count < 0:
			err = fmt.Errorf("count must not be negative, got %d", *r.Count)
		default:
			st.Count = *r.Count
			st.Steps = r.Steps
			if r.Delay.Kind != 0 {
				st.Delay, err = parseDuration(&r.Delay)
			}
		}
	default:
		err = fmt.Errorf("unknown step")
	}

	if err != nil {
		return &StepError{Step: st.Name, Line: st.Line, Err: err}
	}
	return nil
}

func parseDuration(n *yaml.Node) (time.Duration, error) {
	d, err := time.ParseDuration(n.Value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", n.Value)
	}
	return d, nil
}

// Build appends the script to bc.
func (s *Script) Build(bc *bridge.Commands, env Env) error {
	return buildSteps(bc, env, s.Steps)
}

func buildSteps(bc *bridge.Commands, env Env, steps []Step) error {
	for _, st := range steps {
		if err := buildStep(bc, env, st); err != nil {
			return err
		}
	}
	return nil
}

func buildStep(bc *bridge.Commands, env Env, st Step) error {
	switch st.Name {
	case StepDelay:
		bc.AddDelay(st.Delay)
		return nil
	case StepWaitExit:
		if env.Session == nil {
			return &StepError{Step: st.Name, Line: st.Line, Err: fmt.Errorf("no session")}
		}
		bc.AddWaitExit(env.Session)
		return nil
	case StepRepeat:
		bc.AddRepeatStart(st.Delay, st.Count)
		if err := buildSteps(bc, env, st.Steps); err != nil {
			return err
		}
		return bc.AddRepeatEnd()
	}

	t := env.Target
	if t == nil {
		return &StepError{Step: st.Name, Line: st.Line, Err: fmt.Errorf("no target")}
	}

	var op func() error
	switch st.Name {
	case StepReset:
		op = t.Reset
	case StepSoftReset:
		op = t.SoftReset
	case StepLoad:
		op = t.Load
	case StepFlash:
		op = t.Flash
	case StepStart:
		op = t.Start
	case StepStop:
		op = t.Stop
	case StepIOLoop:
		op = t.OpenIOLoop
	case StepReqLoop:
		op = t.OpenReqLoop
	case StepWrite32, StepWrite16, StepWrite8:
		size := accessSize[st.Name]
		addr, value := st.Addr, st.Value
		op = func() error { return t.WriteInt(addr, value, size) }
	case StepRead32, StepRead16, StepRead8:
		size := accessSize[st.Name]
		addr, expect := st.Addr, st.Expect
		op = func() error {
			got, err := t.ReadInt(context.Background(), addr, size)
			if err != nil {
				return err
			}
			if expect != nil && got != *expect {
				return fmt.Errorf("read %#x: expected %#x, got %#x", addr, *expect, got)
			}
			return nil
		}
	default:
		return &StepError{Step: st.Name, Line: st.Line, Err: fmt.Errorf("unknown step")}
	}

	bc.AddExecute(t.Step(st.Name, op))
	return nil
}
