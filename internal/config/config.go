package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig is the contents of bridge.yaml.
type BridgeConfig struct {
	Version int `yaml:"version"`
	Bridge  struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"bridge"`
	Network NetworkConfig `yaml:"network"`
	Target  TargetConfig  `yaml:"target"`
	// Script is the default run script, relative to the config file.
	Script string `yaml:"script"`
}

type NetworkConfig struct {
	APIPort           int    `yaml:"api_port"`
	MQTTURL           string `yaml:"mqtt_url"`
	RegistrationTopic string `yaml:"registration_topic"`
}

// TargetConfig describes the board behind the bridge and how to boot it.
// Addresses are optional: a nil StartAddr makes Start a no-op.
type TargetConfig struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"`
	CommandTopic string   `yaml:"command_topic"`
	EventTopic   string   `yaml:"event_topic"`
	BootMode     string   `yaml:"boot_mode"`
	Binaries     []string `yaml:"binaries"`
	StartAddr    *uint32  `yaml:"start_addr"`
	StartValue   uint32   `yaml:"start_value"`
	StopAddr     *uint32  `yaml:"stop_addr"`
	StopValue    uint32   `yaml:"stop_value"`
	SetPCAddr    *uint32  `yaml:"set_pc_addr"`
	Operations   []string `yaml:"operations"`
	// ReadTimeout bounds the wait for a memory read reply.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultReadTimeout applies when read_timeout is not set.
const DefaultReadTimeout = 5 * time.Second

// Boot modes understood by target.Load.
const (
	BootModeDefault   = "default"
	BootModeJTAG      = "jtag"
	BootModeJTAGHyper = "jtag_hyper"
)

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *BridgeConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// RegistrationTopic returns where targets announce themselves.
func (c *BridgeConfig) RegistrationTopic() string {
	if c.Network.RegistrationTopic == "" {
		return "bridge/register"
	}
	return c.Network.RegistrationTopic
}

// BridgeID returns bridge.id, falling back to the target ID.
func (c *BridgeConfig) BridgeID() string {
	if c.Bridge.ID != "" {
		return c.Bridge.ID
	}
	return c.Target.ID
}

func (t *TargetConfig) CommandTopicOrDefault() string {
	if t.CommandTopic != "" {
		return t.CommandTopic
	}
	return "targets/" + t.ID + "/commands"
}

func (t *TargetConfig) EventTopicOrDefault() string {
	if t.EventTopic != "" {
		return t.EventTopic
	}
	return "targets/" + t.ID + "/events"
}

func (t *TargetConfig) BootModeOrDefault() string {
	if t.BootMode == "" {
		return BootModeDefault
	}
	return t.BootMode
}

func (t *TargetConfig) ReadTimeoutOrDefault() time.Duration {
	if t.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return t.ReadTimeout
}

func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseBridgeConfig(b)
	if err != nil {
		return nil, err
	}

	// Relative paths are taken from the config file's directory
	dir := filepath.Dir(path)
	for i, bin := range cfg.Target.Binaries {
		cfg.Target.Binaries[i] = resolvePath(dir, bin)
	}
	if cfg.Script != "" {
		cfg.Script = resolvePath(dir, cfg.Script)
	}

	return cfg, nil
}

func ParseBridgeConfig(b []byte) (*BridgeConfig, error) {
	var cfg BridgeConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported bridge.yaml version: %d", cfg.Version)
	}
	if cfg.Target.ID == "" {
		return nil, fmt.Errorf("bridge.yaml: target.id is required")
	}
	switch cfg.Target.BootModeOrDefault() {
	case BootModeDefault, BootModeJTAG, BootModeJTAGHyper:
	default:
		return nil, fmt.Errorf("bridge.yaml: unknown boot_mode %q", cfg.Target.BootMode)
	}
	if cfg.Target.ReadTimeout < 0 {
		return nil, fmt.Errorf("bridge.yaml: negative read_timeout %s", cfg.Target.ReadTimeout)
	}

	return &cfg, nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
