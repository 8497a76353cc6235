package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, the secret is read from that path and takes
// precedence over envName itself. Returns "" if neither is set.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	filePath := os.Getenv(fileEnv)
	if filePath == "" {
		return os.Getenv(envName), nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		// Never include the file content in the error
		return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
	}
	return strings.TrimSpace(string(content)), nil
}

// Secrets holds the credentials the bridge reads from its environment.
type Secrets struct {
	MQTTUsername string
	MQTTPassword string
	AdminUser    string
	AdminPass    string
}

// LoadSecrets resolves every bridge secret, stopping at the first file that
// cannot be read.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	for _, item := range []struct {
		env string
		dst *string
	}{
		{"MQTT_USERNAME", &s.MQTTUsername},
		{"MQTT_PASSWORD", &s.MQTTPassword},
		{"BRIDGE_ADMIN_USER", &s.AdminUser},
		{"BRIDGE_ADMIN_PASS", &s.AdminPass},
	} {
		v, err := ResolveSecret(item.env)
		if err != nil {
			return nil, err
		}
		*item.dst = v
	}
	return &s, nil
}

// AdminEnabled reports whether both admin credentials are set.
func (s *Secrets) AdminEnabled() bool {
	return s.AdminUser != "" && s.AdminPass != ""
}
