package registry

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the configuration directory when set. Tests and
// sandboxed environments point it somewhere writable.
const ConfigDirEnv = "MCPD_CONFIG_DIR"

// DefaultPath returns <user-config-dir>/mcpd/registry.json, honoring the
// ConfigDirEnv override.
func DefaultPath() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return filepath.Join(dir, "registry.json"), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}

	return filepath.Join(dir, "mcpd", "registry.json"), nil
}
