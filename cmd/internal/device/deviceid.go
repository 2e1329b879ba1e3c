package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const deviceIDFile = "device_id"

// resolveDeviceID returns the configured id, else the one persisted in dir,
// else a fresh random id that is persisted for later runs.
func resolveDeviceID(configured, dir string) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, nil
	}

	path := filepath.Join(dir, deviceIDFile)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
