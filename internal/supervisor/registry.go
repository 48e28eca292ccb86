package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/guildtool/guild/pkg/bus"
)

// readRegistry loads the role → PID map. A missing file is the canonical
// "not running" signal and yields a nil map with no error.
func readRegistry(path string) (map[bus.Role]int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pid registry: %w", err)
	}
	registry := map[bus.Role]int{}
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to parse pid registry: %w", err)
	}
	return registry, nil
}

// writeRegistry persists the role → PID map as indented JSON.
func writeRegistry(path string, registry map[bus.Role]int) error {
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pid registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pid registry: %w", err)
	}
	return nil
}

// deleteRegistry removes the registry file. An already-absent file is fine.
func deleteRegistry(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
