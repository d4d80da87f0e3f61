// Package device loads the configured terminal fleet and keeps its status
// history.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/models"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// LoadDevices reads the device list from path. Files ending in .yaml or .yml
// are YAML; anything else is JSON, with comments and trailing commas allowed.
func LoadDevices(path string) ([]models.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	var devices []models.Device
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &devices); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &devices); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	seen := make(map[string]bool, len(devices))
	for i := range devices {
		d := &devices[i]
		if d.IP == "" {
			return nil, fmt.Errorf("device %d (%q): ip is required", i, d.Name)
		}
		if seen[d.IP] {
			return nil, fmt.Errorf("device %q: duplicate ip %s", d.Name, d.IP)
		}
		seen[d.IP] = true

		if d.Name == "" {
			d.Name = d.IP
		}
		d.Status = constants.NormalizeDeviceStatus(d.Status)
	}
	return devices, nil
}
