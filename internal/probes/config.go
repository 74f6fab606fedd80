package probes

import (
	"encoding/json"
	"os"
)

// LoadConfig reads a Config's probe-specific fields from a JSON file.
// A missing path is not an error: every probe works from its
// documented defaults when unconfigured, just as the original's
// plugins did when no conf file existed for them.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
