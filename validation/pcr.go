package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cloudx-io/opensale/saleapi"
)

// DefaultPCRConfigPath returns the default path to the PCR configuration file
func DefaultPCRConfigPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "pcrs.json")
}

// LoadPCRsFromFile loads known PCR sets from a JSON file
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}
	return config.PCRSets, nil
}

// ValidatePCRs checks if PCRs match any known valid set.
// It returns the index of the matching set, or -1.
func ValidatePCRs(pcrs saleapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, known := range knownSets {
		if pcrs.ImageFileHash == known.PCR0 &&
			pcrs.KernelHash == known.PCR1 &&
			pcrs.ApplicationHash == known.PCR2 {
			return true, i
		}
	}
	return false, -1
}
