package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicy merges an optional policy.yaml onto the defaults. A
// missing file returns the defaults without error; lists in the file
// replace the corresponding default lists wholesale.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read policy file: %w", err)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return policy, fmt.Errorf("parse policy file: %w", err)
	}

	if len(override.StrictlyProtected) > 0 {
		policy.StrictlyProtected = override.StrictlyProtected
	}
	if len(override.ConditionallyProtected) > 0 {
		policy.ConditionallyProtected = override.ConditionallyProtected
	}
	if len(override.AllowedExtensions) > 0 {
		policy.AllowedExtensions = override.AllowedExtensions
	}
	if override.MaxFilesPerChange > 0 {
		policy.MaxFilesPerChange = override.MaxFilesPerChange
	}
	if override.MaxLinesPerFile > 0 {
		policy.MaxLinesPerFile = override.MaxLinesPerFile
	}
	return policy, nil
}
