package testengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testengine/runner"
)

// RunSettings is the YAML run settings file
type RunSettings struct {
	// Parameters are session parameters visible to every test through its TestContext
	Parameters map[string]any `yaml:"parameters"`
	// ContainerParameters override Parameters per container
	ContainerParameters map[string]map[string]any `yaml:"containerParameters"`
	// Filter is the default test case filter
	Filter                  string `yaml:"filter"`
	MapInconclusiveToFailed bool   `yaml:"mapInconclusiveToFailed"`
}

// LoadRunSettings reads a run settings file. Unknown keys are rejected.
func LoadRunSettings(path string) (*RunSettings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run settings: %w", err)
	}
	defer f.Close()

	var settings RunSettings
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse run settings %s: %w", path, err)
	}
	return &settings, nil
}

// RunContext builds the runner context of a run. A non-empty filter overrides the settings
// filter; mapInconclusive enables the mapping when either source asks for it.
func (s *RunSettings) RunContext(filter string, mapInconclusive bool) runner.RunContext {
	if s == nil {
		s = &RunSettings{}
	}
	if filter == "" {
		filter = s.Filter
	}
	return runner.RunContext{
		FilterText:              filter,
		Parameters:              s.Parameters,
		ContainerParameters:     s.ContainerParameters,
		MapInconclusiveToFailed: mapInconclusive || s.MapInconclusiveToFailed,
	}
}
