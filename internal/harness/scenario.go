package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// Scenario is a scripted run against one engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overlays the default configuration.
	Config map[string]any `yaml:"config,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the complete trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine operation.
type Step struct {
	// Do names the operation (see Ops).
	Do string `yaml:"do"`

	// After advances the manual clock before the operation.
	After time.Duration `yaml:"after,omitempty"`

	// Args holds the operation arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is a subset match on the state after the step.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectError requires the operation to fail with an error containing
	// this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type    string         `yaml:"type"`
	Kind    string         `yaml:"kind,omitempty"`
	Target  string         `yaml:"target,omitempty"`
	Addr    string         `yaml:"addr,omitempty"`
	Address string         `yaml:"address,omitempty"`
	Args    []string       `yaml:"args,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount  = "event_count"
	AssertOSCCount    = "osc_count"
	AssertOSCContains = "osc_contains"
	AssertFinalState  = "final_state"
)

// stateFields are the keys accepted by expect and final_state.
var stateFields = []string{"bpm", "beat", "bar", "running", "metronome", "round_whole_bpm"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario is LoadScenario for in-memory YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Do == "" {
			return fmt.Errorf("steps[%d]: do is required", i)
		}
		if _, ok := ops[step.Do]; !ok {
			return fmt.Errorf("steps[%d]: unknown operation %q", i, step.Do)
		}
		if step.After < 0 {
			return fmt.Errorf("steps[%d]: after must be non-negative", i)
		}
		if step.Do == "tick" && step.After == 0 {
			return fmt.Errorf("steps[%d]: tick requires after", i)
		}
		if err := validateStateKeys(step.Expect); err != nil {
			return fmt.Errorf("steps[%d].expect: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if !validKind(a.Kind) {
			return fmt.Errorf("assertions[%d]: unknown event kind %q", index, a.Kind)
		}
	case AssertOSCCount, AssertOSCContains:
		if _, err := routing.ParseTarget(a.Target); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Type == AssertOSCContains && a.Address == "" {
			return fmt.Errorf("assertions[%d]: address is required for osc_contains", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		if err := validateStateKeys(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}

func validateStateKeys(m map[string]any) error {
	for k := range m {
		if !slices.Contains(stateFields, k) {
			return fmt.Errorf("unknown state field %q", k)
		}
	}
	return nil
}

func validKind(name string) bool {
	for k := engine.EventState; k <= engine.EventTestResync; k++ {
		if k.String() == name {
			return true
		}
	}
	return false
}
