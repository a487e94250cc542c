package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diel/internal/config"
)

// Scenario defines a conformance test scenario: a program, the engines
// it runs on, a sequence of steps, and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the path of a DIEL program file, relative to the
	// scenario file. Exactly one of Program and Source is set.
	Program string `yaml:"program,omitempty"`

	// Source is an inline DIEL program.
	Source string `yaml:"source,omitempty"`

	// Config overrides the runtime configuration. Keys left out keep
	// their defaults. The local engine always runs in memory.
	Config *config.Config `yaml:"config,omitempty"`

	// Workers is the number of in-process remote engines attached,
	// numbered from 2 after any configured remotes.
	Workers int `yaml:"workers,omitempty"`

	// Setup seeds engines with SQL after the runtime is set up and
	// before outputs are bound.
	Setup []Exec `yaml:"setup,omitempty"`

	// Steps run in order. Shipments are drained after each step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Exec runs SQL on one engine. Engine 0 and 1 both mean the local engine.
type Exec struct {
	Engine int    `yaml:"engine,omitempty"`
	SQL    string `yaml:"sql"`
}

// Step is one action against the runtime: an input, an SQL statement on
// an engine, or a new output.
type Step struct {
	// Input names the event table the rows go to.
	Input string `yaml:"input,omitempty"`

	// Row is shorthand for a single-row input.
	Row map[string]any `yaml:"row,omitempty"`

	// Rows are the records of a multi-row input. They share a timestep.
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Exec runs SQL on an engine.
	Exec *Exec `yaml:"exec,omitempty"`

	// AddOutput defines an output on the live runtime.
	AddOutput *Definition `yaml:"addOutput,omitempty"`

	// Error, when set, is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`

	// Expect maps output names to the rows each must hold after the
	// step. Only the columns named in an expected row are compared.
	Expect map[string][]map[string]any `yaml:"expect,omitempty"`
}

// Definition names a derived relation and its SELECT statement.
type Definition struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of output_rows, output_count, ledger_count, final_state.
	Type string `yaml:"type"`

	// Output names the output (output_rows, output_count).
	Output string `yaml:"output,omitempty"`

	// Rows are the expected rows, in any order (output_rows).
	Rows []map[string]any `yaml:"rows,omitempty"`

	// Count is the expected number of rows or ledger entries.
	Count int `yaml:"count,omitempty"`

	// Engine and Table locate the relation read by final_state.
	Engine int    `yaml:"engine,omitempty"`
	Table  string `yaml:"table,omitempty"`

	// Where selects the single row final_state checks.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds the expected values of that row (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertOutputRows  = "output_rows"
	AssertOutputCount = "output_count"
	AssertLedgerCount = "ledger_count"
	AssertFinalState  = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// program path relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Program != "" && !filepath.IsAbs(scenario.Program) {
		scenario.Program = filepath.Join(filepath.Dir(path), scenario.Program)
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without checking program paths.
func ParseScenario(data []byte) (*Scenario, error) {
	cfg := config.Default()
	scenario := Scenario{Config: &cfg}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	switch {
	case s.Program == "" && s.Source == "":
		return fmt.Errorf("program or source is required")
	case s.Program != "" && s.Source != "":
		return fmt.Errorf("program and source are mutually exclusive")
	case s.Program != "":
		if _, err := os.Stat(s.Program); os.IsNotExist(err) {
			return fmt.Errorf("program file not found: %s", s.Program)
		}
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if s.Config != nil {
		if err := s.Config.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, e := range s.Setup {
		if e.SQL == "" {
			return fmt.Errorf("setup[%d]: sql is required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	actions := 0
	if s.Input != "" {
		actions++
		if s.Row != nil && s.Rows != nil {
			return fmt.Errorf("steps[%d]: row and rows are mutually exclusive", index)
		}
		if s.Row == nil && len(s.Rows) == 0 {
			return fmt.Errorf("steps[%d]: input needs row or rows", index)
		}
	}
	if s.Exec != nil {
		actions++
		if s.Exec.SQL == "" {
			return fmt.Errorf("steps[%d].exec: sql is required", index)
		}
	}
	if s.AddOutput != nil {
		actions++
		if s.AddOutput.Name == "" || s.AddOutput.SQL == "" {
			return fmt.Errorf("steps[%d].addOutput: name and sql are required", index)
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of input, exec, addOutput is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOutputRows:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for output_rows", index)
		}
	case AssertOutputCount:
		if a.Output == "" {
			return fmt.Errorf("assertions[%d]: output is required for output_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertLedgerCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
