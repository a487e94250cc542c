package harness

// TraceEvent records one step and the state of every output after it.
type TraceEvent struct {
	Step     int                         `json:"step"`
	Type     string                      `json:"type"` // "input", "exec" or "add_output"
	Target   string                      `json:"target"`
	Timestep int64                       `json:"timestep"`
	Error    string                      `json:"error,omitempty"`
	Outputs  map[string][]map[string]any `json:"outputs"`
}

// Trace event types.
const (
	EventInput     = "input"
	EventExec      = "exec"
	EventAddOutput = "add_output"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// Refreshes counts the callback invocations per output.
	Refreshes map[string]int `json:"refreshes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Refreshes: make(map[string]int),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
