package report

import (
	"log/slog"
)

// Reporter applies the propagation policy for user and internal errors.
// It is immutable after construction and safe for concurrent use.
type Reporter struct {
	strict bool
	logger *slog.Logger
}

// New creates a Reporter. A nil logger uses slog.Default().
func New(strict bool, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{strict: strict, logger: logger}
}

// Strict reports whether errors are returned rather than swallowed.
func (r *Reporter) Strict() bool { return r.strict }

// Logger returns the logger errors are written to.
func (r *Reporter) Logger() *slog.Logger { return r.logger }

// User reports a user error. Strict mode returns err; lenient mode logs
// it and returns nil.
func (r *Reporter) User(err error) error {
	return r.report("user error", err)
}

// Internal reports a compiler or planner invariant violation. Strict
// mode returns err; lenient mode logs it and returns nil.
func (r *Reporter) Internal(err error) error {
	return r.report("internal error", err)
}

// Transport logs a transport failure with the offending context. It
// never returns an error; the affected relation misses this cycle.
func (r *Reporter) Transport(err error, attrs ...any) {
	if err == nil {
		return
	}
	r.logger.Warn("transport error", append([]any{"error", err}, attrs...)...)
}

func (r *Reporter) report(class string, err error) error {
	if err == nil {
		return nil
	}
	if r.strict {
		return err
	}
	r.logger.Error(class, "error", err)
	return nil
}
