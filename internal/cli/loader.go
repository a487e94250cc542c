package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/diel/internal/compiler"
	"github.com/roach88/diel/internal/ir"
)

// LoadError represents an error that occurred while loading a program.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProgram reads a DIEL program from a .cue file, or from every .cue
// file of a directory unified as one CUE package.
func LoadProgram(path string) (*ir.Ast, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program: %v", err)}
	}
	if !info.IsDir() {
		ast, err := compiler.LoadProgram(path)
		if err != nil {
			return nil, convertCompileError(err)
		}
		return ast, nil
	}

	files, err := FindCUEFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	ast, err := compiler.CompileProgram(value)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return ast, nil
}

// FindCUEFiles lists the .cue files directly in dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants shared by all commands. Program validation codes
// (E1xx to E3xx) come from the compiler.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No CUE files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeCompile      = "E008" // Planning failed
	ErrCodeConfig       = "E009" // Bad configuration
	ErrCodeBadKind      = "E010" // Unknown relation kind
	ErrCodeBadSQL       = "E011" // Selection does not parse
	ErrCodeBadColumns   = "E012" // Malformed column declaration
	ErrCodeBadRemote    = "E013" // Invalid engine id
	ErrCodeBadConstrain = "E014" // Malformed constraint
)

// MapFieldToErrorCode maps the field of a compile error, such as
// "clicks.sql" or "clicks.columns[0].type", to an error code.
func MapFieldToErrorCode(field string) string {
	switch suffix := fieldSuffix(field); suffix {
	case "kind":
		return ErrCodeBadKind
	case "sql":
		return ErrCodeBadSQL
	case "columns", "type", "name", "default":
		return ErrCodeBadColumns
	case "remote":
		return ErrCodeBadRemote
	case "constraints", "check", "notNull", "unique", "primaryKey":
		return ErrCodeBadConstrain
	}
	return ErrCodeGeneric
}

// fieldSuffix returns the last path element of field, without index.
func fieldSuffix(field string) string {
	start := 0
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == '.' {
			start = i + 1
			break
		}
	}
	s := field[start:]
	for i := 0; i < len(s); i++ {
		if s[i] == '[' {
			return s[:i]
		}
	}
	return s
}
