package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/token"

	"github.com/roach88/camino/internal/playbook"
)

// LoadMode controls how errors are handled during playbook loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadedPlaybook pairs a compiled template with the source it came from.
type LoadedPlaybook struct {
	Template *playbook.Template
	Source   string
	Path     string
}

// LoadResult contains the results of loading playbooks from a directory.
type LoadResult struct {
	Playbooks []LoadedPlaybook
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during playbook loading.
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

// LoadPlaybooks compiles every CUE file under a directory.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadPlaybooks(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("playbook directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing playbook directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	// Find CUE files
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}

	for _, path := range cueFiles {
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("reading %s: %v", path, readErr)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		tmpl, compileErr := playbook.CompileSource(path, string(src))
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, path))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Playbooks = append(result.Playbooks, LoadedPlaybook{
			Template: tmpl,
			Source:   string(src),
			Path:     path,
		})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a playbook compile error to a LoadError with
// position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *playbook.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error

	// Playbook validation errors
	ErrCodePlaybookShape   = "E101" // Missing or malformed playbook block
	ErrCodePlaybookVersion = "E102" // Invalid version
	ErrCodePlaybookSteps   = "E103" // Missing or invalid steps
	ErrCodeInvalidType     = "E104" // Invalid field type
	ErrCodeCUESyntax       = "E105" // CUE parse/eval error
)

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "playbook", "id", "name", "purpose":
		return ErrCodePlaybookShape
	case "version":
		return ErrCodePlaybookVersion
	case "steps":
		return ErrCodePlaybookSteps
	case "type":
		return ErrCodeInvalidType
	case "cue":
		return ErrCodeCUESyntax
	default:
		return ErrCodeGeneric
	}
}
