// Completion: 100% - Error handling complete, clear and helpful messages
package driver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xyproto/thumbjit/internal/thumb"
)

// ErrorLevel indicates the severity of an error
type ErrorLevel int

const (
	LevelWarning ErrorLevel = iota
	LevelError
	LevelFatal
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// ErrorCategory classifies the type of error
type ErrorCategory int

const (
	CategorySyntax ErrorCategory = iota
	CategorySemantic
	CategoryCodegen
	CategoryInternal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategorySemantic:
		return "semantic"
	case CategoryCodegen:
		return "codegen"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// SourceLocation represents a position in a source file
type SourceLocation struct {
	File   string
	Line   int
	Column int
	Length int // Length of the offending token
}

func (loc SourceLocation) String() string {
	if loc.File == "" {
		return fmt.Sprintf("%d:%d", loc.Line, loc.Column)
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}

// ErrorContext provides additional context for an error
type ErrorContext struct {
	SourceLine string // The actual line of source
	Suggestion string // "did you mean 'x'?"
	HelpText   string
}

// CompilerError is a single source-located diagnostic
type CompilerError struct {
	Level    ErrorLevel
	Category ErrorCategory
	Message  string
	Location SourceLocation
	Context  ErrorContext
	Err      error // underlying emitter fault, for codegen errors
}

// Error implements the error interface
func (e CompilerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

// Unwrap exposes the emitter fault so callers can classify it with errors.Is
func (e CompilerError) Unwrap() error {
	return e.Err
}

// Format returns the error with its source line, a caret and any help
func (e CompilerError) Format(useColor bool) string {
	var sb strings.Builder

	paint := func(code, s string) {
		if useColor {
			sb.WriteString(code)
		}
		sb.WriteString(s)
		if useColor {
			sb.WriteString("\033[0m")
		}
	}

	header := "\033[1;31m" // Bold red
	if e.Level == LevelWarning {
		header = "\033[1;33m"
	}
	paint(header, e.Level.String()+": ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	paint("\033[1;34m", "  --> "+e.Location.String())
	sb.WriteString("\n")

	if e.Context.SourceLine != "" {
		lineNum := fmt.Sprintf("%d", e.Location.Line)
		padding := strings.Repeat(" ", len(lineNum)+1)

		sb.WriteString(padding + "|\n")
		sb.WriteString(lineNum + " | " + e.Context.SourceLine + "\n")
		sb.WriteString(padding + "| ")

		if e.Location.Column > 0 {
			sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			paint("\033[1;31m", strings.Repeat("^", max(e.Location.Length, 1)))
			sb.WriteString("\n")
		}
	}

	if e.Context.Suggestion != "" {
		paint("\033[1;32m", "   help: ")
		sb.WriteString(e.Context.Suggestion)
		sb.WriteString("\n")
	}

	if e.Context.HelpText != "" {
		paint("\033[1;36m", "   note: ")
		sb.WriteString(e.Context.HelpText)
		sb.WriteString("\n")
	}

	return sb.String()
}

// ErrorCollector accumulates diagnostics during a compile
type ErrorCollector struct {
	errors    []CompilerError
	warnings  []CompilerError
	maxErrors int
	lines     []string
}

// NewErrorCollector creates a new error collector
func NewErrorCollector(maxErrors int) *ErrorCollector {
	if maxErrors <= 0 {
		maxErrors = 10 // stop after 10 errors
	}
	return &ErrorCollector{maxErrors: maxErrors}
}

// SetSourceCode stores the source so diagnostics can quote it
func (ec *ErrorCollector) SetSourceCode(source string) {
	ec.lines = strings.Split(source, "\n")
}

// AddError adds a diagnostic, filling in its source line
func (ec *ErrorCollector) AddError(err CompilerError) {
	if err.Context.SourceLine == "" {
		err.Context.SourceLine = ec.sourceLine(err.Location.Line)
	}
	if err.Level == LevelWarning {
		ec.warnings = append(ec.warnings, err)
		return
	}
	ec.errors = append(ec.errors, err)
}

// AddWarning adds a warning
func (ec *ErrorCollector) AddWarning(warn CompilerError) {
	warn.Level = LevelWarning
	ec.AddError(warn)
}

func (ec *ErrorCollector) sourceLine(lineNum int) string {
	if lineNum <= 0 || lineNum > len(ec.lines) {
		return ""
	}
	return strings.TrimRight(ec.lines[lineNum-1], "\r")
}

// HasErrors returns true if any errors were collected
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// Errors returns the collected errors in source order of discovery
func (ec *ErrorCollector) Errors() []CompilerError {
	return ec.errors
}

// Warnings returns the collected warnings
func (ec *ErrorCollector) Warnings() []CompilerError {
	return ec.warnings
}

// ErrorCount returns the number of errors
func (ec *ErrorCollector) ErrorCount() int {
	return len(ec.errors)
}

// WarningCount returns the number of warnings
func (ec *ErrorCollector) WarningCount() int {
	return len(ec.warnings)
}

// ShouldStop returns true if we've hit the error limit
func (ec *ErrorCollector) ShouldStop() bool {
	return len(ec.errors) >= ec.maxErrors
}

// First returns the first error, or nil
func (ec *ErrorCollector) First() error {
	if len(ec.errors) == 0 {
		return nil
	}
	return ec.errors[0]
}

// Report formats all errors and warnings for display
func (ec *ErrorCollector) Report(useColor bool) string {
	var sb strings.Builder

	for i, err := range ec.errors {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(err.Format(useColor))
	}
	for i, warn := range ec.warnings {
		if i > 0 || len(ec.errors) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(warn.Format(useColor))
	}

	if len(ec.errors) > 0 || len(ec.warnings) > 0 {
		sb.WriteString("\n")
		if len(ec.errors) > 0 {
			if useColor {
				sb.WriteString("\033[1;31m")
			}
			fmt.Fprintf(&sb, "%d error(s)", len(ec.errors))
			if useColor {
				sb.WriteString("\033[0m")
			}
		}
		if len(ec.warnings) > 0 {
			if len(ec.errors) > 0 {
				sb.WriteString(", ")
			}
			if useColor {
				sb.WriteString("\033[1;33m")
			}
			fmt.Fprintf(&sb, "%d warning(s)", len(ec.warnings))
			if useColor {
				sb.WriteString("\033[0m")
			}
		}
		sb.WriteString(" found\n")
	}

	return sb.String()
}

// Clear resets the error collector
func (ec *ErrorCollector) Clear() {
	ec.errors = nil
	ec.warnings = nil
}

// SyntaxError creates a syntax error
func SyntaxError(message string, loc SourceLocation) CompilerError {
	return CompilerError{
		Level:    LevelError,
		Category: CategorySyntax,
		Message:  message,
		Location: loc,
	}
}

// UnknownNameError reports an unknown mnemonic, register or symbol,
// offering the closest spellings
func UnknownNameError(what, name string, loc SourceLocation, near []string) CompilerError {
	err := CompilerError{
		Level:    LevelError,
		Category: CategorySemantic,
		Message:  fmt.Sprintf("unknown %s '%s'", what, name),
		Location: loc,
	}
	switch len(near) {
	case 0:
	case 1:
		err.Context.Suggestion = fmt.Sprintf("did you mean '%s'?", near[0])
	default:
		err.Context.Suggestion = fmt.Sprintf("did you mean one of: %s?", strings.Join(near, ", "))
	}
	return err
}

// CodegenError wraps an emitter fault raised while compiling a statement
func CodegenError(fault error, loc SourceLocation) CompilerError {
	err := CompilerError{
		Level:    LevelError,
		Category: CategoryCodegen,
		Message:  fault.Error(),
		Location: loc,
		Err:      fault,
	}
	switch {
	case errors.Is(fault, thumb.ErrRange):
		err.Context.HelpText = "the operand does not fit any encoding of this instruction"
	case errors.Is(fault, thumb.ErrResource):
		err.Context.HelpText = "raise max-code in thumbjit.toml or THUMBJIT_MAX_CODE"
	case errors.Is(fault, thumb.ErrProtocol):
		err.Context.HelpText = "the instruction is not allowed at this point of the program"
	}
	return err
}

// FatalError creates a fatal internal error
func FatalError(message string, loc SourceLocation) CompilerError {
	return CompilerError{
		Level:    LevelFatal,
		Category: CategoryInternal,
		Message:  message,
		Location: loc,
		Context: ErrorContext{
			HelpText: "This is an internal compiler error. Please report this bug.",
		},
	}
}
