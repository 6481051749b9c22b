package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/bccache/internal/cli/config"
	"github.com/conduit-lang/bccache/internal/driver"
	"github.com/conduit-lang/bccache/internal/metainfo"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level       ErrorLevel
	Context     string
	Problem     string
	Details     []string
	Consequence string
	// Suggestions are close names printed as "Did you mean"
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message
//
// Example output:
//
//	❌ BUILD FAILED
//	   .bccache/foo.o: lock failed while acquiring lock: timed out
//
//	   Nothing was published.
//
//	   → Another build holds the output; retry once it finishes
//	   → Get help: bccache build --help
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var attr color.Attribute
	var symbol string
	switch opts.Level {
	case ErrorLevelWarning:
		attr, symbol = color.FgYellow, "⚠️"
	case ErrorLevelInfo:
		attr, symbol = color.FgCyan, "ℹ️"
	default:
		attr, symbol = color.FgRed, "❌"
	}
	header := style(opts.NoColor, attr, color.Bold)
	body := style(opts.NoColor, attr)

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s\n", symbol, strings.ToUpper(opts.Context))
		body.Fprintf(&b, "   %s\n", opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	for _, d := range opts.Details {
		body.Fprintf(&b, "     - %s\n", d)
	}

	if opts.Consequence != "" {
		b.WriteString("\n")
		body.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		style(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := style(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	return style(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// BuildFailure formats a failed build. Errors that are not build errors
// are reported with the generic build help.
func BuildFailure(err error, command string, noColor bool) string {
	opts := ErrorOptions{
		Level:   ErrorLevelError,
		Context: "BUILD FAILED",
		Problem: err.Error(),
		NoColor: noColor,
	}

	var be *driver.BuildError
	if errors.As(err, &be) {
		opts.Problem = be.Error()
		opts.Consequence = consequence(be.State)
		opts.HelpCommands = append(opts.HelpCommands, be.Kind.Suggestion())
		if be.Kind.Retryable() {
			opts.Level = ErrorLevelWarning
			opts.Context = "OUTPUT BUSY"
		}
	}
	opts.HelpCommands = append(opts.HelpCommands, fmt.Sprintf("Get help: bccache %s --help", command))
	return FormatError(opts)
}

func consequence(s driver.State) string {
	switch s {
	case driver.WritingSidecar:
		return "The object was written without a sidecar and will be rebuilt next time."
	case driver.WritingObject:
		return "The previous cache entry was invalidated."
	default:
		return "Nothing was published."
	}
}

// NotCached reports a unit without a usable cache entry, with close names
// from the cache directory
func NotCached(name, reason string, similar []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelWarning,
		Context:     "NOT CACHED",
		Problem:     fmt.Sprintf("No usable cache entry for '%s'.", name),
		Consequence: reason,
		Suggestions: similar,
		HelpCommands: []string{
			fmt.Sprintf("Build it: bccache build %s", name),
		},
		NoColor: noColor,
	})
}

// InvalidSidecar reports a sidecar that cannot be decoded
func InvalidSidecar(path string, err error, noColor bool) string {
	opts := ErrorOptions{
		Level:   ErrorLevelError,
		Context: "INVALID SIDECAR",
		Problem: fmt.Sprintf("Cannot read '%s'.", path),
		Details: []string{err.Error()},
		HelpCommands: []string{
			"Remove stale entries: bccache clean",
		},
		NoColor: noColor,
	}
	var fe *metainfo.FormatError
	if errors.As(err, &fe) {
		opts.Consequence = "The owning object will be rebuilt on its next build."
	}
	return FormatError(opts)
}

// ConfigError creates a standardized configuration error. Validation
// errors list every offending field.
func ConfigError(err error, noColor bool) string {
	opts := ErrorOptions{
		Level:   ErrorLevelError,
		Context: "CONFIGURATION ERROR",
		Problem: err.Error(),
		HelpCommands: []string{
			"View config: cat bccache.yml",
			"Get help: bccache --help",
		},
		NoColor: noColor,
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		opts.Problem = "The configuration is invalid."
		for _, f := range verr.Fields {
			opts.Details = append(opts.Details, f.Error())
		}
	}
	return FormatError(opts)
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelWarning,
		Problem: message,
		NoColor: noColor,
	})
}
