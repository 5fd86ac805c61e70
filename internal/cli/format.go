package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	// fatih/color disables itself when stdout is not a TTY
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

var stdout io.Writer = os.Stdout

// PrintSuccess prints a success message with a checkmark
func PrintSuccess(msg string) {
	_, _ = successColor.Fprintf(stdout, "✓ %s\n", msg)
}

// PrintWarning prints a warning message with a warning symbol
func PrintWarning(msg string) {
	_, _ = warningColor.Fprintf(stdout, "⚠ %s\n", msg)
}

// PrintError prints an error message to stderr
func PrintError(msg string) {
	_, _ = errorColor.Fprintf(os.Stderr, "✗ %s\n", msg)
}

// PrintInfo prints an informational line
func PrintInfo(msg string) {
	fmt.Fprintln(stdout, msg)
}

// PrintField prints a "label: value" pair
func PrintField(label string, value interface{}) {
	_, _ = labelColor.Fprintf(stdout, "  %-16s", label+":")
	fmt.Fprintf(stdout, " %v\n", value)
}

// PrintDim prints a de-emphasized line
func PrintDim(msg string) {
	_, _ = dimColor.Fprintln(stdout, msg)
}

// PrintHeader prints a section header
func PrintHeader(title string) {
	_, _ = infoColor.Fprintf(stdout, "▸ %s\n", title)
}

// structured reports whether the user asked for machine-readable output,
// and if so writes v in that format.
func structured(v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(toPlain(v))
	}
	return false, nil
}

// toPlain round-trips v through JSON so YAML output uses the JSON field names.
func toPlain(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var plain interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return v
	}
	return plain
}
