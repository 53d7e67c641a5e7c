// Package color provides terminal color output for au.
// NO_COLOR and non-terminal stdout are handled by fatih/color.
package color

import (
	"fmt"
	"os"

	fcolor "github.com/fatih/color"
)

// Init applies the --no-color flag and TERM=dumb on top of fatih/color's own detection.
func Init(noColorFlag bool) {
	if noColorFlag || os.Getenv("TERM") == "dumb" {
		Disable()
	}
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	return !fcolor.NoColor
}

// Disable turns off color output.
func Disable() {
	fcolor.NoColor = true
}

// Enable turns on color output.
func Enable() {
	fcolor.NoColor = false
}

var (
	green  = fcolor.New(fcolor.FgGreen)
	red    = fcolor.New(fcolor.FgRed)
	yellow = fcolor.New(fcolor.FgYellow)
	cyan   = fcolor.New(fcolor.FgCyan)
	bold   = fcolor.New(fcolor.Bold)
	faint  = fcolor.New(fcolor.Faint)
)

// Success formats a success message in green.
func Success(s string) string {
	return green.Sprint(s)
}

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string {
	return green.Sprint(fmt.Sprintf(format, args...))
}

// Error formats an error message in red.
func Error(s string) string {
	return red.Sprint(s)
}

// Warning formats a warning message in yellow.
func Warning(s string) string {
	return yellow.Sprint(s)
}

// Warningf formats a warning message with printf-style arguments.
func Warningf(format string, args ...any) string {
	return yellow.Sprint(fmt.Sprintf(format, args...))
}

// Info formats an informational message in cyan.
func Info(s string) string {
	return cyan.Sprint(s)
}

// Header formats a header in bold.
func Header(s string) string {
	return bold.Sprint(s)
}

// Dim formats secondary information.
func Dim(s string) string {
	return faint.Sprint(s)
}

// Highlight highlights paths and IDs in yellow.
func Highlight(s string) string {
	return yellow.Sprint(s)
}
