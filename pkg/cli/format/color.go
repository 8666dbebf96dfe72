// Package format renders CLI output: colored status labels and tables.
package format

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

var (
	successColor   = color.New(color.FgGreen)
	warningColor   = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	infoColor      = color.New(color.FgCyan)
	highlightColor = color.New(color.FgCyan, color.Bold)
	dimColor       = color.New(color.FgHiBlack)

	runningColor  = color.New(color.FgGreen, color.Bold)
	pendingColor  = color.New(color.FgYellow, color.Bold)
	failedColor   = color.New(color.FgRed, color.Bold)
	finishedColor = color.New(color.FgHiBlack, color.Bold)
)

func init() {
	// fatih/color already honours NO_COLOR and non-terminal stdout
	if _, ok := os.LookupEnv("KADALI_NO_COLOR"); ok {
		EnableColor(false)
	}
}

// EnableColor enables or disables colored output globally.
func EnableColor(enable bool) {
	color.NoColor = !enable
	if enable {
		pterm.EnableStyling()
	} else {
		pterm.DisableStyling()
	}
}

// IsColorEnabled returns whether colored output is enabled.
func IsColorEnabled() bool {
	return !color.NoColor
}

// Success formats a message as a success (green)
func Success(format string, a ...interface{}) string {
	return successColor.Sprintf(format, a...)
}

// Warning formats a message as a warning (yellow)
func Warning(format string, a ...interface{}) string {
	return warningColor.Sprintf(format, a...)
}

// Error formats a message as an error (red)
func Error(format string, a ...interface{}) string {
	return errorColor.Sprintf(format, a...)
}

// Info formats a message as info (cyan)
func Info(format string, a ...interface{}) string {
	return infoColor.Sprintf(format, a...)
}

func Dim(format string, a ...interface{}) string {
	return dimColor.Sprintf(format, a...)
}

// Label formats a key and value with a label style
func Label(key, value string) string {
	return fmt.Sprintf("%s %s", highlightColor.Sprint(key+":"), value)
}

// StatusLabel colors a cluster or tenant status by what it means for the user.
func StatusLabel(status string) string {
	switch strings.ToUpper(status) {
	case "RUNNING", "ACTIVE":
		return runningColor.Sprint(status)
	case "CREATING", "IDLE", "TERMINATING":
		return pendingColor.Sprint(status)
	case "ERROR", "SUSPENDED":
		return failedColor.Sprint(status)
	case "TERMINATED":
		return finishedColor.Sprint(status)
	default:
		return status
	}
}
