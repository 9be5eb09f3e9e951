// Package color styles terminal output of the physio CLI.
package color

import (
	"github.com/fatih/color"
)

var (
	promptColor    = color.New(color.FgCyan, color.Bold)
	infoColor      = color.New(color.FgGreen)
	warningColor   = color.New(color.FgYellow, color.Bold)
	errorColor     = color.New(color.FgRed, color.Bold)
	assistantColor = color.New(color.FgHiYellow)
	userColor      = color.New(color.FgHiCyan)
	mutedColor     = color.New(color.FgHiBlack)
)

func Prompt(s string) string {
	return promptColor.Sprint(s)
}

func Info(s string) string {
	return infoColor.Sprint(s)
}

func Warning(s string) string {
	return warningColor.Sprint(s)
}

func Error(s string) string {
	return errorColor.Sprint(s)
}

// Role colors a transcript speaker label.
func Role(role, s string) string {
	switch role {
	case "assistant":
		return assistantColor.Sprint(s)
	case "user":
		return userColor.Sprint(s)
	}
	return mutedColor.Sprint(s)
}

func Muted(s string) string {
	return mutedColor.Sprint(s)
}

// Disable turns styling off, e.g. when stdout is not a terminal.
func Disable() {
	color.NoColor = true
}
