// Package ui provides consistent styling and components for the wlrt CLI
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - consistent across the application
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("39")  // Bright blue
	ColorSecondary = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorInfo      = lipgloss.Color("86")  // Cyan

	// Neutral colors
	ColorText      = lipgloss.Color("252") // Light gray
	ColorSubtle    = lipgloss.Color("241") // Medium gray
	ColorMuted     = lipgloss.Color("238") // Dark gray
	ColorHighlight = lipgloss.Color("255") // White

	// Status colors
	ColorConnected    = ColorSuccess
	ColorDisconnected = ColorError
	ColorActive       = ColorPrimary
)

// Base styles - building blocks for other styles
var (
	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	BoldStyle = lipgloss.NewStyle().
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	SubheaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorMuted).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	ListItemStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary)
)

// Component-specific styles
var (
	ConnectedIndicator = lipgloss.NewStyle().
				Foreground(ColorConnected).
				Render("●")

	DisconnectedIndicator = lipgloss.NewStyle().
				Foreground(ColorDisconnected).
				Render("○")

	ControlsHeaderStyle = SubheaderStyle.
				MarginTop(1)

	ControlKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	ControlDescStyle = lipgloss.NewStyle().
				Foreground(ColorText)
)

// Table styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary).
				BorderBottom(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(ColorSubtle)

	TableSelectedStyle = lipgloss.NewStyle().
				Foreground(ColorHighlight).
				Background(ColorPrimary).
				Bold(false)
)

// Spinner presets
var SpinnerDot = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

var (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "!"
	IconClient  = "C"
)

// Helper functions for consistent formatting
func FormatControl(key, desc string) string {
	return ControlKeyStyle.Render(key) + " - " + ControlDescStyle.Render(desc)
}

func FormatStatus(connected bool, status string) string {
	indicator := DisconnectedIndicator
	if connected {
		indicator = ConnectedIndicator
	}
	return indicator + " " + status
}

func FormatListItem(item string, active bool) string {
	style := ListItemStyle
	if active {
		style = style.Foreground(ColorActive)
	}
	return "  • " + style.Render(item)
}

// CreateSeparator creates a horizontal line separator
func CreateSeparator(width int, char string) string {
	if width <= 0 {
		width = 50 // Default width
	}
	if char == "" {
		char = "─"
	}

	return lipgloss.NewStyle().
		Foreground(ColorSubtle).
		Render(strings.Repeat(char, width))
}
