package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
)

// statusLabel pads and colours a run or entity status.
func statusLabel(status string, width int) string {
	padded := fmt.Sprintf("%-*s", width, status)
	switch status {
	case "success", "completed":
		return successStyle.Render(padded)
	case "error", "failed":
		return errorStyle.Render(padded)
	case "running", "pending":
		return warningStyle.Render(padded)
	default:
		return padded
	}
}
