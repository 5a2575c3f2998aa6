// Package ui renders redis-embedded console output
package ui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// UI writes human-facing output. Logs go through slog, not here.
type UI struct {
	out io.Writer
	err io.Writer
}

// New writes to stdout and stderr.
func New() *UI {
	return NewWithWriters(os.Stdout, os.Stderr)
}

// NewWithWriters writes to the given streams.
func NewWithWriters(out, errOut io.Writer) *UI {
	return &UI{out: out, err: errOut}
}

func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Member is one row of a topology summary.
type Member struct {
	Role  string
	Ports []int
	PID   int
}

// Summary prints a boxed overview of a running topology.
func (ui *UI) Summary(name, mode string, members []Member) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render(name), subtleStyle.Render(mode))

	roleWidth := len("ROLE")
	for _, m := range members {
		roleWidth = max(roleWidth, len(m.Role))
	}

	fmt.Fprintf(&b, "%s\n", subtleStyle.Render(fmt.Sprintf("%-*s  %-12s  %s", roleWidth, "ROLE", "PORTS", "PID")))
	for i, m := range members {
		pid := "-"
		if m.PID > 0 {
			pid = strconv.Itoa(m.PID)
		}
		fmt.Fprintf(&b, "%-*s  %-12s  %s", roleWidth, m.Role, joinPorts(m.Ports), pid)
		if i < len(members)-1 {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintln(ui.out, boxStyle.Render(b.String()))
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
