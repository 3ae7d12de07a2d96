package main

import (
	"fmt"
	"io"
	"log"

	"github.com/charmbracelet/lipgloss"
)

// reporter prints "[INFO]" and "[WARN]" lines. Prefixes are colored only
// when w is a terminal.
type reporter struct {
	logger *log.Logger
	info   lipgloss.Style
	warn   lipgloss.Style
}

func newReporter(w io.Writer) *reporter {
	r := lipgloss.NewRenderer(w)
	return &reporter{
		logger: log.New(w, "", 0),
		info:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		warn:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffb86c")),
	}
}

func (r *reporter) Infof(format string, args ...any) {
	r.logger.Println(r.info.Render("[INFO]") + " " + fmt.Sprintf(format, args...))
}

func (r *reporter) Warnf(format string, args ...any) {
	r.logger.Println(r.warn.Render("[WARN]") + " " + fmt.Sprintf(format, args...))
}

// Writer exposes the underlying stream for subprocess output.
func (r *reporter) Writer() io.Writer {
	return r.logger.Writer()
}
