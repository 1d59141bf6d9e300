package cmd

import (
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/setguard/internal/lifecycle"
)

var (
	colorAccent = lipgloss.Color("#A8D8EA")
	colorMuted  = lipgloss.Color("#6c757d")
	colorGood   = lipgloss.Color("#4ECDC4")
	colorBad    = lipgloss.Color("#FF6B6B")
	colorWarn   = lipgloss.Color("#FFE66D")

	styleTitle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleLabel = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	styleGood  = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleBad   = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarn)
	styleCard  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// RenderStatus writes one card per report.
func RenderStatus(w io.Writer, reports []*lifecycle.Report) {
	for _, r := range reports {
		Printer.Fprintln(w, styleCard.Render(renderReport(r)))
	}
}

func renderReport(r *lifecycle.Report) string {
	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(styleLabel.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	b.WriteString(styleTitle.Render(Printer.Sprintf("%s (%s)", r.List, r.Kind)))
	b.WriteByte('\n')

	switch {
	case r.SetError != "":
		line("set", styleBad.Render(Printer.Sprintf("%s unavailable: %s", r.Set, r.SetError)))
	case r.SetExists:
		line("set", styleGood.Render(r.Set)+Printer.Sprintf(" %d entries, capacity %d", r.SetCount, r.SetCapacity))
	default:
		line("set", styleBad.Render(Printer.Sprintf("%s absent", r.Set)))
	}

	switch {
	case r.SeedFile == "":
		line("seed", styleWarn.Render("none configured"))
	case r.SeedPresent:
		line("seed", Printer.Sprintf("%s %d records, %d rejected", r.SeedFile, r.SeedCount, r.SeedRejected))
	default:
		line("seed", styleBad.Render(Printer.Sprintf("%s absent: %s", r.SeedFile, r.SeedError)))
	}

	switch {
	case r.RulesError != "":
		line("rules", styleBad.Render(Printer.Sprintf("unavailable: %s", r.RulesError)))
	case len(r.Rules) == 0:
		line("rules", styleBad.Render("absent"))
	default:
		for i, rule := range r.Rules {
			label := ""
			if i == 0 {
				label = "rules"
			}
			line(label, Printer.Sprintf("%-20s %-40s %d packets %d bytes", rule.Chain, rule.Tag, rule.Packets, rule.Bytes))
		}
	}

	switch {
	case r.LastPublish != nil:
		g := r.LastPublish
		line("published", Printer.Sprintf("%s from %s, %d entries (%s ago)",
			g.At.Format(time.RFC3339), g.Source, g.Count, r.GeneratedAt.Sub(g.At).Round(time.Second)))
	case r.StateError != "":
		line("published", styleBad.Render(Printer.Sprintf("unknown: %s", r.StateError)))
	default:
		line("published", styleWarn.Render("never"))
	}
	if r.Failures > 0 {
		line("failures", styleWarn.Render(Printer.Sprintf("%d", r.Failures)))
	}

	if len(r.Logs) > 0 {
		b.WriteString(styleLabel.Render("recent log"))
		b.WriteByte('\n')
		for _, e := range r.Logs {
			b.WriteString("  " + e.Raw + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
