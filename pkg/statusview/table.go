// Package statusview renders boot status for the terminal, as a table or
// as a live view that follows the boot until it finishes.
package statusview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jaspreet-dot-casa/cinit/pkg/status"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

const (
	stageWidth    = 16
	stateWidth    = 13
	durationWidth = 10
)

// RenderTable renders the summary for "cinit status". With long set it
// adds the boot details, stage timings and every error message.
func RenderTable(sum status.Summary, long bool) string {
	return renderTable(sum, long, nil)
}

// renderTable renders the summary. spin, when set, decorates running stages.
func renderTable(sum status.Summary, long bool, spin func() string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("status:"), RenderState(sum.State))
	if !long {
		return b.String()
	}

	if sum.Detail != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("detail:"), sum.Detail)
	}
	if sum.Datasource != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("datasource:"), sum.Datasource)
	}
	if sum.BootID != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("boot id:"), sum.BootID)
	}
	if sum.LastUpdate != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("last update:"), sum.LastUpdate)
	}

	if len(sum.Stages) > 0 {
		b.WriteString("\n")
		b.WriteString(TableHeaderStyle.Render(row("STAGE", "STATE", "DURATION", "STARTED")))
		b.WriteString("\n")
		for _, st := range sum.Stages {
			state := string(st.State)
			if spin != nil && st.State == status.StateRunning {
				state = spin() + " " + state
			}
			b.WriteString(StateColor(st.State).Render(row(st.Name, state, duration(st), started(st))))
			b.WriteString("\n")
		}
	}

	writeMessages(&b, "errors", sum.Errors, ErrorStyle)
	writeMessages(&b, "recoverable errors", sum.RecoverableErrors, WarningStyle)
	return b.String()
}

func row(stage, state, took, when string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(stageWidth).Render(stage),
		lipgloss.NewStyle().Width(stateWidth).Render(state),
		lipgloss.NewStyle().Width(durationWidth).Render(took),
		when,
	)
}

func duration(st status.StageSummary) string {
	d := st.Duration()
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func started(st status.StageSummary) string {
	if st.Start == nil {
		return "-"
	}
	return utils.FormatTimeAgo(*st.Start)
}

func writeMessages(b *strings.Builder, title string, msgs []string, style lipgloss.Style) {
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", BoldStyle.Render(title+":"))
	for _, m := range msgs {
		fmt.Fprintf(b, "  - %s\n", style.Render(m))
	}
}
