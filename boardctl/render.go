package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/notify"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted  = ac("240", "243")
	colorAccent = ac("25", "75")
	colorWarn   = ac("130", "214")

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	unreadStyle  = lipgloss.NewStyle().Bold(true)
	columnStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorMuted).Padding(0, 1).Width(24)
	toastStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn)
)

// renderBoard lays the columns out side by side.
func renderBoard(v boardView) string {
	cols := make([]string, 0, len(v.Columns))
	for _, c := range v.Columns {
		var b strings.Builder
		b.WriteString(headingStyle.Render(fmt.Sprintf("%s (%d)", c.Label, len(c.Tasks))))
		for _, t := range c.Tasks {
			b.WriteString("\n" + t.Title)
			b.WriteString("\n" + mutedStyle.Render(t.ID))
		}
		cols = append(cols, columnStyle.Render(b.String()))
	}
	title := headingStyle.Render(v.Workspace.Name) + " " + mutedStyle.Render(v.Workspace.ID)
	return lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func renderToastChange(ch notify.ToastChange) string {
	ev := ch.Toast.Event
	switch ch.State {
	case notify.ToastVisible:
		body := ev.Message + "\n" + mutedStyle.Render(ev.WorkspaceName+" · "+ch.Toast.TTL.Round(time.Millisecond).String())
		return toastStyle.Render(body)
	case notify.ToastDismissed:
		return mutedStyle.Render("dismissed: " + ev.Message)
	default:
		return mutedStyle.Render("expired: " + ev.Message)
	}
}

func renderHistory(n notifications) string {
	if len(n.Items) == 0 {
		return mutedStyle.Render("no notifications")
	}
	var b strings.Builder
	b.WriteString(headingStyle.Render(fmt.Sprintf("%d unread", n.Unread)))
	for _, it := range n.Items {
		line := it.CreatedAt.Local().Format("15:04") + "  " + it.Message
		if it.Read {
			line = mutedStyle.Render(line)
		} else {
			line = unreadStyle.Render("• " + line)
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

func renderMovements(recs []domain.MovementRecord) string {
	if len(recs) == 0 {
		return mutedStyle.Render("no movements")
	}
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = fmt.Sprintf("%s  %-16s → %-16s %s",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.FromStatus.Label(), r.ToStatus.Label(),
			mutedStyle.Render(r.ActorID))
	}
	return strings.Join(lines, "\n")
}

func renderMoveFailure(err *moveFailedError) string {
	return warnStyle.Render(err.Error())
}

// columnFor returns the column holding taskID, used to fill in the source
// stage of a move.
func columnFor(v boardView, taskID string) (board.Column, bool) {
	for _, c := range v.Columns {
		for _, t := range c.Tasks {
			if t.ID == taskID {
				return c, true
			}
		}
	}
	return board.Column{}, false
}
