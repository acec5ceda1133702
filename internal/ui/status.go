package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/wlrt/internal/control"
)

// RenderStatus formats a server status snapshot for the terminal.
func RenderStatus(st *control.Status) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.UnsetMarginBottom().Render("wlrt Compositor Status"))
	b.WriteString("\n")
	b.WriteString(CreateSeparator(40, ""))
	b.WriteString("\n")
	b.WriteString(FormatStatus(true, fmt.Sprintf("Running on %s", BoldStyle.Render(st.Socket))))
	b.WriteString("\n")
	b.WriteString(InfoStyle.Render(fmt.Sprintf("serial %d, %d export(s), %d relation(s)", st.Serial, st.Exports, st.Relations)))
	b.WriteString("\n\n")

	b.WriteString(SubheaderStyle.Render(fmt.Sprintf("Globals (%d)", len(st.Globals))))
	b.WriteString("\n")
	for _, g := range st.Globals {
		line := fmt.Sprintf("%-22s v%-2d name %-3d binds %d", g.Interface, g.Version, g.Name, g.Binds)
		b.WriteString(FormatListItem(line, g.Binds > 0))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(SubheaderStyle.Render(fmt.Sprintf("Clients (%d)", len(st.Clients))))
	b.WriteString("\n")
	if len(st.Clients) == 0 {
		b.WriteString(MutedStyle.Render("  no clients connected"))
		b.WriteString("\n")
	}
	for _, c := range st.Clients {
		line := fmt.Sprintf("%s client %-4d pid %-7d uid %-6d %d object(s)", IconClient, c.ID, c.PID, c.UID, c.Objects)
		b.WriteString(FormatListItem(line, false))
		b.WriteString("\n")
	}

	if len(st.Toplevels) > 0 {
		b.WriteString("\n")
		b.WriteString(SubheaderStyle.Render(fmt.Sprintf("Toplevels (%d)", len(st.Toplevels))))
		b.WriteString("\n")
		for _, tl := range st.Toplevels {
			title := tl.Title
			if title == "" {
				title = MutedStyle.Render("(untitled)")
			}
			line := fmt.Sprintf("%s [%s] client %d via %s", title, tl.AppID, tl.Client, tl.Protocol)
			if !tl.Mapped {
				line += " " + WarningStyle.Render(IconWarning+" unmapped")
			}
			b.WriteString(FormatListItem(line, tl.Mapped))
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().PaddingLeft(1).Render(strings.TrimRight(b.String(), "\n"))
}
