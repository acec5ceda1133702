package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/wlrt/internal/control"
)

// StatusFunc fetches a fresh status snapshot.
type StatusFunc func() (*control.Status, error)

// DisconnectFunc ends a Wayland client by id.
type DisconnectFunc func(id uint32) error

type statusMsg struct {
	status *control.Status
	err    error
}

type tickMsg time.Time

type focusArea int

const (
	focusClients focusArea = iota
	focusToplevels
)

// WatchModel is a live view of a running compositor.
type WatchModel struct {
	fetch      StatusFunc
	disconnect DisconnectFunc
	interval   time.Duration

	clients   table.Model
	toplevels table.Model
	spinner   spinner.Model
	focus     focusArea

	status   *control.Status
	err      error
	notice   string
	width    int
	quitting bool
}

// NewWatchModel creates a watch view refreshed every interval. disconnect
// may be nil, in which case the disconnect key is disabled.
func NewWatchModel(fetch StatusFunc, disconnect DisconnectFunc, interval time.Duration) *WatchModel {
	styles := table.DefaultStyles()
	styles.Header = TableHeaderStyle
	styles.Selected = TableSelectedStyle

	clients := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "PID", Width: 8},
			{Title: "UID", Width: 6},
			{Title: "Objects", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
		table.WithStyles(styles),
	)
	toplevels := table.New(
		table.WithColumns([]table.Column{
			{Title: "Client", Width: 6},
			{Title: "Protocol", Width: 10},
			{Title: "Title", Width: 24},
			{Title: "App ID", Width: 16},
			{Title: "Mapped", Width: 6},
		}),
		table.WithHeight(8),
		table.WithStyles(styles),
	)

	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: SpinnerDot,
		FPS:    time.Second / 10,
	}
	s.Style = SpinnerStyle

	return &WatchModel{
		fetch:      fetch,
		disconnect: disconnect,
		interval:   interval,
		clients:    clients,
		toplevels:  toplevels,
		spinner:    s,
	}
}

// Init implements tea.Model
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.tick())
}

func (m *WatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		st, err := m.fetch()
		return statusMsg{status: st, err: err}
	}
}

func (m *WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.switchFocus()
			return m, nil
		case "r":
			return m, m.refresh()
		case "d":
			return m, m.disconnectSelected()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.setStatus(msg.status)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.focus == focusClients {
		m.clients, cmd = m.clients.Update(msg)
	} else {
		m.toplevels, cmd = m.toplevels.Update(msg)
	}
	return m, cmd
}

func (m *WatchModel) switchFocus() {
	if m.focus == focusClients {
		m.focus = focusToplevels
		m.clients.Blur()
		m.toplevels.Focus()
	} else {
		m.focus = focusClients
		m.toplevels.Blur()
		m.clients.Focus()
	}
}

func (m *WatchModel) disconnectSelected() tea.Cmd {
	if m.disconnect == nil || m.focus != focusClients {
		return nil
	}
	row := m.clients.SelectedRow()
	if row == nil {
		return nil
	}
	id, err := strconv.ParseUint(row[0], 10, 32)
	if err != nil {
		return nil
	}
	if err := m.disconnect(uint32(id)); err != nil {
		m.notice = ErrorStyle.Render(fmt.Sprintf("%s disconnect %d: %v", IconError, id, err))
		return nil
	}
	m.notice = SuccessStyle.Render(fmt.Sprintf("%s disconnected client %d", IconSuccess, id))
	return m.refresh()
}

func (m *WatchModel) setStatus(st *control.Status) {
	m.status = st

	rows := make([]table.Row, 0, len(st.Clients))
	for _, c := range st.Clients {
		rows = append(rows, table.Row{
			strconv.FormatUint(uint64(c.ID), 10),
			strconv.FormatInt(int64(c.PID), 10),
			strconv.FormatUint(uint64(c.UID), 10),
			strconv.Itoa(c.Objects),
		})
	}
	m.clients.SetRows(rows)

	rows = make([]table.Row, 0, len(st.Toplevels))
	for _, tl := range st.Toplevels {
		mapped := "no"
		if tl.Mapped {
			mapped = "yes"
		}
		rows = append(rows, table.Row{
			strconv.FormatUint(uint64(tl.Client), 10),
			tl.Protocol,
			tl.Title,
			tl.AppID,
			mapped,
		})
	}
	m.toplevels.SetRows(rows)
}

// Status returns the last snapshot received, or nil.
func (m *WatchModel) Status() *control.Status {
	return m.status
}

// View implements tea.Model
func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("wlrt watch"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(FormatStatus(false, ErrorStyle.Render(m.err.Error())))
	case m.status == nil:
		b.WriteString(m.spinner.View() + " " + SubtleStyle.Render("Waiting for compositor..."))
	default:
		b.WriteString(FormatStatus(true, fmt.Sprintf("%s  %d client(s)  %d global(s)  serial %d",
			BoldStyle.Render(m.status.Socket), len(m.status.Clients), len(m.status.Globals), m.status.Serial)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.sectionHeader("Clients", focusClients))
	b.WriteString("\n")
	b.WriteString(m.clients.View())
	b.WriteString("\n\n")
	b.WriteString(m.sectionHeader("Toplevels", focusToplevels))
	b.WriteString("\n")
	b.WriteString(m.toplevels.View())
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString("\n" + m.notice + "\n")
	}

	b.WriteString(ControlsHeaderStyle.Render("Controls"))
	b.WriteString("\n")
	controls := []string{
		FormatControl("tab", "Switch table"),
		FormatControl("r", "Refresh"),
	}
	if m.disconnect != nil {
		controls = append(controls, FormatControl("d", "Disconnect client"))
	}
	controls = append(controls, FormatControl("q", "Quit"))
	b.WriteString(strings.Join(controls, "  "))
	b.WriteString("\n")

	return b.String()
}

func (m *WatchModel) sectionHeader(title string, area focusArea) string {
	if m.focus == area {
		return SubheaderStyle.Foreground(ColorPrimary).Render("▸ " + title)
	}
	return SubheaderStyle.Render("  " + title)
}
