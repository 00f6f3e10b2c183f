package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/internal/view"
)

const (
	minWidth       = 72
	maxSignalRows  = 8
	maxClosedRows  = 5
	tickInterval   = time.Second
	waitingMessage = "Waiting for data..."
)

var (
	accent      = lipgloss.Color("39")
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

// Snapshot is everything one frame renders.
type Snapshot struct {
	View       view.Snapshot
	Connection stream.Status
	Alerts     *notify.Stats
	TakenAt    time.Time
}

type snapshotMsg Snapshot

type tickMsg time.Time

// promptMsg asks the operator for alert permission; the answer goes to reply.
type promptMsg struct {
	reply chan<- notify.Permission
}

type model struct {
	snapshot *Snapshot
	updates  <-chan Snapshot
	width    int
	height   int
	prompt   *promptMsg
	now      func() time.Time
}

func newModel(updates <-chan Snapshot) model {
	return model{updates: updates, now: time.Now}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case snapshotMsg:
		snap := Snapshot(msg)
		m.snapshot = &snap
		return m, m.waitForUpdate()
	case promptMsg:
		if m.prompt != nil {
			// One question at a time; the newer asker gets no answer.
			answer(&msg, notify.PermissionUndetermined)
			return m, nil
		}
		m.prompt = &msg
		return m, nil
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if m.prompt != nil {
		switch key {
		case "y", "Y":
			answer(m.prompt, notify.PermissionGranted)
			m.prompt = nil
			return m, nil
		case "n", "N":
			answer(m.prompt, notify.PermissionDenied)
			m.prompt = nil
			return m, nil
		}
	}
	switch key {
	case "ctrl+c", "q":
		if m.prompt != nil {
			answer(m.prompt, notify.PermissionUndetermined)
			m.prompt = nil
		}
		modelLog.Debug("quit requested from dashboard")
		return m, tea.Quit
	}
	return m, nil
}

func answer(p *promptMsg, perm notify.Permission) {
	select {
	case p.reply <- perm:
	default:
	}
}

func (m model) View() string {
	if m.snapshot == nil {
		return waitingMessage
	}
	snap := m.snapshot

	width := m.width - 4
	if width < minWidth {
		width = minWidth
	}
	half := width/2 - 1

	left := panelStyle.Width(half).Render(strings.Join([]string{
		m.renderPositions(snap, half),
		"",
		m.renderClosed(snap, half),
	}, "\n"))
	right := panelStyle.Width(half).Render(strings.Join([]string{
		m.renderPrecursors(snap, half),
		"",
		m.renderSignals(snap, half),
		"",
		m.renderLastAlert(snap),
	}, "\n"))

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(snap), body, m.renderFooter())
}

func (m model) renderHeader(snap *Snapshot) string {
	conn := snap.Connection
	indicator := downStyle.Render("● disconnected")
	if conn.Connected {
		indicator = upStyle.Render("● connected")
	}

	parts := []string{
		"tekaba",
		fmt.Sprintf("%s (%s)", indicator, conn.State),
		fmt.Sprintf("reconnects %d", conn.Reconnects),
	}
	if !conn.Connected && !conn.NextReconnectAt.IsZero() {
		if wait := conn.NextReconnectAt.Sub(m.now()); wait > 0 {
			parts = append(parts, fmt.Sprintf("retry in %s", wait.Round(time.Second)))
		}
	}
	if conn.LastError != "" && !conn.Connected {
		parts = append(parts, dimStyle.Render(truncate(conn.LastError, 40)))
	}
	parts = append(parts, m.now().Format("15:04:05"))
	return headerStyle.Render(strings.Join(parts, " | "))
}

func rule(width int) string {
	if width < 8 {
		width = 8
	}
	return strings.Repeat("─", width-4)
}

func (m model) renderPositions(snap *Snapshot, width int) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("Positions (%d)", len(snap.View.Positions))),
		rule(width),
	}
	if len(snap.View.Positions) == 0 {
		return strings.Join(append(lines, dimStyle.Render("no open positions")), "\n")
	}
	lines = append(lines, fmt.Sprintf("%-12s %-5s %12s %9s  %s", "SYMBOL", "DIR", "ENTRY", "PNL", "LAST"))
	for _, p := range snap.View.Positions {
		lines = append(lines, fmt.Sprintf("%-12s %-5s %12s %9s  %s",
			truncate(p.Symbol, 12),
			directionLabel(p.Direction),
			p.EntryPrice.String(),
			formatPnL(p.TotalPnL),
			notify.EventLabel(p.LastEvent),
		))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderClosed(snap *Snapshot, width int) string {
	lines := []string{titleStyle.Render("Recently closed"), rule(width)}
	if len(snap.View.Closed) == 0 {
		return strings.Join(append(lines, dimStyle.Render("none")), "\n")
	}
	for i, p := range snap.View.Closed {
		if i == maxClosedRows {
			break
		}
		lines = append(lines, fmt.Sprintf("%-12s %-5s %9s  %s",
			truncate(p.Symbol, 12),
			directionLabel(p.Direction),
			formatPnL(p.TotalPnL),
			notify.EventLabel(p.LastEvent),
		))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderPrecursors(snap *Snapshot, width int) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("Precursors (%d)", len(snap.View.Precursors))),
		rule(width),
	}
	if len(snap.View.Precursors) == 0 {
		return strings.Join(append(lines, dimStyle.Render("nothing forming")), "\n")
	}
	for _, p := range snap.View.Precursors {
		symbol := p.Symbol
		if symbol == "" {
			symbol = "?"
		}
		missing := "ready"
		if len(p.Missing) > 0 {
			missing = "missing " + strings.Join(p.Missing, ",")
		}
		lines = append(lines, fmt.Sprintf("%-12s %-5s %s", truncate(symbol, 12), directionLabel(p.Direction), missing))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderSignals(snap *Snapshot, width int) string {
	lines := []string{titleStyle.Render("Recent signals"), rule(width)}
	if len(snap.View.Signals) == 0 {
		return strings.Join(append(lines, dimStyle.Render("none yet")), "\n")
	}
	for i, s := range snap.View.Signals {
		if i == maxSignalRows {
			break
		}
		lines = append(lines, fmt.Sprintf("%s %-12s %-5s %-10s @ %s",
			s.ReceivedAt.Format("15:04:05"),
			truncate(s.Symbol, 12),
			directionLabel(s.Direction),
			truncate(s.Pattern, 10),
			s.Price.String(),
		))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderLastAlert(snap *Snapshot) string {
	if snap.Alerts == nil {
		return dimStyle.Render("alerts off")
	}
	a := snap.Alerts
	head := titleStyle.Render("Alerts") + dimStyle.Render(fmt.Sprintf(" %s, sent %d, failed %d, dropped %d", a.Permission, a.Sent, a.Failed, a.Dropped))
	if a.LastAlert == nil {
		return head
	}
	return head + "\n" + fmt.Sprintf("🔔 %s | %s", a.LastAlert.Title, a.LastAlert.Body)
}

func (m model) renderFooter() string {
	if m.prompt != nil {
		return warnStyle.Render("Show alerts for signals and position events? [y/n]")
	}
	return dimStyle.Render("q quit")
}

func directionLabel(dir string) string {
	switch strings.ToUpper(dir) {
	case "LONG":
		return upStyle.Render("LONG")
	case "SHORT":
		return downStyle.Render("SHORT")
	}
	return dir
}

func formatPnL(pnl decimal.NullDecimal) string {
	if !pnl.Valid {
		return "-"
	}
	text := pnl.Decimal.StringFixed(2) + "%"
	if pnl.Decimal.IsNegative() {
		return downStyle.Render(text)
	}
	return upStyle.Render(text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func (m model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.updates
		if !ok {
			return nil
		}
		for {
			select {
			case latest, ok := <-m.updates:
				if !ok {
					return snapshotMsg(snap)
				}
				snap = latest
			default:
				return snapshotMsg(snap)
			}
		}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
