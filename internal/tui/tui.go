// Package tui renders a live board of a period's rotation ring.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncate cuts s to at most width display cells, marking the cut with "...".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func fit(s string, width int) string {
	return padToWidth(truncate(s, width), width)
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return fit(text, width)
	}
	return "│" + fit(text, width-2) + "│"
}

// Header describes the board as a whole.
type Header struct {
	Period      string
	FanOut      int
	Quorum      int
	SLA         time.Duration
	Threshold   int
	RefreshedAt time.Time
	Err         string
}

// Row is one ring member.
type Row struct {
	Position   int
	ID         string
	Name       string
	Color      string
	Validatees []string
	Assigned   int
	OnTime     int
	Missed     int
	Excused    int
	Blocked    bool
}

// HeaderMsg replaces the header.
type HeaderMsg struct {
	Header Header
}

// RowsMsg replaces the board rows.
type RowsMsg struct {
	Rows []Row
}

// Model holds the TUI state
type Model struct {
	header Header
	rows   []Row
	offset int
	width  int
	height int
}

func NewModel() Model {
	return Model{rows: []Row{}}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case HeaderMsg:
		m.header = msg.Header
		return m, nil

	case RowsMsg:
		m.rows = msg.Rows
		if m.offset >= len(m.rows) {
			m.offset = 0
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "down", "j":
			if m.offset < len(m.rows)-1 {
				m.offset++
			}
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
		}
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderRows())
}

func (m Model) renderHeader() string {
	h := m.header
	inner := m.width - 2
	if inner < 1 {
		inner = 1
	}
	blocked, missed := 0, 0
	for _, r := range m.rows {
		missed += r.Missed
		if r.Blocked {
			blocked++
		}
	}
	refreshed := "never"
	if !h.RefreshedAt.IsZero() {
		refreshed = h.RefreshedAt.Format("2006-01-02 15:04:05")
	}
	lines := []string{
		fmt.Sprintf(" period=%s validators=%d fan-out=%d quorum=%d", h.Period, len(m.rows), h.FanOut, h.Quorum),
		fmt.Sprintf(" sla=%s block at %d missed, blocked=%d missed total=%d", h.SLA, h.Threshold, blocked, missed),
		fmt.Sprintf(" refreshed: %s", refreshed),
	}
	if h.Err != "" {
		lines = append(lines, " error: "+h.Err)
	}
	out := []string{"┌" + strings.Repeat("─", inner) + "┐"}
	for _, l := range lines {
		out = append(out, "│"+fit(l, inner)+"│")
	}
	return strings.Join(out, "\n")
}

var (
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func stateSymbol(r Row) string {
	switch {
	case r.Blocked:
		return "⛔"
	case r.Missed > 0:
		return "⚠️"
	default:
		return "✅"
	}
}

func (m Model) renderRows() string {
	if len(m.rows) == 0 {
		return separatorLine(m.width) + "\n" + formatInfoLine(" no ring published for this period", m.width) + "\n" +
			"└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	}

	// header lines + borders + legend
	available := m.height - 9
	if m.header.Err != "" {
		available--
	}
	if available < 1 {
		available = 1
	}

	const posW, numW, stateW = 4, 7, 3
	inner := m.width - 2
	rest := inner - posW - stateW - numW*4 - 2
	if rest < 20 {
		rest = 20
	}
	nameW := rest * 2 / 5
	dutyW := rest - nameW

	var lines []string
	end := m.offset + available
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for _, r := range m.rows[m.offset:end] {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		cells := fmt.Sprintf("%s%s %s %s%s%s%s%s",
			fit(fmt.Sprintf("%3d", r.Position), posW),
			fit(stateSymbol(r), stateW),
			fit(name, nameW),
			fit(strings.Join(r.Validatees, ", "), dutyW),
			fit(fmt.Sprintf("%d", r.Assigned), numW),
			fit(fmt.Sprintf("%d", r.OnTime), numW),
			fit(fmt.Sprintf("%d", r.Missed), numW),
			fit(fmt.Sprintf("%d", r.Excused), numW),
		)
		line := "│" + fit(cells, inner) + "│"
		switch {
		case r.Blocked:
			line = blockedStyle.Render(line)
		case r.Missed > 0:
			line = warnStyle.Render(line)
		}
		lines = append(lines, line)
	}

	legend := "Pos, State, Validator, Validates, Assigned, On time, Missed, Excused"
	if len(m.rows) > available {
		legend += fmt.Sprintf("  [%d-%d of %d, j/k to scroll]", m.offset+1, end, len(m.rows))
	}
	return separatorLine(m.width) + "\n" + strings.Join(lines, "\n") + "\n" +
		separatorLine(m.width) + "\n" + formatInfoLine(legend, m.width) + "\n" +
		"└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
}

// Run starts the TUI program. It accepts Header and []Row values on updateCh
// and quits when the channel is closed.
func Run(updateCh <-chan interface{}) error {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())

	go func() {
		for data := range updateCh {
			switch v := data.(type) {
			case Header:
				p.Send(HeaderMsg{Header: v})
			case []Row:
				p.Send(RowsMsg{Rows: v})
			}
		}
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
