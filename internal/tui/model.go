// Package tui renders download progress in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/mohaanymo/m3u8dl/internal/engine"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Messages
type (
	ProgressMsg struct{ Completed, Total int }
	StateMsg    engine.State
	DoneMsg     struct{ Result *models.Result }
	ErrorMsg    struct{ Err error }
	tickMsg     time.Time
)

// Model is the main TUI model.
type Model struct {
	state    engine.State
	width    int
	frame    int
	url      string
	playlist *models.Playlist
	bar      progress.Model

	total     int
	completed int
	startTime time.Time
	rate      float64 // segments per second
	eta       time.Duration

	result   *models.Result
	err      error
	canceled bool
}

// NewModel creates a new TUI model. playlist may be nil when the CLI did
// not resolve before starting.
func NewModel(url string, playlist *models.Playlist) *Model {
	m := &Model{
		state:     engine.StateIdle,
		url:       url,
		playlist:  playlist,
		bar:       progress.New(progress.WithGradient(string(colorPrimary), string(colorAccent))),
		startTime: time.Now(),
		width:     80,
	}
	if playlist != nil {
		m.total = len(playlist.Segments)
	}
	return m
}

// Canceled reports whether the user quit before the run finished.
func (m *Model) Canceled() bool { return m.canceled }

func (m *Model) Init() tea.Cmd {
	return tick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.state.Terminal() {
				m.canceled = true
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = clamp(msg.Width-30, 20, 80)

	case ProgressMsg:
		m.completed = msg.Completed
		m.total = msg.Total
		m.state = engine.StateDownloading

	case StateMsg:
		m.state = engine.State(msg)

	case tickMsg:
		m.frame++
		m.updateRate()
		return m, tick()

	case DoneMsg:
		m.state = engine.StateDone
		m.result = msg.Result
		return m, tea.Quit

	case ErrorMsg:
		m.state = engine.StateFailed
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.viewContent(w))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("⚡ m3u8dl")
	subtitle := dimStyle.Render(" - HLS downloader")

	urlLabel := labelStyle.Render("url:")
	urlValue := dimStyle.Render(truncate(m.url, w-12))

	lines := []string{title + subtitle, urlLabel + " " + urlValue}
	if m.playlist != nil {
		line := labelStyle.Render("playlist:") + " " + valueStyle.Render(m.playlist.Source.String())
		if v := m.playlist.Variant; v != nil {
			line += "  " + labelStyle.Render("variant:") + " " + valueStyle.Render(v.String())
		}
		if m.playlist.Encrypted() {
			line += "  " + encryptedBadge.Render("AES-128")
		}
		lines = append(lines, line)
	}

	return headerStyle.Width(w).Render(strings.Join(lines, "\n"))
}

func (m *Model) viewContent(w int) string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Progress"))
	b.WriteString("\n\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return contentStyle.Width(w).Render(b.String())
}

func (m *Model) percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

func (m *Model) renderProgress() string {
	return m.bar.ViewAs(m.percent()) + " " +
		dimStyle.Render(fmt.Sprintf("(%d/%d)", m.completed, m.total))
}

func (m *Model) renderStats() string {
	stats := []struct {
		label string
		value string
	}{
		{"Rate", fmt.Sprintf("%.1f seg/s", m.rate)},
		{"Elapsed", formatDuration(time.Since(m.startTime))},
		{"ETA", formatDuration(m.eta)},
	}
	if m.playlist != nil && m.playlist.Duration > 0 {
		stats = append(stats, struct {
			label string
			value string
		}{"Length", formatDuration(m.playlist.Duration)})
	}

	var parts []string
	for _, s := range stats {
		part := statLabelStyle.Render(s.label+": ") + statValueStyle.Render(s.value)
		parts = append(parts, part)
	}

	return strings.Join(parts, "  ")
}

func (m *Model) renderStatus() string {
	spin := spinnerStyle.Render(spinner[m.frame%len(spinner)])
	switch m.state {
	case engine.StateIdle:
		return spin + dimStyle.Render(" starting...")
	case engine.StateResolving:
		return spin + dimStyle.Render(" resolving playlist...")
	case engine.StateDownloading:
		return spin + dimStyle.Render(" downloading segments...")
	case engine.StateAssembling:
		return spin + warningStyle.Render(" assembling output...")
	case engine.StateDone:
		return m.renderDone()
	case engine.StateFailed:
		return errorStyle.Render(fmt.Sprintf("✗ error: %v", m.err))
	}
	return ""
}

func (m *Model) renderDone() string {
	if m.result == nil {
		return successStyle.Render("✓ download complete!")
	}
	s := successStyle.Render("✓ saved ") + valueStyle.Render(m.result.OutputPath) +
		dimStyle.Render(" ("+humanize.Bytes(uint64(m.result.BytesWritten))+")")
	if m.result.Degraded() {
		s += "\n" + warningStyle.Render(fmt.Sprintf("! %d of %d segments missing",
			m.result.FailedSegments, m.result.TotalSegments))
	}
	return s
}

func (m *Model) renderHelp() string {
	return helpStyle.Render(
		keyHelpStyle.Render("q") + " quit  " +
			keyHelpStyle.Render("ctrl+c") + " cancel",
	)
}

func (m *Model) updateRate() {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed > 0 {
		m.rate = float64(m.completed) / elapsed
	}

	remaining := m.total - m.completed
	if m.rate > 0 && remaining > 0 {
		m.eta = time.Duration(float64(remaining) / m.rate * float64(time.Second))
	} else {
		m.eta = 0
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Helpers

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
