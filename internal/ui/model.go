// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Shows connection, buffer and latency state; keys move the pan and change volume
package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	// PanStep is how far one left/right key press moves the pan.
	PanStep = 0.1

	volumeStep = 5
)

// Model represents the TUI state
type Model struct {
	// Connection
	state      string
	serverName string

	// Stream
	format string

	// Playback
	location float64
	volume   int
	muted    bool

	// Stats
	pending   uint64
	capacity  int
	packets   uint64
	played    uint64
	underruns uint64
	latency   time.Duration
	rtt       time.Duration
	samples   int

	showDebug bool
	controls  *Controls

	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	status := m.state
	if status == "" {
		status = "disconnected"
	}
	if m.serverName != "" {
		status = fmt.Sprintf("%s (%s)", status, m.serverName)
	}
	format := m.format
	if format == "" {
		format = "-"
	}

	return fmt.Sprintf(`┌─ netaudio player ────────────────────────────────────┐
│ Status: %-44s │
│ Format: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(status, 44), truncate(format, 44))
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	return fmt.Sprintf("│ Pan:    L %s R %+.1f%-15s │\n"+
		"│ Volume: [%s] %3d%%%-21s │\n"+
		"│ Buffer: [%s] %d/%d frames%-14s │\n",
		renderPan(m.location, 21), m.location, "",
		renderBar(m.volume, 100, 10), m.volume, muteIcon,
		renderBar(int(m.pending), max(m.capacity, 1), 10), m.pending, m.capacity, "")
}

func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Latency: %-8s RTT: %-8s Underruns: %-10d │
│ Packets: %-10d Played: %-20d │
`, formatMs(m.latency), formatMs(m.rtt), m.underruns, m.packets, m.played)
}

func (m Model) renderHelp() string {
	return `│ ←/→:Pan  c:Center  ↑/↓:Volume  m:Mute  d:Debug  q:Quit │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Latency samples: %-33d │
│   Window: %dx%-38d │
`, m.samples, m.width, m.height)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "left":
		m.setLocation(m.location - PanStep)
	case "right":
		m.setLocation(m.location + PanStep)
	case "c":
		m.setLocation(0)
	case "up":
		m.setVolume(m.volume + volumeStep)
	case "down":
		m.setVolume(m.volume - volumeStep)
	case "m":
		m.muted = !m.muted
		m.controls.sendVolume(VolumeChangeMsg{Volume: m.volume, Muted: m.muted})
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m *Model) setLocation(x float64) {
	x = math.Round(math.Max(-1, math.Min(1, x))*10) / 10
	if x == m.location {
		return
	}
	m.location = x
	m.controls.sendLocation(x)
}

func (m *Model) setVolume(v int) {
	v = max(0, min(100, v))
	if v == m.volume {
		return
	}
	m.volume = v
	m.controls.sendVolume(VolumeChangeMsg{Volume: v, Muted: m.muted})
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Format != "" {
		m.format = msg.Format
	}
	if msg.Location != nil {
		m.location = *msg.Location
	}
	if msg.Stats != nil {
		s := msg.Stats
		m.pending = s.Pending
		m.capacity = s.Capacity
		m.packets = s.Packets
		m.played = s.Played
		m.underruns = s.Underruns
		m.latency = s.Latency
		m.rtt = s.RTT
		m.samples = s.LatencySamples
	}
}

// StatusMsg updates TUI state. Zero fields leave the model unchanged.
type StatusMsg struct {
	State      string
	ServerName string
	Format     string
	Location   *float64
	Stats      *Stats
}

// Stats is the periodic playback snapshot.
type Stats struct {
	Pending        uint64
	Capacity       int
	Packets        uint64
	Played         uint64
	Underruns      uint64
	Latency        time.Duration
	RTT            time.Duration
	LatencySamples int
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	filled = min(width, filled)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// renderPan draws a slider with a marker at x in [-1, 1].
func renderPan(x float64, width int) string {
	pos := int(math.Round((x + 1) / 2 * float64(width-1)))
	pos = max(0, min(width-1, pos))
	return strings.Repeat("─", pos) + "●" + strings.Repeat("─", width-1-pos)
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
