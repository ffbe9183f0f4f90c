package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pulseviz/internal/analysis"
)

// ViewMode selects how the monitor renders the latest frame.
type ViewMode int

const (
	ViewEnergy ViewMode = iota
	ViewSpectrum
	ViewWaveline
)

func (v ViewMode) String() string {
	switch v {
	case ViewEnergy:
		return "energy"
	case ViewSpectrum:
		return "spectrum"
	case ViewWaveline:
		return "waveline"
	default:
		return "unknown"
	}
}

// FrameProvider supplies the newest feature frame. The pipeline controller
// satisfies this.
type FrameProvider interface {
	Latest() (*analysis.FeatureFrame, error)
}

var (
	beatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

type frameTickMsg time.Time

// MonitorModel polls the feature bus on a timer and renders the latest
// frame in the active view mode. Tab cycles modes.
type MonitorModel struct {
	provider FrameProvider
	interval time.Duration
	mode     ViewMode

	frame    *analysis.FeatureFrame
	lastBeat time.Time
	width    int
	height   int
}

// NewMonitorModel creates a monitor polling the provider at the given
// interval (the analysis interval is the natural choice).
func NewMonitorModel(provider FrameProvider, interval time.Duration) MonitorModel {
	return MonitorModel{
		provider: provider,
		interval: interval,
		mode:     ViewEnergy,
		width:    80,
	}
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return frameTickMsg(t)
	})
}

func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case frameTickMsg:
		if frame, err := m.provider.Latest(); err == nil {
			if m.frame == nil || frame.Seq != m.frame.Seq {
				m.frame = frame
				if frame.Beat {
					m.lastBeat = frame.Timestamp
				}
			}
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
			m.mode = (m.mode + 1) % 3
		}
	}

	return m, nil
}

func (m MonitorModel) View() string {
	title := titleStyle.Render("Live Monitor") + dimStyle.Render("  mode: "+m.mode.String())
	help := infoStyle.Render("Tab: View Mode • q: Quit")

	if m.frame == nil {
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, dimStyle.Render("waiting for audio..."), help)
	}

	var body string
	switch m.mode {
	case ViewSpectrum:
		body = m.renderSpectrum()
	case ViewWaveline:
		body = m.renderWaveline()
	default:
		body = m.renderEnergy()
	}

	beat := " "
	if time.Since(m.lastBeat) < 150*time.Millisecond {
		beat = beatStyle.Render("● BEAT")
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, body, beat, help)
}

func (m MonitorModel) barWidth() int {
	w := m.width - 20
	if w < 10 {
		w = 10
	}
	return w
}

func (m MonitorModel) renderEnergy() string {
	w := m.barWidth()
	act := int(m.frame.Activation * float64(w))
	if act > w {
		act = w
	}
	bar := barStyle.Render(strings.Repeat("█", act)) + dimStyle.Render(strings.Repeat("░", w-act))
	return fmt.Sprintf("energy %.6f\nactivation [%s] %.2f", m.frame.Energy, bar, m.frame.Activation)
}

// renderSpectrum draws one column per bin group, log-compressed so quiet
// content stays visible.
func (m MonitorModel) renderSpectrum() string {
	const rows = 10
	cols := m.barWidth()
	spectrum := m.frame.Spectrum
	if len(spectrum) == 0 {
		return dimStyle.Render("no spectrum")
	}

	levels := make([]int, cols)
	group := len(spectrum) / cols
	if group < 1 {
		group = 1
		cols = len(spectrum)
		levels = levels[:cols]
	}
	for c := 0; c < cols; c++ {
		var peak float64
		for b := c * group; b < (c+1)*group && b < len(spectrum); b++ {
			if spectrum[b] > peak {
				peak = spectrum[b]
			}
		}
		db := 20 * math.Log10(peak+1e-9)
		// Map the -90..0 dB range onto the rows.
		level := int((db + 90) / 90 * rows)
		if level < 0 {
			level = 0
		}
		if level > rows {
			level = rows
		}
		levels[c] = level
	}

	var sb strings.Builder
	for r := rows; r > 0; r-- {
		for c := 0; c < cols; c++ {
			if levels[c] >= r {
				sb.WriteString(barStyle.Render("│"))
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// renderWaveline sketches recent energy as a single scrolling line. It keeps
// no history beyond the frame, so it redraws from activation alone.
func (m MonitorModel) renderWaveline() string {
	w := m.barWidth()
	glyphs := []rune("▁▂▃▄▅▆▇█")
	idx := int(m.frame.Activation * float64(len(glyphs)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(glyphs) {
		idx = len(glyphs) - 1
	}
	return barStyle.Render(strings.Repeat(string(glyphs[idx]), w))
}

// RunMonitor runs the live monitor full screen until quit.
func RunMonitor(provider FrameProvider, interval time.Duration) error {
	p := tea.NewProgram(NewMonitorModel(provider, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
