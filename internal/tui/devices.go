// Package tui holds the terminal UI: a capture device picker and a live
// feature monitor.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pulseviz/internal/capture"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	loopbackStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// DevicePickerModel is the Bubble Tea model for choosing a capture device.
// Loopback-capable devices are marked; Enter confirms the selection and
// quits, leaving the chosen ID in Selected.
type DevicePickerModel struct {
	devices       []capture.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error

	// Selected is the confirmed device ID, or -1 if the picker was quit
	// without choosing.
	Selected int
}

type devicesMsg struct {
	devices []capture.Device
}

type errMsg struct {
	err error
}

func fetchDevices() tea.Msg {
	devices, err := capture.Devices()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

func (m DevicePickerModel) Init() tea.Cmd {
	return fetchDevices
}

func (m DevicePickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
			if len(m.devices) > 0 {
				m.viewport.SetContent(m.renderDevices())
			}
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}

	case devicesMsg:
		m.devices = msg.devices
		// Pre-select the first loopback device, matching what capture would
		// auto-detect with device -1.
		for i, d := range m.devices {
			if d.IsLoopback {
				m.selectedIndex = i
				break
			}
		}
		if m.ready {
			m.viewport.SetContent(m.renderDevices())
		}

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
			return m, tea.Quit

		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if len(m.devices) > 0 {
				m.Selected = m.devices[m.selectedIndex].ID
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m DevicePickerModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	title := titleStyle.Render("Capture Devices")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DevicePickerModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No capture devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		marker := ""
		if device.IsLoopback {
			marker = " " + loopbackStyle.Render("[LOOPBACK]")
		}

		info := fmt.Sprintf("[%d] %s%s\n", device.ID, device.Name, marker)
		info += fmt.Sprintf("    Input channels: %d\n", device.MaxInputChannels)
		info += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

// NewDevicePickerModel creates a picker with nothing selected.
func NewDevicePickerModel() DevicePickerModel {
	return DevicePickerModel{Selected: -1}
}

// PickDevice runs the picker full screen and returns the chosen device ID,
// or -1 if the user quit without selecting.
func PickDevice() (int, error) {
	p := tea.NewProgram(NewDevicePickerModel(), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return -1, err
	}
	m, ok := final.(DevicePickerModel)
	if !ok {
		return -1, fmt.Errorf("unexpected model type %T", final)
	}
	return m.Selected, nil
}
