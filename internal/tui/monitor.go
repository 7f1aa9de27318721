// Package tui renders live vehicle telemetry in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/mavoffboard/internal/vehicle"
)

const (
	historyCapacity = 120
	refreshInterval = 250 * time.Millisecond
)

var (
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(1, 2)
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	armedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	disarmedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("49"))
	graphStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Telemetry is what the monitor reads from a vehicle.
type Telemetry interface {
	SubscribePositionVelocityNed() (<-chan vehicle.PositionVelocityNed, func())
	SubscribeAttitude() (<-chan vehicle.EulerAngle, func())
	Armed() bool
	FlightMode() vehicle.FlightMode
}

type positionMsg vehicle.PositionVelocityNed
type attitudeMsg vehicle.EulerAngle
type tickMsg time.Time
type streamClosedMsg struct{}

type subscriptions struct {
	pos     <-chan vehicle.PositionVelocityNed
	att     <-chan vehicle.EulerAngle
	cancels []func()
}

// Model is the bubbletea model for the live monitor.
type Model struct {
	tel     Telemetry
	subs    *subscriptions
	title   string
	pos     vehicle.PositionVelocityNed
	att     vehicle.EulerAngle
	samples int
	armed   bool
	mode    vehicle.FlightMode
	alt     []float64
	closed  bool
}

func NewModel(tel Telemetry, title string) Model {
	pos, cancelPos := tel.SubscribePositionVelocityNed()
	att, cancelAtt := tel.SubscribeAttitude()
	return Model{
		tel:   tel,
		title: title,
		subs: &subscriptions{
			pos:     pos,
			att:     att,
			cancels: []func(){cancelPos, cancelAtt},
		},
		mode: vehicle.FlightModeUnknown,
		alt:  make([]float64, 0, historyCapacity),
	}
}

// Close releases the telemetry subscriptions.
func (m Model) Close() {
	for _, cancel := range m.subs.cancels {
		cancel()
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitPosition(m.subs.pos), waitAttitude(m.subs.att), tick())
}

func waitPosition(ch <-chan vehicle.PositionVelocityNed) tea.Cmd {
	return func() tea.Msg {
		pv, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return positionMsg(pv)
	}
}

func waitAttitude(ch <-chan vehicle.EulerAngle) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return nil
		}
		return attitudeMsg(a)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case positionMsg:
		m.pos = vehicle.PositionVelocityNed(msg)
		m.samples++
		m.alt = append(m.alt, -float64(m.pos.Position.DownM))
		if len(m.alt) > historyCapacity {
			m.alt = m.alt[len(m.alt)-historyCapacity:]
		}
		return m, waitPosition(m.subs.pos)
	case attitudeMsg:
		m.att = vehicle.EulerAngle(msg)
		return m, waitAttitude(m.subs.att)
	case tickMsg:
		m.armed = m.tel.Armed()
		m.mode = m.tel.FlightMode()
		return m, tick()
	case streamClosedMsg:
		m.closed = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(m.title) + "\n")

	state := disarmedStyle.Render("DISARMED")
	if m.armed {
		state = armedStyle.Render("ARMED")
	}
	s.WriteString(row("State", state))
	s.WriteString(row("Mode", valueStyle.Render(string(m.mode))))
	s.WriteString(row("Position", valueStyle.Render(m.pos.String())))
	v := m.pos.Velocity
	s.WriteString(row("Velocity", valueStyle.Render(fmt.Sprintf("%.2f, %.2f, %.2f m/s", v.NorthMS, v.EastMS, v.DownMS))))
	s.WriteString(row("Attitude", valueStyle.Render(fmt.Sprintf("roll %.1f°  pitch %.1f°  yaw %.1f°", m.att.RollDeg, m.att.PitchDeg, m.att.YawDeg))))
	s.WriteString(row("Samples", valueStyle.Render(fmt.Sprintf("%d", m.samples))))

	if len(m.alt) >= 2 {
		chart := asciigraph.Plot(m.alt, asciigraph.Height(6), asciigraph.Width(50), asciigraph.Precision(2), asciigraph.Caption("Altitude (m)"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}

	if m.closed {
		s.WriteString(helpStyle.Render("telemetry stream closed") + "\n")
	}
	s.WriteString(helpStyle.Render("q: quit"))
	return panelStyle.Render(s.String())
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}
