package tui

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/nbodyvk/internal/compute"
	"github.com/san-kum/nbodyvk/internal/metrics"
	"github.com/san-kum/nbodyvk/internal/physics"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const (
	frameInterval = 16 * time.Millisecond
	maxSpeed      = 1024
	plotWidth     = 60
	plotHeight    = 8
)

// Options configures a dashboard session.
type Options struct {
	Stepper   compute.Stepper
	Particles []physics.Particle
	DT        float32
	Gravity   physics.Gravity
	// Steps stops stepping once reached. Zero runs until quit.
	Steps int
	// Speed is the number of steps per frame.
	Speed int
	Title string
}

// Reload replaces the running stepper, e.g. after the kernel was rebuilt.
// A non-nil Err is shown and the current stepper is kept.
type Reload struct {
	Stepper compute.Stepper
	Err     error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	ctx     context.Context
	stepper compute.Stepper
	initial []physics.Particle
	ps      []physics.Particle
	dt      float32
	limit   int
	title   string

	step    int
	speed   int
	paused  bool
	err     error
	notice  string
	reloads int

	drift  *metrics.EnergyDrift
	timing *metrics.StepTime

	width  int
	height int
}

func newModel(ctx context.Context, opts Options) *model {
	speed := opts.Speed
	if speed < 1 {
		speed = 1
	}
	title := opts.Title
	if title == "" {
		title = "nbodyvk"
	}
	m := &model{
		ctx:     ctx,
		stepper: opts.Stepper,
		initial: slices.Clone(opts.Particles),
		ps:      slices.Clone(opts.Particles),
		dt:      opts.DT,
		limit:   opts.Steps,
		title:   title,
		speed:   speed,
		drift:   metrics.NewEnergyDrift(opts.Gravity, 1),
		timing:  metrics.NewStepTime(),
	}
	m.drift.Observe(m.ps, 0)
	return m
}

func (m *model) Init() tea.Cmd { return tick() }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.key(msg)
	case Reload:
		m.reload(msg)
		return m, nil
	case tickMsg:
		m.advance()
		return m, tick()
	}
	return m, nil
}

func (m *model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ", "p":
		m.paused = !m.paused
	case "r":
		m.reset()
	case "+", "=":
		m.speed = min(m.speed*2, maxSpeed)
	case "-", "_":
		m.speed = max(m.speed/2, 1)
	}
	return m, nil
}

func (m *model) done() bool {
	return m.limit > 0 && m.step >= m.limit
}

func (m *model) advance() {
	if m.paused || m.err != nil || m.done() {
		return
	}
	for i := 0; i < m.speed && !m.done(); i++ {
		start := time.Now()
		if err := m.stepper.Step(m.ctx, m.ps, m.dt); err != nil {
			m.err = fmt.Errorf("step %d: %w", m.step+1, err)
			return
		}
		m.timing.ObserveLatency(time.Since(start))
		m.step++
		if idx := physics.CheckFinite(m.ps); idx >= 0 {
			m.err = fmt.Errorf("step %d: particle %d is not finite", m.step, idx)
			return
		}
	}
	m.drift.Observe(m.ps, m.step)
}

func (m *model) reset() {
	copy(m.ps, m.initial)
	m.step = 0
	m.err = nil
	m.drift.Reset()
	m.timing.Reset()
	m.drift.Observe(m.ps, 0)
}

func (m *model) reload(r Reload) {
	if r.Err != nil {
		m.notice = "reload failed: " + r.Err.Error()
		return
	}
	if r.Stepper == nil {
		return
	}
	if m.stepper != nil {
		_ = m.stepper.Close()
	}
	m.stepper = r.Stepper
	m.reloads++
	m.notice = fmt.Sprintf("kernel reloaded (%d)", m.reloads)
	m.reset()
}

func (m *model) status() string {
	switch {
	case m.err != nil:
		return magenta.Render("failed")
	case m.done():
		return green.Render("done")
	case m.paused:
		return yellow.Render("paused")
	default:
		return green.Render("running")
	}
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(cyan.Render(m.title))
	b.WriteString(dim.Render("  " + m.stepper.Name()))
	b.WriteString("  " + m.status() + "\n\n")

	steps := fmt.Sprintf("%d", m.step)
	if m.limit > 0 {
		steps = fmt.Sprintf("%d/%d", m.step, m.limit)
	}
	row := func(label, value string) {
		b.WriteString(dim.Render(fmt.Sprintf("  %-10s", label)))
		b.WriteString(white.Render(value) + "\n")
	}
	row("particles", fmt.Sprintf("%d", len(m.ps)))
	row("step", steps)
	row("steps/s", fmt.Sprintf("%.1f", m.timing.Rate()))
	row("speed", fmt.Sprintf("%dx", m.speed))
	row("energy", fmt.Sprintf("%.6g", m.energy()))
	row("drift", fmt.Sprintf("%+.3e (max %.3e)", m.drift.Current(), m.drift.Value()))
	b.WriteString("\n")

	if plot := m.plot(); plot != "" {
		b.WriteString(plot + "\n\n")
	}
	if m.err != nil {
		b.WriteString(magenta.Render("  "+m.err.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString(yellow.Render("  "+m.notice) + "\n")
	}
	b.WriteString(dimmer.Render("  space pause  r reset  +/- speed  q quit"))
	return b.String()
}

func (m *model) energy() float64 {
	trace := m.drift.Trace()
	if len(trace) == 0 {
		return 0
	}
	return trace[len(trace)-1]
}

func (m *model) plot() string {
	trace := m.drift.Trace()
	if len(trace) < 2 {
		return ""
	}
	w := plotWidth
	if m.width > 20 && m.width-12 < w {
		w = m.width - 12
	}
	if len(trace) > w {
		trace = trace[len(trace)-w:]
	}
	for _, v := range trace {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
	}
	return asciigraph.Plot(trace,
		asciigraph.Height(plotHeight),
		asciigraph.Width(w),
		asciigraph.Caption("total energy"))
}

// Run drives the dashboard until the user quits or ctx is done. Steppers
// received on reloads are owned by the dashboard; the last one is closed on
// return.
func Run(ctx context.Context, opts Options, reloads <-chan Reload) error {
	m := newModel(ctx, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	stop := make(chan struct{})
	defer close(stop)
	if reloads != nil {
		go func() {
			for {
				select {
				case r, ok := <-reloads:
					if !ok {
						return
					}
					p.Send(r)
				case <-stop:
					return
				}
			}
		}()
	}

	_, err := p.Run()
	if m.stepper != nil {
		if cerr := m.stepper.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
