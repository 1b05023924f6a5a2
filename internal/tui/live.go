package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/san-kum/nbodyvk/internal/physics"
)

const (
	clearLine  = "\r\033[K"
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
	sparkWidth = 32
)

// LiveRenderer prints a one-line progress report at most frameRate times a
// second. It satisfies sim.Observer.
type LiveRenderer struct {
	out       io.Writer
	backend   string
	g         physics.Gravity
	total     int
	frameRate int
	lastFrame time.Time
	history   []float64
	latency   time.Duration
	samples   int
}

func NewLiveRenderer(out io.Writer, backend string, g physics.Gravity, total, frameRate int) *LiveRenderer {
	if frameRate < 1 {
		frameRate = 10
	}
	return &LiveRenderer{
		out:       out,
		backend:   backend,
		g:         g,
		total:     total,
		frameRate: frameRate,
		history:   make([]float64, 0, sparkWidth),
	}
}

func (r *LiveRenderer) OnStep(ps []physics.Particle, step int, latency time.Duration) {
	r.latency += latency
	r.samples++
	if step != r.total && time.Since(r.lastFrame) < time.Second/time.Duration(r.frameRate) {
		return
	}
	r.lastFrame = time.Now()

	energy := r.g.Energy(ps)
	r.history = append(r.history, energy)
	if len(r.history) > sparkWidth {
		r.history = r.history[1:]
	}
	r.render(step, energy)
}

func (r *LiveRenderer) render(step int, energy float64) {
	var rate float64
	if r.latency > 0 {
		rate = float64(r.samples) / r.latency.Seconds()
	}
	progress := fmt.Sprintf("%d", step)
	if r.total > 0 {
		progress = fmt.Sprintf("%d/%d", step, r.total)
	}
	line := fmt.Sprintf("%s %s step %s  %.0f steps/s  E=%.6g  %s",
		clearLine, r.backend, progress, rate, energy, sparkline(r.history, sparkWidth))
	fmt.Fprint(r.out, line)
}

func (r *LiveRenderer) Start() { fmt.Fprint(r.out, hideCursor) }
func (r *LiveRenderer) Stop()  { fmt.Fprint(r.out, showCursor+"\n") }

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(data) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		v := data[i*step]
		idx := int((v - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}
