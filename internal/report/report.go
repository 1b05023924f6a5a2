// Package report writes run summaries as JSON and energy traces as CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/nbodyvk/internal/sim"
)

type Report struct {
	RunID          string             `json:"run_id"`
	CreatedAt      time.Time          `json:"created_at"`
	Backend        string             `json:"backend"`
	Scenario       string             `json:"scenario"`
	Particles      int                `json:"particles"`
	Steps          int                `json:"steps"`
	DT             float32            `json:"dt"`
	Seed           int64              `json:"seed"`
	ElapsedNS      int64              `json:"elapsed_ns"`
	StepsPerSecond float64            `json:"steps_per_second"`
	Metrics        map[string]float64 `json:"metrics"`
	// TraceEvery is the step spacing of Energy.
	TraceEvery int       `json:"trace_every,omitempty"`
	Energy     []float64 `json:"energy,omitempty"`
}

// Run describes the inputs of a finished run.
type Run struct {
	Scenario   string
	DT         float32
	Seed       int64
	TraceEvery int
}

// New stamps res with a fresh run id.
func New(run Run, res *sim.Result) Report {
	return Report{
		RunID:          uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Backend:        res.Backend,
		Scenario:       run.Scenario,
		Particles:      len(res.Final),
		Steps:          res.StepsTaken,
		DT:             run.DT,
		Seed:           run.Seed,
		ElapsedNS:      res.Elapsed.Nanoseconds(),
		StepsPerSecond: res.StepsPerSecond(),
		Metrics:        res.Metrics,
		TraceEvery:     run.TraceEvery,
		Energy:         res.Energy,
	}
}

func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r Report) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Load(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("report: parse %s: %w", path, err)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return r, fmt.Errorf("report: %s: run id: %w", path, err)
	}
	return r, nil
}

// WriteEnergyCSV writes the energy trace with one row per sample.
func (r Report) WriteEnergyCSV(w io.Writer) error {
	every := max(r.TraceEvery, 1)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step", "energy"}); err != nil {
		return err
	}
	for i, e := range r.Energy {
		row := []string{strconv.Itoa(i * every), strconv.FormatFloat(e, 'g', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r Report) SaveEnergyCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteEnergyCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
