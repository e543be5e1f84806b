package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/pipeline"
)

type Signal struct {
	Code     string   `json:"code"`
	Stage    string   `json:"stage"`
	Severity string   `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"`
	Related  []string `json:"related,omitempty"`
	Message  string   `json:"message"`
}

type StageMetric struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Counters   map[string]float64 `json:"counters,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type CalculationMetric struct {
	ID           string  `json:"id"`
	Caption      string  `json:"caption"`
	Status       string  `json:"status"`
	Role         string  `json:"role,omitempty"`
	TemplateUsed string  `json:"template_used,omitempty"`
	Confidence   float64 `json:"confidence"`
	Compliant    bool    `json:"compliant"`
	Wrapped      bool    `json:"wrapped"`
	Skipped      bool    `json:"skipped"`
	Diagnostics  int     `json:"diagnostics"`
	DurationMS   int64   `json:"duration_ms"`
}

type Summary struct {
	StageCount        int            `json:"stage_count"`
	FailedStages      int            `json:"failed_stages"`
	Calculations      int            `json:"calculations"`
	Converted         int            `json:"converted"`
	Failed            int            `json:"failed"`
	Pending           int            `json:"pending"`
	Skipped           int            `json:"skipped"`
	Wrapped           int            `json:"wrapped"`
	AvgConfidence     float64        `json:"avg_confidence"`
	SignalsBySeverity map[string]int `json:"signals_by_severity"`
}

// RunReport is the machine-readable account of one conversion run.
type RunReport struct {
	Version      string              `json:"version"`
	RunID        string              `json:"run_id,omitempty"`
	GeneratedAt  string              `json:"generated_at"`
	Cancelled    bool                `json:"cancelled"`
	Stages       []StageMetric       `json:"stages"`
	Calculations []CalculationMetric `json:"calculations,omitempty"`
	Signals      []Signal            `json:"signals,omitempty"`
	Summary      Summary             `json:"summary"`

	seen map[string]bool
}

type StageHandle struct {
	name    string
	started time.Time
}

func NewRunReport() *RunReport {
	return &RunReport{
		Version:      "v1",
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Stages:       []StageMetric{},
		Calculations: []CalculationMetric{},
		Signals:      []Signal{},
	}
}

func (r *RunReport) BeginStage(name string) StageHandle {
	return StageHandle{name: strings.TrimSpace(name), started: time.Now().UTC()}
}

func (r *RunReport) EndStage(h StageHandle, counters map[string]float64, notes []string, err error) {
	if r == nil || h.name == "" {
		return
	}
	finished := time.Now().UTC()
	m := StageMetric{
		Name:       h.name,
		Status:     "ok",
		StartedAt:  h.started.Format(time.RFC3339Nano),
		FinishedAt: finished.Format(time.RFC3339Nano),
		DurationMS: finished.Sub(h.started).Milliseconds(),
		Counters:   cleanCounters(counters),
		Notes:      cleanNotes(notes),
	}
	if err != nil {
		m.Status = "error"
		m.Error = err.Error()
	}
	r.Stages = append(r.Stages, m)
}

// AddDiagnostic records d as a signal raised during stage. Node diagnostics
// travel with the node across stages, so a diagnostic already recorded
// keeps its first stage and is not counted again.
func (r *RunReport) AddDiagnostic(stage string, d graph.Diagnostic) {
	if r == nil || strings.TrimSpace(d.Message) == "" {
		return
	}
	key := strings.Join([]string{string(d.Code), d.NodeID, strings.Join(d.Related, ","), d.Message}, "|")
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.Signals = append(r.Signals, Signal{
		Code:     string(d.Code),
		Stage:    stage,
		Severity: string(d.Severity),
		NodeID:   d.NodeID,
		Related:  d.Related,
		Message:  d.Message,
	})
}

// AddRun records per-calculation metrics and every node diagnostic.
func (r *RunReport) AddRun(run *pipeline.RunResult) {
	if r == nil || run == nil {
		return
	}
	r.RunID = run.RunID
	r.Cancelled = run.Cancelled
	for _, res := range run.Results {
		m := CalculationMetric{
			ID:          res.ID,
			Caption:     res.Caption,
			Status:      string(res.Status),
			Role:        string(res.Role),
			Skipped:     res.Skipped,
			Diagnostics: len(res.Diagnostics),
			DurationMS:  res.Duration.Milliseconds(),
		}
		if res.Artifact != nil {
			m.TemplateUsed = res.Artifact.TemplateUsed
			m.Confidence = res.Artifact.Confidence
			m.Compliant = res.Artifact.Validation.IsCompliant
			m.Wrapped = res.Artifact.Wrapped
		}
		r.Calculations = append(r.Calculations, m)
		for _, d := range res.Diagnostics {
			r.AddDiagnostic("convert", d)
		}
	}
}

func (r *RunReport) Finalize() {
	if r == nil {
		return
	}
	r.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	sort.SliceStable(r.Signals, func(i, j int) bool {
		pi := signalPriority(r.Signals[i].Severity)
		pj := signalPriority(r.Signals[j].Severity)
		if pi == pj {
			if r.Signals[i].Stage == r.Signals[j].Stage {
				return r.Signals[i].Code < r.Signals[j].Code
			}
			return r.Signals[i].Stage < r.Signals[j].Stage
		}
		return pi > pj
	})
	severityCount := map[string]int{
		string(graph.SeverityError):   0,
		string(graph.SeverityWarning): 0,
		string(graph.SeverityInfo):    0,
	}
	for _, s := range r.Signals {
		severityCount[s.Severity]++
	}

	failedStages := 0
	for _, st := range r.Stages {
		if st.Status != "ok" {
			failedStages++
		}
	}

	sum := Summary{
		StageCount:        len(r.Stages),
		FailedStages:      failedStages,
		Calculations:      len(r.Calculations),
		SignalsBySeverity: severityCount,
	}
	totalConfidence := 0.0
	for _, c := range r.Calculations {
		switch graph.Status(c.Status) {
		case graph.StatusConverted:
			sum.Converted++
			totalConfidence += c.Confidence
		case graph.StatusFailed:
			sum.Failed++
		default:
			sum.Pending++
		}
		if c.Skipped {
			sum.Skipped++
		}
		if c.Wrapped {
			sum.Wrapped++
		}
	}
	if sum.Converted > 0 {
		sum.AvgConfidence = totalConfidence / float64(sum.Converted)
	}
	r.Summary = sum
}

func (r *RunReport) Save(path string) error {
	if r == nil {
		return nil
	}
	r.Finalize()
	return writeJSON(path, r)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func cleanCounters(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cleanNotes(raw []string) []string {
	var out []string
	for _, n := range raw {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func signalPriority(severity string) int {
	switch graph.Severity(severity) {
	case graph.SeverityError:
		return 3
	case graph.SeverityWarning:
		return 2
	default:
		return 1
	}
}
