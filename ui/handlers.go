package ui

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ablab/adapters/stats/engine"
	appsvc "ablab/app"
	"ablab/domain/experiment"
	"ablab/internal/errors"
	"ablab/internal/testkit"
)

// analyzeRequest carries everything one analysis run needs. Events can
// be inlined or loaded from a file source; inline events win when both
// are present.
type analyzeRequest struct {
	Design experiment.DesignConfig `json:"design"`
	Events []experiment.Event      `json:"events,omitempty"`
	Source string                  `json:"source,omitempty"`
	Test   engine.TestName         `json:"test,omitempty"`
	Seed   int64                   `json:"seed,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDesign sizes an experiment from design-time parameters.
func (a *App) handleDesign(w http.ResponseWriter, r *http.Request) {
	var req appsvc.DesignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("request body is not valid JSON"))
		return
	}
	design, err := a.service.ComputeDesign(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, design)
}

// powerCurveRequest extends the design inputs with optional explicit
// sample sizes to evaluate.
type powerCurveRequest struct {
	appsvc.DesignRequest
	SampleSizes []int `json:"sample_sizes,omitempty"`
}

func (a *App) handlePowerCurve(w http.ResponseWriter, r *http.Request) {
	var req powerCurveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("request body is not valid JSON"))
		return
	}
	design, err := a.service.ComputeDesign(req.DesignRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	curve, err := engine.NewPowerCalculator().PowerCurve(engine.PowerParams{
		MetricType:     design.PrimaryMetric.Type,
		Baseline:       design.Baseline,
		BaselineStdDev: design.BaselineStdDev,
		MDE:            design.MDE,
		Alpha:          design.Alpha,
		Power:          design.Power,
		OneSided:       design.OneSided,
	}, req.SampleSizes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"design": design,
		"curve":  curve,
	})
}

func (a *App) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, events, ok := a.decodeAnalyze(w, r)
	if !ok {
		return
	}
	summaries, err := a.service.Aggregate(events, req.Design)
	if err != nil {
		writeError(w, err)
		return
	}
	analysis, err := a.service.Analyze(summaries, req.Design, appsvc.AnalyzeOptions{
		RequestedTest: req.Test,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (a *App) handleDecide(w http.ResponseWriter, r *http.Request) {
	req, events, ok := a.decodeAnalyze(w, r)
	if !ok {
		return
	}
	analysis, decision, err := a.service.Run(events, req.Design, appsvc.AnalyzeOptions{
		RequestedTest: req.Test,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": analysis,
		"decision": decision,
	})
}

// handleReport runs the full pipeline and renders the decision report.
// The format query parameter chooses markdown (default) or html.
func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	req, events, ok := a.decodeAnalyze(w, r)
	if !ok {
		return
	}
	analysis, decision, err := a.service.Run(events, req.Design, appsvc.AnalyzeOptions{
		RequestedTest: req.Test,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(a.renderer.HTML(req.Design, analysis, decision))
	default:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(a.renderer.Markdown(req.Design, analysis, decision)))
	}
}

func (a *App) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": testkit.Names()})
}

func (a *App) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	scenario, ok := testkit.ByName(name, 42)
	if !ok {
		writeError(w, errors.InvalidInput("unknown scenario: "+name))
		return
	}
	analysis, decision, err := a.service.Run(scenario.Events, scenario.Design, appsvc.AnalyzeOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenario": scenario.Name,
		"analysis": analysis,
		"decision": decision,
	})
}

// decodeAnalyze parses an analysis request and resolves its events,
// reading from the event file source when none are inlined.
func (a *App) decodeAnalyze(w http.ResponseWriter, r *http.Request) (analyzeRequest, []experiment.Event, bool) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("request body is not valid JSON"))
		return req, nil, false
	}
	events := req.Events
	if len(events) == 0 {
		if req.Source == "" {
			writeError(w, errors.InvalidInput("request must carry events or a source file"))
			return req, nil, false
		}
		loaded, err := a.events.ReadEvents(req.Source)
		if err != nil {
			writeError(w, err)
			return req, nil, false
		}
		events = loaded
	}
	return req, events, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps application error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeParameterError, errors.CodeInvalidInput, errors.CodeConfigInvalid:
		status = http.StatusBadRequest
	case errors.CodeDataError, errors.CodeInsufficientData:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
