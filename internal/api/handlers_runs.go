package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trade-signal-sim/config"
	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/logging"
)

// StartRunRequest overrides parts of the server configuration for one run.
// Every field is optional.
type StartRunRequest struct {
	RunID              string   `json:"run_id"`
	Seed               *int64   `json:"seed"`
	Instruments        []string `json:"instruments"` // subset of the configured instruments
	OcoDropProbability *float64 `json:"oco_drop_probability"`
	HealDelayBars      *int     `json:"heal_delay_bars"`
	Gate               string   `json:"gate"`
}

// runConfig applies the request on top of base
func (req StartRunRequest) runConfig(base *config.Config) (*config.Config, error) {
	cfg := *base
	if req.Seed != nil {
		cfg.Run.Seed = *req.Seed
	}
	if req.OcoDropProbability != nil {
		cfg.Execution.OcoDropProbability = *req.OcoDropProbability
	}
	if req.HealDelayBars != nil {
		cfg.HealDelayBars = *req.HealDelayBars
	}
	if req.Gate != "" {
		cfg.Gate.Kind = req.Gate
	}

	if len(req.Instruments) > 0 {
		byID := make(map[string]config.InstrumentConfig, len(base.Instruments))
		for _, ic := range base.Instruments {
			byID[ic.ID] = ic
		}
		cfg.Instruments = make([]config.InstrumentConfig, 0, len(req.Instruments))
		for _, id := range req.Instruments {
			ic, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("unknown instrument %q", id)
			}
			cfg.Instruments = append(cfg.Instruments, ic)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// handleStartRun launches a replay
// POST /api/runs?wait=true
// Body: {"seed": 42, "instruments": ["EURUSD"], "oco_drop_probability": 0.2}
func (s *Server) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	cfg, err := req.runConfig(s.cfg)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid run configuration: "+err.Error())
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ids := make([]string, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		ids = append(ids, ic.ID)
	}
	if !s.store.Start(runID, cfg.Run.Seed, ids) {
		errorResponse(c, http.StatusConflict, "Run "+runID+" already exists")
		return
	}

	var sinks []events.Sink
	if s.repo != nil {
		sinks = append(sinks, s.repo)
	}
	runner := backtest.NewRunner(cfg.RunConfig(runID), cfg.NewGate(), s.eventBus, sinks, s.logger)
	specs := cfg.InstrumentSpecs(cfg.Run.Seed)
	log := logging.RunContext(logging.FromContext(c.Request.Context()), runID, cfg.Run.Seed)

	s.hub.Broadcast(WSMessage{Type: MsgRunStarted, RunID: runID, Timestamp: time.Now(), Data: ids})
	log.Info().Strs("instruments", ids).Msg("Replay started")

	execute := func() StoredRun {
		res := runner.Run(s.runCtx, specs)
		if s.recorder != nil {
			s.recorder.ObserveRun(res)
		}
		if s.repo != nil {
			raw, err := json.Marshal(cfg.RunConfig(runID))
			if err == nil {
				err = s.repo.SaveRun(s.runCtx, res, raw)
			}
			if err != nil {
				log.Error().Err(err).Msg("Failed to save run")
			}
		}
		run := s.store.Complete(runID, res)
		s.hub.Broadcast(WSMessage{Type: MsgRunCompleted, RunID: runID, Timestamp: time.Now(), Data: res.Total})
		return run
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		successResponse(c, execute())
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		execute()
	}()

	run, _ := s.store.Get(runID)
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    run,
	})
}

// handleListRuns returns runs held in memory, plus stored runs when a
// database is configured
// GET /api/runs?limit=50
func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	runs := s.store.List()
	if len(runs) > limit {
		runs = runs[:limit]
	}
	body := gin.H{"runs": runs}

	if s.repo != nil {
		stored, err := s.repo.ListRuns(c.Request.Context(), limit)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "Failed to list stored runs: "+err.Error())
			return
		}
		body["stored"] = stored
	}
	successResponse(c, body)
}

// handleGetRun returns one run with its per-instrument summaries
// GET /api/runs/:id
func (s *Server) handleGetRun(c *gin.Context) {
	id := c.Param("id")
	if run, ok := s.store.Get(id); ok {
		successResponse(c, run)
		return
	}

	summaries, ok := s.storedSummaries(c, id)
	if !ok {
		return
	}
	successResponse(c, gin.H{
		"id":        id,
		"status":    RunStored,
		"summaries": summaries,
		"total":     backtest.Combine(summaries),
	})
}

// handleGetRunSummary returns the run total and per-instrument summaries
// GET /api/runs/:id/summary
func (s *Server) handleGetRunSummary(c *gin.Context) {
	id := c.Param("id")
	if run, ok := s.store.Get(id); ok {
		if run.Result == nil {
			errorResponse(c, http.StatusConflict, "Run is still in progress")
			return
		}
		summaries := make([]backtest.Summary, 0, len(run.Result.Instruments))
		for _, ir := range run.Result.Instruments {
			summaries = append(summaries, ir.Summary)
		}
		successResponse(c, gin.H{"total": run.Result.Total, "instruments": summaries})
		return
	}

	summaries, ok := s.storedSummaries(c, id)
	if !ok {
		return
	}
	successResponse(c, gin.H{"total": backtest.Combine(summaries), "instruments": summaries})
}

// handleGetRunEvents returns a run's event log
// GET /api/runs/:id/events?instrument=EURUSD&kind=close
func (s *Server) handleGetRunEvents(c *gin.Context) {
	id := c.Param("id")
	instrument := c.Query("instrument")
	kind, ok := parseKind(c.Query("kind"))
	if !ok {
		errorResponse(c, http.StatusBadRequest, "Unknown event kind: "+c.Query("kind"))
		return
	}

	if run, found := s.store.Get(id); found {
		if run.Result == nil {
			errorResponse(c, http.StatusConflict, "Run is still in progress")
			return
		}
		successResponse(c, run.Events(instrument, kind))
		return
	}

	if s.repo == nil {
		errorResponse(c, http.StatusNotFound, "Run not found")
		return
	}
	if instrument == "" {
		errorResponse(c, http.StatusBadRequest, "instrument is required for stored runs")
		return
	}
	evs, err := s.repo.GetEvents(c.Request.Context(), id, instrument, kind)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load events: "+err.Error())
		return
	}
	if len(evs) == 0 {
		errorResponse(c, http.StatusNotFound, "No events for "+id+"/"+instrument)
		return
	}
	successResponse(c, evs)
}

// handleGetConfig returns the replay settings runs start from. Connection
// sections are left out.
// GET /api/config
func (s *Server) handleGetConfig(c *gin.Context) {
	successResponse(c, gin.H{
		"run":             s.cfg.Run,
		"instruments":     s.cfg.Instruments,
		"indicators":      s.cfg.Indicators,
		"signal":          s.cfg.Signal,
		"gate":            s.cfg.Gate,
		"risk":            s.cfg.Risk,
		"trailing":        s.cfg.Trailing,
		"governance":      s.cfg.Governance,
		"execution":       s.cfg.Execution,
		"heal_delay_bars": s.cfg.HealDelayBars,
	})
}

// storedSummaries loads a run from the database, writing the error
// response itself when it cannot
func (s *Server) storedSummaries(c *gin.Context, id string) ([]backtest.Summary, bool) {
	if s.repo == nil {
		errorResponse(c, http.StatusNotFound, "Run not found")
		return nil, false
	}
	summaries, err := s.repo.GetSummaries(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to load run: "+err.Error())
		return nil, false
	}
	if len(summaries) == 0 {
		errorResponse(c, http.StatusNotFound, "Run not found")
		return nil, false
	}
	return summaries, true
}

func parseKind(s string) (events.Kind, bool) {
	if s == "" {
		return "", true
	}
	for _, k := range events.AllKinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}
