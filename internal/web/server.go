// Package web is the control surface of the exporter: a small JSON API for
// driving the recording lifecycle and retrieving post-processed footprints.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"smra_exporter/internal/logger"
	"smra_exporter/internal/smra"
	"smra_exporter/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"
)

// Server holds the dependencies of the control API handlers. store may be
// nil when persistence is disabled.
type Server struct {
	session *smra.Session
	store   *store.Store
	log     log.Logger

	// The post-processor needs the exact pid list and a snapshot capacity
	// covering every registered buffer; remember them across setup calls.
	// bufferSize is the largest size any setup used, so the snapshot fits
	// older targets with bigger buffers. Guarded by mu together with the
	// convention that lifecycle calls are serialized.
	mu         sync.Mutex
	setupPIDs  []int32
	bufferSize int
}

// NewServer creates a control server around a session. st may be nil.
func NewServer(session *smra.Session, st *store.Store) *Server {
	return &Server{
		session: session,
		store:   st,
		log:     logger.New("control_api"),
	}
}

// NewRouter returns the configured chi.Router for the control API.
//
// Route layout:
//
//	GET  /healthz              – liveness probe
//	POST /api/v1/setup         – register targets: {"pids": [...], "buffer_size": N}
//	POST /api/v1/start         – enable recording
//	POST /api/v1/stop          – disable recording
//	POST /api/v1/reset         – destroy all targets, drop held records
//	GET  /api/v1/status        – recorder state and counters
//	GET  /api/v1/footprints    – post-process current buffers (?persist=1 also saves)
//	GET  /api/v1/footprints/{pid} – stored footprints for one pid (?limit=N)
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/setup", srv.handleSetup)
		r.Post("/start", srv.handleStart)
		r.Post("/stop", srv.handleStop)
		r.Post("/reset", srv.handleReset)
		r.Get("/status", srv.handleStatus)
		r.Get("/footprints", srv.handleFootprints)
		r.Get("/footprints/{pid}", srv.handleStoredFootprints)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setupRequest struct {
	PIDs       []int32 `json:"pids"`
	BufferSize int     `json:"buffer_size"`
}

// handleSetup responds to POST /api/v1/setup.
//
// Registers one recording target per pid. Note that repeating setup without
// a reset accumulates targets; the API mirrors the recorder and does not
// deduplicate. Returns 409 when the record budget is exceeded, 400 for a
// malformed request.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.PIDs) == 0 {
		writeError(w, http.StatusBadRequest, "'pids' must not be empty")
		return
	}
	if req.BufferSize <= 0 {
		writeError(w, http.StatusBadRequest, "'buffer_size' must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.session.Setup(req.PIDs, req.BufferSize); err != nil {
		s.log.Error().Err(err).Msg("Setup failed")
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.setupPIDs = append(s.setupPIDs, req.PIDs...)
	if req.BufferSize > s.bufferSize {
		s.bufferSize = req.BufferSize
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"targets":     s.session.TargetCount(),
		"buffer_size": req.BufferSize,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.session.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"recording": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"recording": false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Reset()
	s.setupPIDs = nil
	s.bufferSize = 0
	writeJSON(w, http.StatusOK, map[string]int{"targets": 0})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.session.Stats()

	type targetStatus struct {
		Slot     int   `json:"slot"`
		PID      int32 `json:"pid"`
		Used     int   `json:"used"`
		Capacity int   `json:"capacity"`
	}
	targets := make([]targetStatus, 0, s.session.TargetCount())
	s.session.RangeTargets(func(slot int, pid int32, used, capacity int) bool {
		targets = append(targets, targetStatus{Slot: slot, PID: pid, Used: used, Capacity: capacity})
		return true
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"recording": s.session.Enabled(),
		"targets":   targets,
		"stats":     stats,
	})
}

// handleFootprints responds to GET /api/v1/footprints.
//
// Runs post-processing over the current buffers using the remembered setup
// arguments. With ?persist=1 the batch is also written to the footprint
// store. Post-processing is all-or-nothing: any resolution failure returns
// 502 and no partial data.
func (s *Server) handleFootprints(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.setupPIDs) == 0 {
		writeError(w, http.StatusConflict, "no targets registered, call setup first")
		return
	}

	footprints, err := s.session.PostProcess(s.setupPIDs, s.bufferSize)
	if err != nil {
		s.log.Error().Err(err).Msg("Post-processing failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]any{
		"pids":       s.setupPIDs,
		"footprints": footprints,
	}

	if r.URL.Query().Get("persist") == "1" {
		if s.store == nil {
			writeError(w, http.StatusConflict, "footprint store is not enabled")
			return
		}
		batchID, err := s.store.SaveBatch(r.Context(), s.setupPIDs, footprints)
		if err != nil {
			s.log.Error().Err(err).Msg("Persisting footprints failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["batch_id"] = batchID
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStoredFootprints responds to GET /api/v1/footprints/{pid}.
func (s *Server) handleStoredFootprints(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusConflict, "footprint store is not enabled")
		return
	}

	pid64, err := strconv.ParseInt(chi.URLParam(r, "pid"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'pid' must be an integer")
		return
	}

	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		limit, err = strconv.Atoi(ls)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a non-negative integer")
			return
		}
	}

	rows, err := s.store.FootprintsByPID(r.Context(), int32(pid64), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Footprint query failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid64, "footprints": rows})
}
