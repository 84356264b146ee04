// Package api serves the daemon's HTTP control and status surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/depth-data/distance.report/internal/db"
	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/measure"
	"github.com/depth-data/distance.report/internal/sampler"
)

// ANSI escape codes for the request log.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Engine is the slice of the measurement engine the API needs.
type Engine interface {
	Start()
	Stop()
	Status() measure.Status
	Snapshot() measure.Snapshot
	PointCloud() (*frame.Cloud, error)
}

// History is the slice of the sample store the API needs. Nil disables the
// history endpoints.
type History interface {
	RecentSamples(hours int) ([]db.Sample, error)
	PointStats(hours int) ([]db.PointStat, error)
}

// BrokerStatus reports the MQTT session state for /api/status. Optional.
type BrokerStatus interface {
	Connected() bool
}

type Server struct {
	engine  Engine
	history History
	broker  BrokerStatus
}

func NewServer(engine Engine, history History, broker BrokerStatus) *Server {
	return &Server{engine: engine, history: history, broker: broker}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/start", s.startMeasurement)
	mux.HandleFunc("/stop", s.stopMeasurement)
	mux.HandleFunc("/measurements", s.showMeasurements)
	mux.HandleFunc("/pointcloud", s.showPointcloud)
	mux.HandleFunc("/history", s.showHistory)
	mux.HandleFunc("/stats", s.showStats)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := s.engine.Status()
	resp := map[string]interface{}{
		"active":             st.Active,
		"device_connected":   st.DeviceConnected,
		"power_save_mode":    st.PowerSaveMode,
		"connection_retries": st.ConnectionRetries,
	}
	if s.broker != nil {
		resp["mqtt_connected"] = s.broker.Connected()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) startMeasurement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.Start()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) stopMeasurement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) showMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, measure.BuildDocument(s.engine.Snapshot()))
}

func (s *Server) showPointcloud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cloud, err := s.engine.PointCloud()
	if err != nil {
		if errors.Is(err, sampler.ErrNoFrameData) {
			s.writeJSONError(w, http.StatusServiceUnavailable, "no frame captured yet")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("pointcloud: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, cloud)
}

// hoursParam parses the optional ?hours= query, default 24.
func hoursParam(r *http.Request) (int, error) {
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 {
			return 0, fmt.Errorf("invalid 'hours' parameter %q", h)
		}
		hours = parsed
	}
	return hours, nil
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, "history disabled")
		return
	}
	hours, err := hoursParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := s.history.RecentSamples(hours)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to retrieve history: %v", err))
		return
	}
	if samples == nil {
		samples = []db.Sample{}
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, "history disabled")
		return
	}
	hours, err := hoursParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.history.PointStats(hours)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to retrieve stats: %v", err))
		return
	}
	if stats == nil {
		stats = []db.PointStat{}
	}
	s.writeJSON(w, http.StatusOK, stats)
}
