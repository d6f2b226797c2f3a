// Package monitoring turns a simulation into a small HTTP server so that
// progress and statistics can be inspected, and the run stopped, from
// outside the process.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/sarchlab/warpsim/timing/engine"
)

// Monitor serves the state of one engine over HTTP.
type Monitor struct {
	engine     *engine.Engine
	portNumber int
}

// NewMonitor creates an unstarted monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the listening port. Ports below 1000 are rejected
// and replaced with a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed for the monitoring server. "+
				"Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine to monitor.
func (m *Monitor) RegisterEngine(e *engine.Engine) {
	m.engine = e
}

// StartServer starts listening in a goroutine and returns the bound
// address.
func (m *Monitor) StartServer() (string, error) {
	if m.engine == nil {
		return "", fmt.Errorf("no engine registered")
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/stats", m.handleStats).Methods("GET")
	r.HandleFunc("/api/cache", m.handleCache).Methods("GET")
	r.HandleFunc("/api/progress", m.handleProgress).Methods("GET")
	r.HandleFunc("/api/stop", m.handleStop).Methods("POST")

	listener, err := net.Listen("tcp",
		fmt.Sprintf("localhost:%d", m.portNumber))
	if err != nil {
		return "", fmt.Errorf("monitoring server: %w", err)
	}

	addr := listener.Addr().String()
	fmt.Fprintf(os.Stderr, "Monitoring server listening at http://%s\n", addr)

	go func() {
		_ = http.Serve(listener, r)
	}()

	return addr, nil
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.engine.Statistics())
}

func (m *Monitor) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.engine.Memory().Stats())
}

type progressReport struct {
	CurrentTime uint64 `json:"current_time"`
	ActiveWarps uint32 `json:"active_warps"`
	TotalWarps  uint32 `json:"total_warps"`
	Running     bool   `json:"running"`
	Pending     int    `json:"pending_events"`
}

func (m *Monitor) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, progressReport{
		CurrentTime: m.engine.CurrentTime(),
		ActiveWarps: m.engine.ActiveWarpCount(),
		TotalWarps:  m.engine.NumWarps(),
		Running:     m.engine.IsRunning(),
		Pending:     m.engine.PendingEvents(),
	})
}

func (m *Monitor) handleStop(w http.ResponseWriter, r *http.Request) {
	m.engine.Stop()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
