package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/chat-relay/internal/relay"
)

type healthResponse struct {
	Status         string `json:"status"`
	Connections    int64  `json:"connections"`
	MaxConnections int    `json:"maxConnections"`
	RelayState     string `json:"relayState"`
	Goroutines     int    `json:"goroutines"`
	MemoryMB       uint64 `json:"memoryMb"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

// handleHealth reports process health. Degraded means the relay lost the
// bus or the server is at connection capacity; in both cases the instance
// still serves its existing connections.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.subscriber.State()

	status := "healthy"
	if state != relay.StateListening || s.registry.Count() >= int64(s.cfg.MaxConnections) {
		status = "degraded"
	}

	var memoryMB uint64
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			memoryMB = mem.RSS / 1024 / 1024
		}
	}

	resp := healthResponse{
		Status:         status,
		Connections:    s.registry.Count(),
		MaxConnections: s.cfg.MaxConnections,
		RelayState:     state.String(),
		Goroutines:     runtime.NumGoroutine(),
		MemoryMB:       memoryMB,
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write health response")
	}
}
