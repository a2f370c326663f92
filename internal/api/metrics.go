package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Devices       DeviceMetrics     `json:"devices"`
	Automations   AutomationMetrics `json:"automations"`
	Alerts        AlertMetrics      `json:"alerts"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics counts devices overall, by type and by room.
type DeviceMetrics struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
	ByRoom map[string]int `json:"by_room"`
}

// AutomationMetrics counts stored automations and pending drafts.
type AutomationMetrics struct {
	Rules       int `json:"rules"`
	Routines    int `json:"routines"`
	Scenarios   int `json:"scenarios"`
	Suggestions int `json:"suggestions"`
}

// AlertMetrics counts open alerts.
type AlertMetrics struct {
	Active int `json:"active"`
}

// DatabaseMetrics contains connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime and engine statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rules, routines, scenarios := s.engine.Registry().Counts()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices: DeviceMetrics{
			ByType: make(map[string]int),
			ByRoom: make(map[string]int),
		},
		Automations: AutomationMetrics{
			Rules:       rules,
			Routines:    routines,
			Scenarios:   scenarios,
			Suggestions: len(s.engine.Suggestions()),
		},
		Alerts: AlertMetrics{Active: s.detector.ActiveCount()},
	}

	snap := s.devices.Snapshot()
	metrics.Devices.Total = snap.Len()
	for _, d := range snap.Devices() {
		metrics.Devices.ByType[string(d.Type)]++
		if d.RoomID != "" {
			metrics.Devices.ByRoom[d.RoomID]++
		}
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
