package models

import "time"

// MonitoringResponse respuesta completa del sistema de monitoring
type MonitoringResponse struct {
	Requests  RequestMetrics  `json:"requests"`
	Ledger    LedgerMetrics   `json:"ledger"`
	Cache     CacheMetrics    `json:"cache"`
	Database  DatabaseMetrics `json:"database"`
	System    SystemMetrics   `json:"system"`
	Redis     RedisMetrics    `json:"redis"`
	Feed      FeedMetrics     `json:"feed"`
	Timestamp string          `json:"timestamp"`
}

// RequestMetrics métricas de requests HTTP
type RequestMetrics struct {
	ByEndpoint    map[string]EndpointMetrics `json:"by_endpoint"`
	SlowRequests  []SlowRequest              `json:"slow_requests"`
	Errors        []RequestError             `json:"errors"`
	TotalRequests int64                      `json:"total_requests"`
	TopEndpoints  []TopEndpoint              `json:"top_endpoints"`
}

// EndpointMetrics métricas por endpoint
type EndpointMetrics struct {
	Count     int     `json:"count"`
	AvgTime   float64 `json:"avg_time_ms"`
	TotalTime int64   `json:"total_time_ms"`
}

// SlowRequest request lento
type SlowRequest struct {
	Endpoint  string    `json:"endpoint"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestError request con status >= 400
type RequestError struct {
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
}

// TopEndpoint endpoint más usado
type TopEndpoint struct {
	Endpoint  string `json:"endpoint"`
	Count     int    `json:"count"`
	AvgTimeMs string `json:"avg_time_ms"`
}

// LedgerMetrics contadores del ledger desde el arranque
type LedgerMetrics struct {
	MovementsByKind     map[string]int64 `json:"movements_by_kind"`
	TotalMovements      int64            `json:"total_movements"`
	ConflictRetries     int64            `json:"conflict_retries"`
	Conflicts           int64            `json:"conflicts"`
	PartialReceipts     int64            `json:"partial_receipts"`
	CompletedWorkOrders int64            `json:"completed_work_orders"`
	ReceivedPurchases   int64            `json:"received_purchases"`
}

// CacheMetrics métricas del cache de materiales
type CacheMetrics struct {
	TotalKeys         int     `json:"total_keys"`
	HitRate           float64 `json:"hit_rate"`
	HitRatePercentage string  `json:"hit_rate_percentage"`
	TotalHits         int64   `json:"total_hits"`
	TotalMisses       int64   `json:"total_misses"`
	TotalRequests     int64   `json:"total_requests"`
}

// DatabaseMetrics métricas del pool de PostgreSQL
type DatabaseMetrics struct {
	Status            string `json:"status"`
	OpenConnections   int    `json:"open_connections"`
	InUse             int    `json:"in_use"`
	Idle              int    `json:"idle"`
	WaitCount         int64  `json:"wait_count"`
	MaxOpenConnection int    `json:"max_open_connections"`
}

// SystemMetrics métricas del proceso
type SystemMetrics struct {
	HeapUsed    string  `json:"heap_used"`
	HeapTotal   string  `json:"heap_total"`
	Goroutines  int     `json:"goroutines"`
	Uptime      float64 `json:"uptime_seconds"`
	UptimeHours string  `json:"uptime_hours"`
	GoVersion   string  `json:"go_version"`
	Platform    string  `json:"platform"`
	Environment string  `json:"environment"`
}

// RedisMetrics métricas de Redis
type RedisMetrics struct {
	Connected bool   `json:"connected"`
	Keys      int    `json:"keys"`
	Status    string `json:"status"`
	MemoryMB  string `json:"memory_mb"`
}

// FeedMetrics estado del feed de movimientos
type FeedMetrics struct {
	Clients   int   `json:"clients"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

// RequestData datos de un request individual
type RequestData struct {
	Endpoint   string
	Method     string
	Duration   time.Duration
	StatusCode int
	Timestamp  time.Time
}
