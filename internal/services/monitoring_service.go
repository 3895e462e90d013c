package services

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stock-ledger/internal/cache"
	"stock-ledger/internal/config"
	"stock-ledger/internal/feed"
	"stock-ledger/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type MonitoringService interface {
	GetMetrics(ctx context.Context) *models.MonitoringResponse
	RecordRequest(data models.RequestData)
	GetCacheStats() models.CacheMetrics
	GetDatabaseStats(ctx context.Context) models.DatabaseMetrics
	GetSystemStats() models.SystemMetrics
	GetRedisStats(ctx context.Context) models.RedisMetrics
}

// LedgerStats fuente de los contadores del ledger
type LedgerStats interface {
	Metrics() models.LedgerMetrics
}

const (
	slowRequestThreshold = time.Second
	maxTrackedRequests   = 100
)

type monitoringService struct {
	logger        *zap.Logger
	config        *config.Config
	redisClient   *redis.Client
	dbPool        *sql.DB
	materialCache *cache.MaterialCache
	ledger        LedgerStats
	hub           *feed.Hub

	// Métricas de requests
	requestsMutex sync.RWMutex
	requests      map[string]*models.EndpointMetrics
	slowRequests  []models.SlowRequest
	errors        []models.RequestError
	totalRequests int64

	startTime time.Time
}

// NewMonitoringService crea el servicio. redisClient y dbPool pueden ser nil
// (Redis deshabilitado o store en memoria).
func NewMonitoringService(
	logger *zap.Logger,
	config *config.Config,
	redisClient *redis.Client,
	dbPool *sql.DB,
	materialCache *cache.MaterialCache,
	ledger LedgerStats,
	hub *feed.Hub,
) MonitoringService {
	return &monitoringService{
		logger:        logger,
		config:        config,
		redisClient:   redisClient,
		dbPool:        dbPool,
		materialCache: materialCache,
		ledger:        ledger,
		hub:           hub,
		requests:      make(map[string]*models.EndpointMetrics),
		startTime:     time.Now(),
	}
}

func (s *monitoringService) RecordRequest(data models.RequestData) {
	s.requestsMutex.Lock()
	defer s.requestsMutex.Unlock()

	endpointKey := fmt.Sprintf("%s %s", data.Method, data.Endpoint)

	metrics, exists := s.requests[endpointKey]
	if !exists {
		metrics = &models.EndpointMetrics{}
		s.requests[endpointKey] = metrics
	}

	metrics.Count++
	durationMs := data.Duration.Milliseconds()
	metrics.TotalTime += durationMs
	metrics.AvgTime = float64(metrics.TotalTime) / float64(metrics.Count)

	s.totalRequests++

	if data.Duration > slowRequestThreshold {
		s.slowRequests = append(s.slowRequests, models.SlowRequest{
			Endpoint:  endpointKey,
			Duration:  durationMs,
			Timestamp: data.Timestamp,
		})
		if len(s.slowRequests) > maxTrackedRequests {
			s.slowRequests = s.slowRequests[1:]
		}
	}

	if data.StatusCode >= 400 {
		s.errors = append(s.errors, models.RequestError{
			Endpoint:   endpointKey,
			StatusCode: data.StatusCode,
			Timestamp:  data.Timestamp,
		})
		if len(s.errors) > maxTrackedRequests {
			s.errors = s.errors[1:]
		}
	}
}

func (s *monitoringService) GetMetrics(ctx context.Context) *models.MonitoringResponse {
	s.requestsMutex.RLock()
	requestMetrics := s.calculateRequestMetrics()
	s.requestsMutex.RUnlock()

	response := &models.MonitoringResponse{
		Requests:  requestMetrics,
		Cache:     s.GetCacheStats(),
		Database:  s.GetDatabaseStats(ctx),
		System:    s.GetSystemStats(),
		Redis:     s.GetRedisStats(ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.ledger != nil {
		response.Ledger = s.ledger.Metrics()
	}
	if s.hub != nil {
		response.Feed = s.hub.Stats()
	}
	return response
}

func (s *monitoringService) calculateRequestMetrics() models.RequestMetrics {
	type endpoint struct {
		key     string
		metrics *models.EndpointMetrics
	}

	endpoints := make([]endpoint, 0, len(s.requests))
	byEndpoint := make(map[string]models.EndpointMetrics, len(s.requests))
	for key, metrics := range s.requests {
		endpoints = append(endpoints, endpoint{key, metrics})
		byEndpoint[key] = *metrics
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].metrics.Count != endpoints[j].metrics.Count {
			return endpoints[i].metrics.Count > endpoints[j].metrics.Count
		}
		return endpoints[i].key < endpoints[j].key
	})

	// Top 10
	topEndpoints := []models.TopEndpoint{}
	for i, e := range endpoints {
		if i >= 10 {
			break
		}
		topEndpoints = append(topEndpoints, models.TopEndpoint{
			Endpoint:  e.key,
			Count:     e.metrics.Count,
			AvgTimeMs: fmt.Sprintf("%.2fms", e.metrics.AvgTime),
		})
	}

	return models.RequestMetrics{
		ByEndpoint:    byEndpoint,
		SlowRequests:  append([]models.SlowRequest(nil), s.slowRequests...),
		Errors:        append([]models.RequestError(nil), s.errors...),
		TotalRequests: s.totalRequests,
		TopEndpoints:  topEndpoints,
	}
}

func (s *monitoringService) GetCacheStats() models.CacheMetrics {
	if s.materialCache == nil {
		return models.CacheMetrics{HitRatePercentage: "0.00%"}
	}
	stats := s.materialCache.GetStats()
	hitRate := stats.HitRate()

	return models.CacheMetrics{
		TotalKeys:         stats.TotalKeys,
		HitRate:           hitRate,
		HitRatePercentage: fmt.Sprintf("%.2f%%", hitRate*100),
		TotalHits:         stats.Hits,
		TotalMisses:       stats.Misses,
		TotalRequests:     stats.TotalRequests,
	}
}

func (s *monitoringService) GetDatabaseStats(ctx context.Context) models.DatabaseMetrics {
	if s.dbPool == nil {
		return models.DatabaseMetrics{Status: "memory"}
	}

	status := "online"
	if err := s.dbPool.PingContext(ctx); err != nil {
		status = "offline"
	}
	stats := s.dbPool.Stats()

	return models.DatabaseMetrics{
		Status:            status,
		OpenConnections:   stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		MaxOpenConnection: stats.MaxOpenConnections,
	}
}

func (s *monitoringService) GetSystemStats() models.SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(s.startTime).Seconds()

	environment := "production"
	if s.config != nil && s.config.Server.GinMode == "debug" {
		environment = "development"
	}

	return models.SystemMetrics{
		HeapUsed:    fmt.Sprintf("%.2f MB", float64(m.HeapAlloc)/1024/1024),
		HeapTotal:   fmt.Sprintf("%.2f MB", float64(m.HeapSys)/1024/1024),
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      uptime,
		UptimeHours: fmt.Sprintf("%.2fh", uptime/3600),
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS,
		Environment: environment,
	}
}

func (s *monitoringService) GetRedisStats(ctx context.Context) models.RedisMetrics {
	if s.redisClient == nil {
		return models.RedisMetrics{Status: "disabled"}
	}

	_, err := s.redisClient.Ping(ctx).Result()
	connected := err == nil

	var keys int
	var memoryMB string

	if connected {
		if n, err := s.redisClient.DBSize(ctx).Result(); err == nil {
			keys = int(n)
		}

		if info, err := s.redisClient.Info(ctx, "memory").Result(); err == nil {
			memoryMB = parseUsedMemory(info)
		}
	}

	status := "offline"
	if connected {
		status = "online"
	}

	return models.RedisMetrics{
		Connected: connected,
		Keys:      keys,
		Status:    status,
		MemoryMB:  memoryMB,
	}
}

// parseUsedMemory extrae used_memory de la salida de INFO memory
func parseUsedMemory(info string) string {
	for _, line := range strings.Split(info, "\n") {
		if !strings.HasPrefix(line, "used_memory:") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, "used_memory:"))
		if memBytes, err := strconv.ParseInt(value, 10, 64); err == nil {
			return fmt.Sprintf("%.2f MB", float64(memBytes)/1024/1024)
		}
		break
	}
	return ""
}
