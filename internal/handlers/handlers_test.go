package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stock-ledger/internal/cache"
	"stock-ledger/internal/feed"
	"stock-ledger/internal/handlers"
	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"
	"stock-ledger/internal/routes"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	router *gin.Engine
	repo   *repository.MemoryLedgerRepository
	hub    *feed.Hub
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	repo := repository.NewMemoryLedgerRepository()
	materialCache := cache.NewMaterialCache(repo, nil, 100, time.Minute, logger)
	hub := feed.NewHub(16, logger)
	t.Cleanup(hub.Close)

	ledger := services.NewLedger(repo, materialCache, hub, services.LedgerOptions{MaxRetries: 2, HistoryMaxLimit: 100}, logger)
	monitoring := services.NewMonitoringService(logger, nil, nil, nil, materialCache, ledger, hub)

	router := gin.New()
	monitoringHandler := handlers.NewMonitoringHandler(monitoring, logger)
	router.Use(monitoringHandler.RecordRequestMiddleware())
	routes.SetupRoutes(router, routes.Handlers{
		Stock:      handlers.NewStockHandler(ledger, services.NewReservationService(ledger, logger), 20, logger),
		Material:   handlers.NewMaterialHandler(ledger, materialCache, repo, logger),
		Document:   handlers.NewDocumentHandler(services.NewProductionService(ledger, logger), services.NewPurchaseService(ledger, logger), logger),
		Feed:       handlers.NewFeedHandler(hub, logger),
		Monitoring: monitoringHandler,
	})

	return &testServer{router: router, repo: repo, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) register(t *testing.T, id string) {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/materials", gin.H{"id": id, "name": id, "unit": "kg"})
	require.Equal(t, http.StatusCreated, code, env.Message)
}

func (s *testServer) record(t *testing.T, body gin.H) (int, envelope) {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/stock/movements", body)
}

func decodeBalance(t *testing.T, raw json.RawMessage) models.BalanceView {
	t.Helper()
	var b models.BalanceView
	require.NoError(t, json.Unmarshal(raw, &b))
	return b
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func TestRegisterMaterial(t *testing.T) {
	s := newTestServer(t)

	s.register(t, "HARINA")

	code, env := s.do(t, http.MethodPost, "/api/v1/materials", gin.H{"id": "HARINA", "name": "Harina", "unit": "kg"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "material_exists", env.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/materials", gin.H{"id": "SIN-UNIDAD", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestMaterialWireNames(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/materials", gin.H{"id": "SAL", "name": "Sal fina", "unit": "kg"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/materials/SAL", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &fields))
	assert.Equal(t, "SAL", fields["id"])
	assert.Equal(t, "Sal fina", fields["name"])
	assert.Equal(t, "kg", fields["unit"])
	for key := range fields {
		assert.Contains(t, []string{"id", "name", "unit", "created_at"}, key)
	}
}

func TestRecordMovementAndBalance(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")

	code, env := s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": "10", "unit_cost": "5"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	code, _ = s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": 10, "unit_cost": 7})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.record(t, gin.H{"material_id": "A", "kind": "exit", "quantity": "4"})
	require.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/stock/A", nil)
	require.Equal(t, http.StatusOK, code)
	b := decodeBalance(t, env.Data)
	assertDecimal(t, "16", b.OnHand)
	assertDecimal(t, "6", b.WeightedAverageCost)
	assertDecimal(t, "96", b.StockValue)
	assert.Equal(t, int64(3), b.Version)
}

func TestRecordMovementErrors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"tipo inválido", gin.H{"material_id": "A", "kind": "gift", "quantity": "1"}, http.StatusBadRequest, "bad_request"},
		{"cantidad negativa", gin.H{"material_id": "A", "kind": "entry", "quantity": "-1", "unit_cost": "1"}, http.StatusBadRequest, "invalid_quantity"},
		{"entrada sin costo", gin.H{"material_id": "A", "kind": "entry", "quantity": "1"}, http.StatusBadRequest, "invalid_cost"},
		{"material desconocido", gin.H{"material_id": "ZZ", "kind": "entry", "quantity": "1", "unit_cost": "1"}, http.StatusNotFound, "unknown_material"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.record(t, tt.body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/stock/ZZ", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_material", env.Code)
}

func TestGetMovementsPaging(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")
	for i := 0; i < 3; i++ {
		code, _ := s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": "1", "unit_cost": "2"})
		require.Equal(t, http.StatusCreated, code)
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/stock/A/movements?limit=2&offset=0", nil)
	require.Equal(t, http.StatusOK, code)

	var page struct {
		Movements []models.Movement `json:"movements"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Equal(t, 2, page.Count)
	assert.Greater(t, page.Movements[0].ID, page.Movements[1].ID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/stock/A/movements?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/stock/A/movements?limit=5000", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_page", env.Code)
}

func TestReserveAndRelease(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")
	s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": "10", "unit_cost": "1"})

	code, env := s.do(t, http.MethodPost, "/api/v1/stock/A/reserve", gin.H{"quantity": "4"})
	require.Equal(t, http.StatusOK, code)
	b := decodeBalance(t, env.Data)
	assertDecimal(t, "4", b.Reserved)
	assertDecimal(t, "6", b.Available)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/A/release", gin.H{"quantity": "5"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_quantity", env.Code)
}

func TestRebuildAndConsistency(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")
	s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": "10", "unit_cost": "3"})

	stored, err := s.repo.GetBalance(context.Background(), "A")
	require.NoError(t, err)
	drifted := stored.Clone()
	drifted.OnHand = decimal.NewFromInt(99)
	s.repo.OverwriteBalance(drifted)

	code, env := s.do(t, http.MethodGet, "/api/v1/stock/consistency", nil)
	require.Equal(t, http.StatusOK, code)
	var all struct {
		Inconsistent []string `json:"inconsistent"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Equal(t, []string{"A"}, all.Inconsistent)

	code, env = s.do(t, http.MethodPost, "/api/v1/stock/A/rebuild", nil)
	require.Equal(t, http.StatusOK, code)
	assertDecimal(t, "10", decodeBalance(t, env.Data).OnHand)

	code, env = s.do(t, http.MethodGet, "/api/v1/stock/A/consistency", nil)
	require.Equal(t, http.StatusOK, code)
	var report models.ConsistencyReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Consistent)
}

func TestCompleteWorkOrder(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "TELA")
	s.record(t, gin.H{"material_id": "TELA", "kind": "entry", "quantity": "13", "unit_cost": "3"})

	wo := &models.WorkOrder{Number: "OT-1", MaterialID: "TELA", Status: models.WorkOrderInProgress, PlannedQuantity: decimal.NewFromInt(7)}
	require.NoError(t, s.repo.CreateWorkOrder(context.Background(), wo))

	path := "/api/v1/work-orders/" + itoa(wo.ID) + "/complete"
	code, env := s.do(t, http.MethodPost, path, gin.H{"produced_quantity": "7", "byproduct_quantity": "0.5"})
	require.Equal(t, http.StatusOK, code, env.Message)

	var result models.CompletionResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.WorkOrderCompleted, result.WorkOrder.Status)
	assertDecimal(t, "6.5", result.Balance.OnHand)
	assertDecimal(t, "2.769231", result.Balance.WeightedAverageCost)

	code, env = s.do(t, http.MethodPost, path, gin.H{"produced_quantity": "1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", env.Code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/work-orders/abc/complete", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/work-orders/9999/complete", gin.H{"produced_quantity": "1"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_document", env.Code)
}

func TestReceivePurchasePartialFailure(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")

	a, unknown := "A", "NO-EXISTE"
	p := &models.Purchase{Number: "OC-9", Status: models.PurchaseOrdered, Lines: []models.PurchaseLine{
		{MaterialID: &a, Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(2)},
		{MaterialID: &unknown, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)},
	}}
	require.NoError(t, s.repo.CreatePurchase(context.Background(), p))

	code, env := s.do(t, http.MethodPost, "/api/v1/purchases/"+itoa(p.ID)+"/receive", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "partial_receipt", env.Code)

	var data struct {
		PurchaseID   int64                      `json:"purchase_id"`
		Succeeded    []models.ReceiptLineResult `json:"succeeded"`
		FailedLineID int64                      `json:"failed_line_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, p.ID, data.PurchaseID)
	require.Len(t, data.Succeeded, 1)
	assert.Equal(t, p.Lines[1].ID, data.FailedLineID)

	// la primera línea quedó registrada
	code, env = s.do(t, http.MethodGet, "/api/v1/stock/A", nil)
	require.Equal(t, http.StatusOK, code)
	assertDecimal(t, "5", decodeBalance(t, env.Data).OnHand)
}

func TestReceivePurchase(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")

	a := "A"
	p := &models.Purchase{Number: "OC-1", Status: models.PurchaseOrdered, Lines: []models.PurchaseLine{
		{MaterialID: &a, Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(2)},
		{Description: "flete", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30)},
	}}
	require.NoError(t, s.repo.CreatePurchase(context.Background(), p))

	code, env := s.do(t, http.MethodPost, "/api/v1/purchases/"+itoa(p.ID)+"/receive", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	var result models.ReceiptResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.PurchaseDelivered, result.Status)
	require.Len(t, result.Lines, 2)
	assert.True(t, result.Lines[1].Skipped)

	code, env = s.do(t, http.MethodPost, "/api/v1/purchases/"+itoa(p.ID)+"/receive", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", env.Code)
}

func TestMaterialCacheEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")

	code, env := s.do(t, http.MethodGet, "/api/v1/materials/A", nil)
	require.Equal(t, http.StatusOK, code)
	var m models.Material
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, "A", m.ID)

	code, env = s.do(t, http.MethodGet, "/api/v1/materials/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_material", env.Code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/materials/preload", gin.H{"limit": 10})
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/materials/A/cache", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/materials/cache-stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Hits   int64 `json:"hits"`
		Misses int64 `json:"misses"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Positive(t, stats.Hits+stats.Misses)
}

func TestMovementFeed(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")
	s.register(t, "B")

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stock/feed?material=A"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Stats().Clients == 1 }, time.Second, 10*time.Millisecond)

	s.record(t, gin.H{"material_id": "B", "kind": "entry", "quantity": "1", "unit_cost": "1"})
	s.record(t, gin.H{"material_id": "A", "kind": "entry", "quantity": "2", "unit_cost": "3"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev feed.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "movement", ev.Type)
	assert.Equal(t, "A", ev.MaterialID)
	assertDecimal(t, "2", ev.Movement.Quantity)
}

func TestMonitoringHealthWithoutRedis(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/monitoring", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "disabled", health.Services["redis"])
	assert.Equal(t, "memory", health.Services["database"])
}

func TestMonitoringRecordsRequests(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "A")
	s.do(t, http.MethodGet, "/api/v1/stock/A", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var metrics models.MonitoringResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, int64(2), metrics.Requests.TotalRequests)
	assert.Contains(t, metrics.Requests.ByEndpoint, "GET /api/v1/stock/:material")
}

func itoa(id int64) string {
	return decimal.NewFromInt(id).String()
}
