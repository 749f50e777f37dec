package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/handlers"
	"github.com/mmdatafocus/sitestock_backend/middlewares"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessions = map[string]*middlewares.Session{
	"admin-a":  {TenantId: "tenant-a", Role: string(models.UserRoleAdmin), UserId: 1, UserName: "Aye"},
	"keeper-a": {TenantId: "tenant-a", Role: string(models.UserRoleStoreKeeper), UserId: 2, UserName: "Ko"},
	"viewer-a": {TenantId: "tenant-a", Role: string(models.UserRoleViewer), UserId: 3, UserName: "Mya"},
	"admin-b":  {TenantId: "tenant-b", Role: string(models.UserRoleAdmin), UserId: 4, UserName: "Hla"},
}

func lookup(_ context.Context, token string) (*middlewares.Session, bool, error) {
	s, ok := sessions[token]
	return s, ok, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	testutil.UseSQLite(t)
	config.UseRedis(nil)
	require.NoError(t, models.MigrateTable())

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.SessionMiddleware(lookup))
	handlers.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func createPurchase(t *testing.T, r http.Handler, token, name string) models.Purchase {
	t.Helper()
	w := do(r, http.MethodPost, "/api/purchases", token, `{"material_name":"`+name+`","site":"Yard","quantity":"10","unit_rate":"5"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Purchase
	decode(t, w, &p)
	return p
}

func TestHealthz(t *testing.T) {
	r := newRouter(t)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/healthz", "", nil).Code)
}

func TestSessionAndRoles(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/purchases", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/purchases", "bogus", nil).Code)

	body := `{"material_name":"Cement","site":"Yard","quantity":1,"unit_rate":1}`
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/purchases", "viewer-a", body).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/purchases", "viewer-a", nil).Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/purchases", "keeper-a", body).Code)

	replay := `{"push_id":1}`
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/internal/ops/opening-balance/replay", "keeper-a", replay).Code)
}

func TestCorrelationIdIsEchoed(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("x-correlation-id", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("x-correlation-id"))
}

func TestPurchaseEndpoints(t *testing.T) {
	r := newRouter(t)

	p := createPurchase(t, r, "admin-a", "Cement")
	requireDecimal(t, "50", p.TotalAmount)
	require.NotNil(t, p.MaterialId)

	w := do(r, http.MethodPost, "/api/purchases", "admin-a", `{"site":"Yard","quantity":"1","unit_rate":"1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errBody struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &errBody)
	assert.Contains(t, errBody.Fields, "MaterialName")

	w = do(r, http.MethodPost, "/api/purchases", "admin-a", `{"material_name":"Cement","site":"Yard","quantity":"abc","unit_rate":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := fmt.Sprintf("/api/purchases/%d", p.ID)
	w = do(r, http.MethodPatch, path, "admin-a", `{"unit_rate":"7"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Purchase
	decode(t, w, &updated)
	requireDecimal(t, "70", updated.TotalAmount)

	// other tenant sees nothing
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, path, "admin-b", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, path, "admin-b", nil).Code)

	w = do(r, http.MethodGet, "/api/purchases?page=1&page_size=5", "admin-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list models.PurchaseList
	decode(t, w, &list)
	require.Len(t, list.Purchases, 1)
	assert.Equal(t, 5, list.Pagination.PageSize)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/purchases?page=x", "admin-a", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/purchases/abc", "admin-a", nil).Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, path, "admin-a", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, path, "admin-a", nil).Code)
}

func TestReceiptEndpoints(t *testing.T) {
	r := newRouter(t)
	p := createPurchase(t, r, "admin-a", "Sand")

	w := do(r, http.MethodPost, "/api/sites", "admin-a", `{"name":"Tower"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var site models.Site
	decode(t, w, &site)

	single := fmt.Sprintf(`{"date":"2025-05-01","vehicle_number":"YGN-1","material_name":"sand","filled_weight":900,"empty_weight":300,"quantity":"12","site_id":%d}`, site.ID)
	w = do(r, http.MethodPost, "/api/receipts", "keeper-a", single)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var receipt models.Receipt
	decode(t, w, &receipt)
	requireDecimal(t, "600", receipt.NetWeight)
	require.NotNil(t, receipt.SiteId)
	assert.Equal(t, site.ID, *receipt.SiteId)

	batch := `{"receipts":[
		{"date":"2025-05-02","vehicle_number":"YGN-2","material_name":"Sand","filled_weight":500,"empty_weight":100,"quantity":3,"site_id":"unallocated"},
		{"date":"2025-05-02","vehicle_number":"YGN-3","material_name":"Sand","filled_weight":500,"empty_weight":100,"quantity":4,"site_id":"Tower"}
	]}`
	w = do(r, http.MethodPost, "/api/receipts", "keeper-a", batch)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Receipts []models.Receipt `json:"receipts"`
	}
	decode(t, w, &created)
	require.Len(t, created.Receipts, 2)
	assert.Nil(t, created.Receipts[0].SiteId)

	invalid := `{"receipts":[
		{"date":"2025-05-02","vehicle_number":"YGN-4","material_name":"Sand","filled_weight":500,"empty_weight":100,"quantity":1},
		{"date":"2025-05-02","vehicle_number":"YGN-5","material_name":"Sand","filled_weight":100,"empty_weight":500,"quantity":1}
	]}`
	w = do(r, http.MethodPost, "/api/receipts", "keeper-a", invalid)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errBody struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &errBody)
	assert.Contains(t, errBody.Fields, "receipts[1].net_weight")

	w = do(r, http.MethodGet, "/api/receipts", "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list models.ReceiptList
	decode(t, w, &list)
	assert.Len(t, list.Receipts, 3)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/receipts?site_id=%d", site.ID), "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Len(t, list.Receipts, 2)

	// 12 + 4 on Tower, 3 unallocated is overwritten by the allocation total
	w = do(r, http.MethodGet, fmt.Sprintf("/api/materials/%d", *p.MaterialId), "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var material models.MaterialCatalogEntry
	decode(t, w, &material)
	requireDecimal(t, "16", material.OpeningBalance)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/materials/%d/allocations", *p.MaterialId), "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var allocations struct {
		Allocations []models.SiteAllocation `json:"allocations"`
	}
	decode(t, w, &allocations)
	require.Len(t, allocations.Allocations, 1)
	requireDecimal(t, "16", allocations.Allocations[0].OpeningBalance)

	w = do(r, http.MethodPatch, fmt.Sprintf("/api/receipts/%d", receipt.ID), "keeper-a", `{"empty_weight":"400"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &receipt)
	requireDecimal(t, "500", receipt.NetWeight)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/receipts/%d/pushes", receipt.ID), "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pushes struct {
		Pushes []models.OpeningBalancePush `json:"pushes"`
	}
	decode(t, w, &pushes)
	require.Len(t, pushes.Pushes, 1)
	assert.Equal(t, models.PushStatusSucceeded, pushes.Pushes[0].Status)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, fmt.Sprintf("/api/receipts/%d/pushes", receipt.ID), "admin-b", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, fmt.Sprintf("/api/receipts/%d", receipt.ID), "keeper-a", nil).Code)
}

func TestReplayOpeningBalancePush(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/receipts", "admin-a",
		`{"date":"2025-05-01","vehicle_number":"YGN-1","material_name":"Lime","filled_weight":900,"empty_weight":300,"quantity":"8"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var receipt models.Receipt
	decode(t, w, &receipt)

	pushes, err := models.ListReceiptPushes(context.Background(), config.GetDB(), receipt.ID)
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	require.Equal(t, models.PushStatusFailed, pushes[0].Status)

	p := createPurchase(t, r, "admin-a", "Lime")

	w = do(r, http.MethodPost, "/internal/ops/opening-balance/replay", "admin-b", fmt.Sprintf(`{"push_id":%d}`, pushes[0].ID))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/internal/ops/opening-balance/replay", "admin-a", fmt.Sprintf(`{"push_id":%d,"apply":true}`, pushes[0].ID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var push models.OpeningBalancePush
	decode(t, w, &push)
	assert.Equal(t, models.PushStatusSucceeded, push.Status)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/materials/%d", *p.MaterialId), "admin-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var material models.MaterialCatalogEntry
	decode(t, w, &material)
	requireDecimal(t, "8", material.OpeningBalance)

	w = do(r, http.MethodPost, "/internal/ops/opening-balance/replay", "admin-a", fmt.Sprintf(`{"push_id":%d}`, pushes[0].ID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsumptionEndpoints(t *testing.T) {
	r := newRouter(t)
	p := createPurchase(t, r, "admin-a", "Cement")

	w := do(r, http.MethodPost, "/api/consumptions", "keeper-a", fmt.Sprintf(`{"records":[{"work_activity_id":9,"purchase_id":%d,"quantity":"4"}]}`, p.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/api/consumptions", "keeper-a", `{"records":[{"work_activity_id":9,"quantity":"4"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/consumptions?work_activity_id=9", "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records struct {
		Records []models.ConsumptionRecord `json:"records"`
	}
	decode(t, w, &records)
	assert.Len(t, records.Records, 1)

	w = do(r, http.MethodGet, fmt.Sprintf("/api/purchases/%d", p.ID), "viewer-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Purchase
	decode(t, w, &got)
	requireDecimal(t, "4", got.ConsumedQuantity)
	requireDecimal(t, "6", *got.RemainingQuantity)
}
