package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/api"
	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.RegisterProvisioningRoutes(r.Group("/"))
	api.RegisterRoutes(r.Group("/"))
	return r
}

func TestCreateShop_MissingNameReportsFieldErrors(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/shops", strings.NewReader(`{"phone":"09123"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Errors["Name"] != "required" {
		t.Fatalf("errors = %v, want Name required", body.Errors)
	}
}

func TestCreateBusiness_MalformedJSONRejected(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/businesses", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListSales_InvalidFromTimestampRejected(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/sales?from=yesterday", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
