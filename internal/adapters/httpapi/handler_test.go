package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"cutledger/internal/audit"
	"cutledger/internal/blob"
	"cutledger/internal/core"
	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

func newTestServer(t *testing.T) (*gin.Engine, *core.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	recorder, err := core.NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	svc := core.NewInMemoryService(nil,
		core.WithMetricsRecorder(recorder),
		core.WithArchive(audit.NewArchive(blob.NewMemory())),
	)
	r := gin.New()
	(&Handler{Service: svc, Gatherer: reg}).Register(r)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func seed(t *testing.T, r http.Handler) string {
	t.Helper()
	for _, body := range []string{
		`{"roll_number":"R1","article":"Denim","total_meters":50}`,
		`{"roll_number":"R2","article":"denim","total_meters":"40"}`,
	} {
		if w := do(t, r, http.MethodPost, "/api/v1/rolls", body); w.Code != http.StatusCreated {
			t.Fatalf("receive roll: %d %s", w.Code, w.Body.String())
		}
	}
	w := do(t, r, http.MethodPost, "/api/v1/orders", `{"code":"PO-1","article":"denim","status":"In Cutting"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	var order domain.Order
	decode(t, w, &order)
	w = do(t, r, http.MethodPost, "/api/v1/orders/"+order.ID+"/reservations", `{"rolls":[{"roll_number":"R1","meters":30}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reserve: %d %s", w.Code, w.Body.String())
	}
	return order.ID
}

func TestCutFlow(t *testing.T) {
	r, _ := newTestServer(t)
	id := seed(t, r)

	w := do(t, r, http.MethodPost, "/api/v1/orders/"+id+"/cut", `{"reported_meters":35,"recuts":[{"meters":2,"reason":"stain"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("cut: %d %s", w.Code, w.Body.String())
	}
	var cut struct {
		OrderID        string      `json:"order_id"`
		NewActualTotal string      `json:"new_actual_total"`
		Plan           fabric.Plan `json:"plan"`
		Warnings       []any       `json:"warnings"`
	}
	decode(t, w, &cut)
	if cut.OrderID != id || cut.NewActualTotal != "35" || len(cut.Plan.Lines) != 1 {
		t.Fatalf("unexpected cut response %s", w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/api/v1/orders/"+id+"/recut", `{"recuts":[{"meters":"5","reason":"torn"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("recut: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/articles/DENIM/ledger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ledger: %d %s", w.Code, w.Body.String())
	}
	var ledger struct {
		Total     string `json:"total_meters"`
		RollCount int    `json:"roll_count"`
	}
	decode(t, w, &ledger)
	if ledger.Total != "50" || ledger.RollCount != 2 {
		t.Fatalf("unexpected ledger %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/orders/"+id+"/recuts", "")
	var recuts struct {
		Total int `json:"total"`
	}
	decode(t, w, &recuts)
	if recuts.Total != 2 {
		t.Fatalf("expected two recut entries, got %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/orders/"+id+"/allocations", "")
	var records struct {
		Total int `json:"total"`
	}
	decode(t, w, &records)
	if records.Total != 2 {
		t.Fatalf("expected two archived allocations, got %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "cutledger_meters_consumed_total") {
		t.Fatalf("metrics missing consumption: %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	r, _ := newTestServer(t)
	id := seed(t, r)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "validation", method: http.MethodPost, path: "/api/v1/orders/" + id + "/cut", body: `{"reported_meters":0}`, status: http.StatusUnprocessableEntity},
		{name: "physical stock", method: http.MethodPost, path: "/api/v1/orders/" + id + "/cut", body: `{"reported_meters":95}`, status: http.StatusConflict},
		{name: "not found", method: http.MethodGet, path: "/api/v1/orders/missing", status: http.StatusNotFound},
		{name: "bad body", method: http.MethodPost, path: "/api/v1/orders/" + id + "/cut", body: `{"reported_meters":`, status: http.StatusBadRequest},
		{name: "bad status", method: http.MethodPost, path: "/api/v1/orders/" + id + "/status", body: `{"status":"lost"}`, status: http.StatusBadRequest},
		{name: "qc requires verdict", method: http.MethodPost, path: "/api/v1/orders/" + id + "/qc", body: `{}`, status: http.StatusBadRequest},
		{name: "cut-only transition", method: http.MethodPost, path: "/api/v1/orders/" + id + "/status", body: `{"status":"in_stitching"}`, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, w.Code, w.Body.String())
			}
			var body map[string]any
			decode(t, w, &body)
			if msg, _ := body["error"].(string); msg == "" {
				t.Fatalf("expected error message, got %v", body)
			}
		})
	}

	w := do(t, r, http.MethodPost, "/api/v1/orders/"+id+"/cut", `{"reported_meters":0}`)
	var body map[string]any
	decode(t, w, &body)
	if body["reason"] != string(fabric.ReasonInvalidMeters) {
		t.Fatalf("expected reason code, got %v", body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: &fabric.ValidationError{Reason: fabric.ReasonNoRolls}, status: http.StatusUnprocessableEntity},
		{err: &fabric.InsufficientFreeStockError{}, status: http.StatusConflict},
		{err: fmt.Errorf("wrapped: %w", domain.ErrNotFound{Entity: domain.EntityOrder, ID: "x"}), status: http.StatusNotFound},
		{err: domain.ErrConflict, status: http.StatusConflict},
		{err: domain.RuleViolationError{}, status: http.StatusConflict},
		{err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, got)
		}
	}
}

func TestWorkflowEndpoints(t *testing.T) {
	r, svc := newTestServer(t)
	id := seed(t, r)
	if _, err := svc.ConfirmInitialCut(context.Background(), id, decimal35(), nil); err != nil {
		t.Fatalf("cut: %v", err)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/orders/"+id+"/status", `{"status":"qc"}`); w.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", w.Code, w.Body.String())
	}
	w := do(t, r, http.MethodPost, "/api/v1/orders/"+id+"/qc", `{"approved":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("qc: %d %s", w.Code, w.Body.String())
	}
	var order struct {
		Status string `json:"status"`
	}
	decode(t, w, &order)
	if order.Status != "qc_recontrol_1" {
		t.Fatalf("expected recontrol, got %s", order.Status)
	}
	if w := do(t, r, http.MethodPost, "/api/v1/articles/denim/reconcile", ""); w.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func decimal35() decimal.Decimal { return decimal.NewFromInt(35) }
