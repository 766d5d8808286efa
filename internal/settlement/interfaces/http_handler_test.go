// internal/settlement/interfaces/http_handler_test.go
package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"bazaar/internal/settlement/application"
	"bazaar/internal/settlement/domain/port"
	"bazaar/internal/settlement/escrow"
	"bazaar/internal/settlement/infrastructure"
	"bazaar/internal/settlement/ledger"
)

type staticPrices struct{}

func (staticPrices) GetPrice(ctx context.Context, variantID, vendorID string) (port.Price, error) {
	return port.Price{UnitPrice: decimal.NewFromInt(25), Currency: "USD"}, nil
}

type okGateway struct{}

func (okGateway) Authorize(ctx context.Context, instrument string, amount decimal.Decimal, payerID string) (string, error) {
	return "tok", nil
}
func (okGateway) Capture(ctx context.Context, token string, amount decimal.Decimal) error { return nil }
func (okGateway) Reverse(ctx context.Context, token string, amount decimal.Decimal) error { return nil }

type flatCommission struct{}

func (flatCommission) Commission(ctx context.Context, vendorID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	l, err := ledger.NewLedger(ctx, infrastructure.NewMemoryLedgerStore(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	a, err := escrow.NewAccount(ctx, okGateway{}, infrastructure.NewMemoryEscrowStore())
	if err != nil {
		t.Fatal(err)
	}

	svc := application.NewSettlementService(
		l, a,
		infrastructure.NewMemoryOrderRepository(),
		infrastructure.NewMemoryDisputeRepository(),
		staticPrices{}, okGateway{}, flatCommission{},
		nil, nil,
		noop.NewTracerProvider().Tracer("test"),
		application.Config{
			PlatformAccount: "platform",
			ReturnWindow:    14 * 24 * time.Hour,
			ExternalTimeout: time.Second,
			CompMaxRetries:  1,
			CompBackoff:     time.Millisecond,
		},
	)

	mux := http.NewServeMux()
	NewSettlementHTTPHandler(svc).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, l
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCheckoutEndpoint(t *testing.T) {
	server, l := newTestServer(t)
	if _, err := l.Stock(context.Background(), "v1", "alice", 5); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, server.URL+"/checkout", map[string]interface{}{
		"buyerId":    "buyer-1",
		"instrument": "card-1",
		"items":      []map[string]interface{}{{"variantId": "v1", "vendorId": "alice", "qty": 2}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Lines  []struct {
			Status    string `json:"status"`
			UnitPrice string `json:"unitPrice"`
		} `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatal(err)
	}
	if order.Status != "CONFIRMED" || len(order.Lines) != 1 || order.Lines[0].UnitPrice != "25" {
		t.Fatalf("unexpected order view: %+v", order)
	}

	// 查询同一订单
	getResp, err := http.Get(server.URL + "/orders?id=" + order.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get order status = %d, want 200", getResp.StatusCode)
	}
}

func TestCheckoutEndpointErrorMapping(t *testing.T) {
	server, l := newTestServer(t)
	if _, err := l.Stock(context.Background(), "v1", "alice", 1); err != nil {
		t.Fatal(err)
	}

	// 库存不足 → 409
	resp := postJSON(t, server.URL+"/checkout", map[string]interface{}{
		"buyerId":    "buyer-1",
		"instrument": "card-1",
		"items":      []map[string]interface{}{{"variantId": "v1", "vendorId": "alice", "qty": 2}},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("oversell status = %d, want 409", resp.StatusCode)
	}

	// 结构校验失败不会落到 2xx
	resp = postJSON(t, server.URL+"/checkout", map[string]interface{}{"buyerId": ""})
	if resp.StatusCode < 400 {
		t.Fatalf("validation status = %d, want an error status", resp.StatusCode)
	}

	// 未知订单 → 404
	getResp, err := http.Get(server.URL + "/orders?id=no-such-order")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown order status = %d, want 404", getResp.StatusCode)
	}

	// GET /checkout 不允许
	getResp2, err := http.Get(server.URL + "/checkout")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp2.Body.Close()
	if getResp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET checkout status = %d, want 405", getResp2.StatusCode)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/inventory/stock", map[string]interface{}{
		"variantId": "v9", "vendorId": "carol", "qty": 7,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stock status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(server.URL + "/inventory?variant_id=v9&vendor_id=carol")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var view struct {
		Available int64 `json:"available"`
		Reserved  int64 `json:"reserved"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Available != 7 || view.Reserved != 0 {
		t.Fatalf("inventory view = %+v, want 7/0", view)
	}
}
