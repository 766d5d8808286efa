// internal/settlement/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/settlement/application"
	"bazaar/internal/settlement/domain"
)

// SettlementHTTPHandler 是结算引擎的同步入口，负责协议转换：
// 解析请求、调用应用服务、把领域错误映射到 HTTP 状态码。
type SettlementHTTPHandler struct {
	appSvc *application.SettlementService
}

func NewSettlementHTTPHandler(appSvc *application.SettlementService) *SettlementHTTPHandler {
	return &SettlementHTTPHandler{appSvc: appSvc}
}

// RegisterRoutes 把全部业务路由挂到 mux 上。
func (h *SettlementHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/checkout", h.handleCheckout)
	mux.HandleFunc("/fulfillment/advance", h.handleAdvanceFulfillment)
	mux.HandleFunc("/disputes/open", h.handleOpenDispute)
	mux.HandleFunc("/disputes/resolve", h.handleResolveDispute)
	mux.HandleFunc("/orders", h.handleGetOrder)
	mux.HandleFunc("/inventory", h.handleGetInventory)
	mux.HandleFunc("/inventory/stock", h.handleStockInventory)
}

func (h *SettlementHTTPHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req application.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}

	order, err := h.appSvc.Checkout(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(order))
}

type advanceRequest struct {
	OrderID   string `json:"orderId"`
	LineIndex int    `json:"lineIndex"`
	Event     string `json:"event"`
}

func (h *SettlementHTTPHandler) handleAdvanceFulfillment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("orderId is required"))
		return
	}

	line, err := h.appSvc.AdvanceFulfillment(r.Context(), req.OrderID, req.LineIndex,
		application.FulfillmentEvent(req.Event))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineView(req.LineIndex, line))
}

type openDisputeRequest struct {
	OrderID   string `json:"orderId"`
	LineIndex int    `json:"lineIndex"`
	Reason    string `json:"reason"`
}

func (h *SettlementHTTPHandler) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}

	dispute, err := h.appSvc.OpenDispute(r.Context(), req.OrderID, req.LineIndex, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeView(dispute))
}

type resolveDisputeRequest struct {
	DisputeID string `json:"disputeId"`
	Outcome   string `json:"outcome"`
	Amount    string `json:"amount,omitempty"` // 仅 PARTIAL_REFUND 需要
}

func (h *SettlementHTTPHandler) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}

	outcome := domain.DisputeOutcome{Kind: domain.DisputeOutcomeKind(req.Outcome)}
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrapf(err, "invalid amount %q", req.Amount))
			return
		}
		outcome.Amount = amount
	}

	dispute, err := h.appSvc.ResolveDispute(r.Context(), req.DisputeID, outcome)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeView(dispute))
}

func (h *SettlementHTTPHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	order, err := h.appSvc.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (h *SettlementHTTPHandler) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	variantID := r.URL.Query().Get("variant_id")
	vendorID := r.URL.Query().Get("vendor_id")
	if variantID == "" || vendorID == "" {
		writeError(w, http.StatusBadRequest, errors.New("variant_id and vendor_id are required"))
		return
	}
	rec, err := h.appSvc.GetInventory(r.Context(), variantID, vendorID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryView(rec))
}

type stockRequest struct {
	VariantID string `json:"variantId"`
	VendorID  string `json:"vendorId"`
	Qty       int64  `json:"qty"`
}

func (h *SettlementHTTPHandler) handleStockInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if req.VariantID == "" || req.VendorID == "" || req.Qty <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("variantId, vendorId and positive qty are required"))
		return
	}

	rec, err := h.appSvc.StockInventory(r.Context(), req.VariantID, req.VendorID, req.Qty)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryView(rec))
}

// ---- 视图模型 ----

type orderView struct {
	ID        string     `json:"id"`
	BuyerID   string     `json:"buyerId"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	Lines     []lineView `json:"lines"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type lineView struct {
	Index       int        `json:"index"`
	VariantID   string     `json:"variantId"`
	VendorID    string     `json:"vendorId"`
	Qty         int64      `json:"qty"`
	UnitPrice   string     `json:"unitPrice"`
	Status      string     `json:"status"`
	Refunded    string     `json:"refunded"`
	ShippedAt   *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

type disputeView struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	LineIndex  int        `json:"lineIndex"`
	Reason     string     `json:"reason"`
	State      string     `json:"state"`
	Outcome    string     `json:"outcome,omitempty"`
	Amount     string     `json:"amount,omitempty"`
	OpenedAt   time.Time  `json:"openedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

type inventoryView struct {
	VariantID string `json:"variantId"`
	VendorID  string `json:"vendorId"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

func toOrderView(order *domain.Order) orderView {
	view := orderView{
		ID:        order.ID,
		BuyerID:   order.BuyerID,
		Currency:  order.Currency,
		Status:    string(domain.DeriveStatus(order.Lines)),
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	for i := range order.Lines {
		view.Lines = append(view.Lines, toLineView(i, &order.Lines[i]))
	}
	return view
}

func toLineView(index int, line *domain.OrderLine) lineView {
	return lineView{
		Index:       index,
		VariantID:   line.VariantID,
		VendorID:    line.VendorID,
		Qty:         line.Qty,
		UnitPrice:   line.UnitPrice.String(),
		Status:      string(line.Status),
		Refunded:    line.Refunded.String(),
		ShippedAt:   line.ShippedAt,
		DeliveredAt: line.DeliveredAt,
	}
}

func toDisputeView(d *domain.Dispute) disputeView {
	view := disputeView{
		ID:         d.ID,
		OrderID:    d.OrderID,
		LineIndex:  d.LineIndex,
		Reason:     d.Reason,
		State:      string(d.State),
		OpenedAt:   d.OpenedAt,
		ResolvedAt: d.ResolvedAt,
	}
	if d.Outcome != nil {
		view.Outcome = string(d.Outcome.Kind)
		if d.Outcome.Kind == domain.OutcomePartialRefund {
			view.Amount = d.Outcome.Amount.String()
		}
	}
	return view
}

func toInventoryView(rec *domain.InventoryRecord) inventoryView {
	return inventoryView{
		VariantID: rec.VariantID,
		VendorID:  rec.VendorID,
		Available: rec.Available,
		Reserved:  rec.Reserved,
	}
}

// ---- 错误映射 ----

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidLineTransition),
		errors.Is(err, domain.ErrDisputeConflict),
		errors.Is(err, domain.ErrOverRelease):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPaymentAuthorizationFailed):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPricingUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrExternalTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInventoryNotFound),
		errors.Is(err, domain.ErrHoldNotFound),
		errors.Is(err, domain.ErrDisputeNotFound),
		errors.Is(err, domain.ErrUnknownReservation):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).
			Msg("Request failed with internal error")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
