package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/procuremesh/procuremesh/internal/platform/httpx"
	"github.com/procuremesh/procuremesh/internal/shared"
)

// Handler exposes the workflow engine over JSON endpoints. Identity arrives
// pre-authenticated in the request context; handlers only scope mutations to
// the owning company or vendor.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	cache    *StatusCache
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cache *StatusCache) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, cache: cache, validate: validator.New()}
}

// MountRoutes registers workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/indents", h.createIndent)
	r.Get("/indents", h.listIndents)
	r.Get("/indents/{id}", h.getIndent)
	r.Post("/indents/{id}/split", h.splitIndent)

	r.Patch("/suborders/{id}/shipping", h.updateShipping)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Get("/orders/{id}/suborders", h.listSuborders)

	r.Post("/grns", h.createGRN)
	r.Post("/grns/{id}/submit", h.submitGRN)
	r.Post("/grns/{id}/approve", h.approveGRN)
	r.Post("/grns/{id}/reject", h.rejectGRN)

	r.Post("/invoices", h.createInvoice)
	r.Post("/invoices/{id}/submit", h.submitInvoice)
	r.Post("/invoices/{id}/approve", h.approveInvoice)
	r.Post("/invoices/{id}/reject", h.rejectInvoice)

	r.Post("/payments", h.createPayment)
	r.Post("/payments/{id}/complete", h.completePayment)
	r.Post("/payments/{id}/fail", h.failPayment)

	r.Post("/vendor-indents/{id}/close-check", h.closeCheck)
}

type createIndentRequest struct {
	RefNo  string `json:"ref_no" validate:"required"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	SiteID int64  `json:"site_id"`
}

func (h *Handler) createIndent(w http.ResponseWriter, r *http.Request) {
	var req createIndentRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	indent, err := h.service.CreateIndent(r.Context(), CreateIndentInput{
		RefNo:       req.RefNo,
		Date:        parseDate(req.Date),
		CompanyID:   actor.CompanyID,
		SiteID:      req.SiteID,
		CreatedBy:   actor.EmployeeID,
		CreatorRole: actor.Role,
	})
	if err != nil {
		h.respondErr(w, r, "create indent", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, indentResponse(indent))
}

func (h *Handler) listIndents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	actor := shared.ActorFromContext(r.Context())
	filters := ListFilters{
		Status:    r.URL.Query().Get("status"),
		CompanyID: actor.CompanyID,
		Search:    r.URL.Query().Get("search"),
		SortBy:    r.URL.Query().Get("sort"),
		SortDir:   r.URL.Query().Get("dir"),
	}
	indents, total, err := h.service.ListIndents(r.Context(), limit, offset, filters)
	if err != nil {
		h.respondErr(w, r, "list indents", err)
		return
	}
	items := make([]map[string]any, 0, len(indents))
	for _, ind := range indents {
		items = append(items, indentResponse(ind))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}

func (h *Handler) getIndent(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	indent, vis, err := h.service.GetIndent(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, "get indent", err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if actor.CompanyID != 0 && actor.CompanyID != indent.CompanyID {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "indent not found")
		return
	}
	resp := indentResponse(indent)
	vendorItems := make([]map[string]any, 0, len(vis))
	for _, vi := range vis {
		vendorItems = append(vendorItems, map[string]any{
			"id":             vi.ID,
			"vendor_id":      vi.VendorID,
			"status":         vi.Status,
			"total_items":    vi.TotalItems,
			"total_quantity": vi.TotalQuantity,
			"total_amount":   vi.TotalAmount,
		})
	}
	resp["vendor_indents"] = vendorItems
	httpx.JSON(w, http.StatusOK, resp)
}

type splitIndentRequest struct {
	OrderID int64              `json:"order_id" validate:"required,gt=0"`
	Lines   []splitLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type splitLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Amount    float64 `json:"amount" validate:"gte=0"`
}

func (h *Handler) splitIndent(w http.ResponseWriter, r *http.Request) {
	var req splitIndentRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]OrderLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, OrderLineInput{ProductID: l.ProductID, Quantity: l.Quantity, Amount: l.Amount})
	}
	allocations, err := h.service.SplitIndent(r.Context(), SplitIndentInput{
		IndentID: urlID(r),
		OrderID:  req.OrderID,
		Lines:    lines,
	})
	if err != nil {
		h.respondErr(w, r, "split indent", err)
		return
	}
	h.cache.Invalidate(r.Context(), req.OrderID)
	items := make([]map[string]any, 0, len(allocations))
	for _, alloc := range allocations {
		items = append(items, map[string]any{
			"vendor_indent_id": alloc.VendorIndent.ID,
			"vendor_id":        alloc.VendorIndent.VendorID,
			"suborder_id":      alloc.Suborder.ID,
			"total_items":      alloc.VendorIndent.TotalItems,
			"total_quantity":   alloc.VendorIndent.TotalQuantity,
			"total_amount":     alloc.VendorIndent.TotalAmount,
		})
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"allocations": items})
}

type updateShippingRequest struct {
	CarrierName    *string `json:"carrier_name"`
	ConsignmentNo  *string `json:"consignment_no"`
	ShipDate       *string `json:"ship_date" validate:"omitempty,datetime=2006-01-02"`
	ShipmentStatus *string `json:"shipment_status"`
}

func (h *Handler) updateShipping(w http.ResponseWriter, r *http.Request) {
	var req updateShippingRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := UpdateShippingInput{
		SuborderID:    urlID(r),
		CarrierName:   req.CarrierName,
		ConsignmentNo: req.ConsignmentNo,
	}
	if req.ShipDate != nil {
		d := parseDate(*req.ShipDate)
		input.ShipDate = &d
	}
	if req.ShipmentStatus != nil {
		status := ShipmentStatus(*req.ShipmentStatus)
		input.ShipmentStatus = &status
	}
	sub, err := h.service.UpdateSuborderShipping(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, "update shipping", err)
		return
	}
	h.cache.Invalidate(r.Context(), sub.OrderID)
	httpx.JSON(w, http.StatusOK, suborderResponse(sub))
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := urlID(r)
	status, err := h.cache.FetchStatus(r.Context(), orderID, func(ctx context.Context) (string, error) {
		derived, _, err := h.service.OrderStatus(ctx, orderID)
		return derived, err
	})
	if err != nil {
		h.respondErr(w, r, "order status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": orderID, "status": status})
}

func (h *Handler) listSuborders(w http.ResponseWriter, r *http.Request) {
	_, suborders, err := h.service.OrderStatus(r.Context(), urlID(r))
	if err != nil {
		h.respondErr(w, r, "list suborders", err)
		return
	}
	items := make([]map[string]any, 0, len(suborders))
	for _, sub := range suborders {
		items = append(items, suborderResponse(sub))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suborders": items})
}

type createGRNRequest struct {
	VendorIndentID int64  `json:"vendor_indent_id" validate:"required,gt=0"`
	Number         string `json:"number"`
	Date           string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Remarks        string `json:"remarks"`
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var req createGRNRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	grn, err := h.service.CreateGRN(r.Context(), CreateGRNInput{
		VendorIndentID: req.VendorIndentID,
		VendorID:       actor.VendorID,
		Number:         req.Number,
		Date:           parseDate(req.Date),
		Remarks:        req.Remarks,
	})
	if err != nil {
		h.respondErr(w, r, "create grn", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":               grn.ID,
		"number":           grn.Number,
		"vendor_indent_id": grn.VendorIndentID,
		"status":           grn.Status,
	})
}

func (h *Handler) submitGRN(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "submit grn", h.service.SubmitGRN)
}

func (h *Handler) approveGRN(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "approve grn", h.service.ApproveGRN)
}

func (h *Handler) rejectGRN(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "reject grn", h.service.RejectGRN)
}

type createInvoiceRequest struct {
	VendorIndentID int64   `json:"vendor_indent_id" validate:"required,gt=0"`
	Number         string  `json:"number"`
	Date           string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	inv, err := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		VendorIndentID: req.VendorIndentID,
		VendorID:       actor.VendorID,
		Number:         req.Number,
		Date:           parseDate(req.Date),
		Amount:         req.Amount,
	})
	if err != nil {
		h.respondErr(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":               inv.ID,
		"number":           inv.Number,
		"vendor_indent_id": inv.VendorIndentID,
		"amount":           inv.Amount,
		"status":           inv.Status,
	})
}

func (h *Handler) submitInvoice(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "submit invoice", h.service.SubmitInvoice)
}

func (h *Handler) approveInvoice(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "approve invoice", h.service.ApproveInvoice)
}

func (h *Handler) rejectInvoice(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "reject invoice", h.service.RejectInvoice)
}

type createPaymentRequest struct {
	InvoiceID int64   `json:"invoice_id" validate:"required,gt=0"`
	Reference string  `json:"reference"`
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	pay, err := h.service.CreatePayment(r.Context(), PaymentInput{
		InvoiceID: req.InvoiceID,
		Reference: req.Reference,
		Date:      parseDate(req.Date),
		Amount:    req.Amount,
	})
	if err != nil {
		h.respondErr(w, r, "create payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":         pay.ID,
		"invoice_id": pay.InvoiceID,
		"reference":  pay.Reference,
		"amount":     pay.Amount,
		"status":     pay.Status,
	})
}

func (h *Handler) completePayment(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "complete payment", h.service.CompletePayment)
}

func (h *Handler) failPayment(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "fail payment", h.service.FailPayment)
}

func (h *Handler) closeCheck(w http.ResponseWriter, r *http.Request) {
	closed, err := h.service.CheckAndCloseIndent(r.Context(), urlID(r))
	if err != nil {
		h.respondErr(w, r, "close check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"closed": closed})
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, int64) error) {
	if err := fn(r.Context(), urlID(r)); err != nil {
		h.respondErr(w, r, action, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// decode reads and validates the JSON body, writing the error response on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidState), errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func indentResponse(ind Indent) map[string]any {
	return map[string]any{
		"id":         ind.ID,
		"ref_no":     ind.RefNo,
		"date":       ind.Date.Format("2006-01-02"),
		"company_id": ind.CompanyID,
		"site_id":    ind.SiteID,
		"status":     ind.Status,
	}
}

func suborderResponse(sub OrderSuborder) map[string]any {
	resp := map[string]any{
		"id":               sub.ID,
		"order_id":         sub.OrderID,
		"vendor_id":        sub.VendorID,
		"vendor_indent_id": sub.VendorIndentID,
		"carrier_name":     sub.CarrierName,
		"consignment_no":   sub.ConsignmentNo,
		"shipment_status":  sub.ShipmentStatus,
		"suborder_status":  sub.SuborderStatus,
	}
	if !sub.ShipDate.IsZero() {
		resp["ship_date"] = sub.ShipDate.Format("2006-01-02")
	}
	return resp
}

func urlID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func parseDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", value)
	return t
}
