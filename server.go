package inventory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gofalre.io/inventory/ledger"
	"gofalre.io/inventory/reservation"
)

// Server exposes the reservation lifecycle and stock operations over HTTP.
type Server struct {
	service Service
	logger  *zap.Logger
}

func NewServer(service Service, logger *zap.Logger) *Server {
	return &Server{service: service, logger: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/inventory/stock-operations/reserve", s.handleReserve)
	mux.HandleFunc("GET /api/inventory/stock-operations/reservations/{id}", s.handleGetReservation)
	mux.HandleFunc("POST /api/inventory/stock-operations/reservations/{id}/fulfill", s.handleFulfill)
	mux.HandleFunc("DELETE /api/inventory/stock-operations/reservations/{id}", s.handleRelease)
	mux.HandleFunc("DELETE /api/inventory/stock-operations/orders/{orderId}/reservations", s.handleReleaseOrder)
	mux.HandleFunc("POST /api/inventory/stock-operations/transfer", s.handleTransfer)
	mux.HandleFunc("POST /api/inventory/stock-operations/adjust", s.handleAdjust)
	mux.HandleFunc("GET /api/inventory/stock-levels", s.handleGetStockLevel)
	mux.HandleFunc("GET /api/inventory/stock-movements", s.handleListMovements)
}

type reserveRequest struct {
	ProductID   uuid.UUID  `json:"product_id"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	OrderLineID *uuid.UUID `json:"order_line_id,omitempty"`
	Quantity    int64      `json:"quantity"`
	TTLSeconds  int64      `json:"ttl_seconds,omitempty"`
}

type transferRequest struct {
	ProductID       uuid.UUID `json:"product_id"`
	FromWarehouseID uuid.UUID `json:"from_warehouse_id"`
	ToWarehouseID   uuid.UUID `json:"to_warehouse_id"`
	Quantity        int64     `json:"quantity"`
	Reason          string    `json:"reason,omitempty"`
}

type adjustRequest struct {
	ProductID      uuid.UUID `json:"product_id"`
	WarehouseID    uuid.UUID `json:"warehouse_id"`
	QuantityChange int64     `json:"quantity_change"`
	Reason         string    `json:"reason,omitempty"`
	Reference      string    `json:"reference,omitempty"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", "request body is not valid JSON")
		return
	}

	res, err := s.service.CreateReservation(r.Context(), CreateReservationRequest{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		OrderID:     req.OrderID,
		OrderLineID: req.OrderLineID,
		Quantity:    req.Quantity,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := s.service.GetReservation(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := s.service.FulfillReservation(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	res, err := s.service.ReleaseReservation(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleReleaseOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	if err := s.service.ReleaseOrderReservations(r.Context(), orderID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", "request body is not valid JSON")
		return
	}

	if err := s.service.TransferStock(r.Context(), TransferStockRequest{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
	}); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", "request body is not valid JSON")
		return
	}

	level, err := s.service.AdjustStock(r.Context(), AdjustStockRequest{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		QuantityChange: req.QuantityChange,
		Reason:         req.Reason,
		Reference:      req.Reference,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, level)
}

func (s *Server) handleGetStockLevel(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := s.queryPair(w, r)
	if !ok {
		return
	}

	level, err := s.service.GetStockLevel(r.Context(), productID, warehouseID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, level)
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := s.queryPair(w, r)
	if !ok {
		return
	}

	limit := queryUint(r, "limit", 50)
	offset := queryUint(r, "offset", 0)

	movements, err := s.service.ListStockMovements(r.Context(), productID, warehouseID, limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, movements)
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", name+" is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) queryPair(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	productID, err := uuid.Parse(r.URL.Query().Get("product_id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", "product_id is not a valid uuid")
		return uuid.Nil, uuid.Nil, false
	}
	warehouseID, err := uuid.Parse(r.URL.Query().Get("warehouse_id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", "warehouse_id is not a valid uuid")
		return uuid.Nil, uuid.Nil, false
	}
	return productID, warehouseID, true
}

func queryUint(r *http.Request, name string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientStock):
		s.respondError(w, http.StatusBadRequest, "InsufficientStock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ledger.ErrInvalidAdjustment):
		s.respondError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, reservation.ErrNotFound), errors.Is(err, ledger.ErrStockLevelNotFound):
		s.respondError(w, http.StatusNotFound, "NotFound", err.Error())
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "InternalError", "internal server error")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{Error: code, Message: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
