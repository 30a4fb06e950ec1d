package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler exposes catalog HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleListItems)
	r.Get("/items/{id}", h.handleGetItem)
	r.Post("/items", h.handleCreateItem)
	r.Put("/items/{id}", h.handleUpdateItem)
	r.Get("/locations", h.handleListLocations)
	r.Get("/locations/{id}", h.handleGetLocation)
	r.Post("/locations", h.handleCreateLocation)
	r.Put("/locations/{id}", h.handleUpdateLocation)
}

type itemRequest struct {
	SKU                string          `json:"sku" validate:"required,max=50"`
	Name               string          `json:"name" validate:"required,max=200"`
	UnitOfMeasure      string          `json:"unit_of_measure" validate:"omitempty,max=20"`
	StandardRate       decimal.Decimal `json:"standard_rate"`
	IsStockTracked     *bool           `json:"is_stock_tracked"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
	IsActive           *bool           `json:"is_active"`
}

func (req itemRequest) toItem() Item {
	item := Item{
		SKU:                req.SKU,
		Name:               req.Name,
		UnitOfMeasure:      req.UnitOfMeasure,
		StandardRate:       req.StandardRate,
		IsStockTracked:     true,
		AllowNegativeStock: req.AllowNegativeStock,
		IsActive:           true,
	}
	if req.IsStockTracked != nil {
		item.IsStockTracked = *req.IsStockTracked
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}
	return item
}

type locationRequest struct {
	Code     string `json:"code" validate:"required,max=50"`
	Name     string `json:"name" validate:"required,max=200"`
	ParentID *int64 `json:"parent_id"`
	IsGroup  bool   `json:"is_group"`
	IsActive *bool  `json:"is_active"`
}

func (req locationRequest) toLocation() Location {
	loc := Location{
		Code:     req.Code,
		Name:     req.Name,
		ParentID: req.ParentID,
		IsGroup:  req.IsGroup,
		IsActive: true,
	}
	if req.IsActive != nil {
		loc.IsActive = *req.IsActive
	}
	return loc
}

type listResponse[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	items, total, err := h.service.ListItems(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[Item]{
		Data:       items,
		Pagination: shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	item, err := h.service.CreateItem(r.Context(), req.toItem())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateItem(r.Context(), id, req.toItem()); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	locations, total, err := h.service.ListLocations(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[Location]{
		Data:       locations,
		Pagination: shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	loc, err := h.service.GetLocation(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	loc, err := h.service.CreateLocation(r.Context(), req.toLocation())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loc)
}

func (h *Handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateLocation(r.Context(), id, req.toLocation()); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func listFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := ListFilters{Page: page, Limit: limit, Search: q.Get("q")}
	if v := q.Get("is_active"); v != "" {
		active := v == "true" || v == "1"
		filters.IsActive = &active
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	return filters
}
