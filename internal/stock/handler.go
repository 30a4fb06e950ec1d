package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires the stock HTTP endpoints. Authentication and session handling
// sit in middleware outside this module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validate:  validator.New(),
		rateLimit: httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.handleBalance)
	r.Get("/ledger", h.handleHistory)
	r.Get("/entries/{id}", h.handleGetEntry)
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/entries", h.handleCreate)
		r.Put("/entries/{id}", h.handleUpdate)
		r.Delete("/entries/{id}", h.handleDiscard)
		r.Post("/entries/{id}/submit", h.handleSubmit)
		r.Post("/entries/{id}/cancel", h.handleCancel)
		r.Post("/bins/rebuild", h.handleRebuild)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateEntryInput{
		Code:      req.Code,
		Type:      EntryType(req.Type),
		Note:      req.Note,
		CreatedBy: actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, line.toInput())
	}
	entry, err := h.service.CreateDraft(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	var req updateEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, line.toInput())
	}
	entry, err := h.service.UpdateDraft(r.Context(), id, lines)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	if err := h.service.DiscardDraft(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Submit(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("stock entry submitted",
		slog.String("entry_id", entry.ID.String()),
		slog.String("type", string(entry.Type)))
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Cancel(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("stock entry cancelled", slog.String("entry_id", entry.ID.String()))
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	itemID := queryInt(r, "item_id")
	locationID := queryInt(r, "location_id")
	asOf := queryInt(r, "as_of_sequence")
	bal, err := h.service.GetBalance(r.Context(), itemID, locationID, asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		ItemID:     bal.ItemID,
		LocationID: bal.LocationID,
		Qty:        bal.Qty,
		Value:      bal.Value,
		Rate:       bal.Rate,
		AsOf:       bal.AsOf,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := LedgerFilter{
		ItemID:       queryInt(r, "item_id"),
		LocationID:   queryInt(r, "location_id"),
		FromSequence: queryInt(r, "from_sequence"),
		Limit:        int(queryInt(r, "limit")),
	}
	entries, err := h.service.GetHistory(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": toLedgerResponses(entries)})
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	itemID := queryInt(r, "item_id")
	locationID := queryInt(r, "location_id")
	if itemID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id and location_id are required")
		return
	}
	bin, err := h.service.RebuildBin(r.Context(), BinKey{ItemID: itemID, LocationID: locationID})
	if err != nil && !errors.Is(err, ErrIntegrity) {
		h.respondError(w, r, err)
		return
	}
	if errors.Is(err, ErrIntegrity) {
		h.logger.Error("bin projection diverged from ledger fold",
			slog.Int64("item_id", itemID), slog.Int64("location_id", locationID))
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		ItemID:     bin.ItemID,
		LocationID: bin.LocationID,
		Qty:        bin.Qty,
		Value:      bin.Value,
		Rate:       bin.Rate,
	})
}

func (h *Handler) entryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrContention), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrPostingFailed):
		httpx.Problem(w, http.StatusBadGateway, "Posting Failed", err.Error())
	default:
		h.logger.Error("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
