package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/models"
	"github.com/tahcohcat/vocalize-web/internal/services"
)

type HistoryHandler struct {
	history *services.HistoryService
	logger  *logger.Log
}

func NewHistoryHandler(history *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger.New().With("component", "history"),
	}
}

func (h *HistoryHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/history", h.List).Methods("GET")
	r.HandleFunc("/history/stats", h.Stats).Methods("GET")
	r.HandleFunc("/history/latest", h.Latest).Methods("GET")
	r.HandleFunc("/history/{id:[0-9]+}", h.Get).Methods("GET")
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

// GET /history?engine=&language=&limit=&offset=
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.history.List(r.Context(), models.HistoryFilter{
		Engine:   r.URL.Query().Get("engine"),
		Language: r.URL.Query().Get("language"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.logger.WithError(err).Error("failed to list history")
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": records,
		"count":   len(records),
	})
}

// GET /history/stats
func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.history.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to load history stats")
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /history/latest
func (h *HistoryHandler) Latest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.Latest(r.Context())
	h.writeRecord(w, rec, err)
}

// GET /history/{id}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rec, err := h.history.Get(r.Context(), id)
	h.writeRecord(w, rec, err)
}

func (h *HistoryHandler) writeRecord(w http.ResponseWriter, rec *models.Synthesis, err error) {
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Synthesis not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to load synthesis")
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
