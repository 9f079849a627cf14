package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/scraper-service/internal/delivery/http/request"
	"github.com/user/scraper-service/internal/delivery/http/response"
	"github.com/user/scraper-service/internal/entity"
	"github.com/user/scraper-service/internal/usecase"
)

type Handler struct {
	scraper usecase.Scraper
}

func NewHandler(scraper usecase.Scraper) *Handler {
	return &Handler{scraper: scraper}
}

func (h *Handler) HandleScrapeGitHub(w http.ResponseWriter, r *http.Request) {
	h.handleScrape(w, r, entity.KindGitHub)
}

func (h *Handler) HandleScrapeWebsite(w http.ResponseWriter, r *http.Request) {
	h.handleScrape(w, r, entity.KindWebsite)
}

func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request, kind entity.TaskKind) {
	req, ok := h.decodeScrapeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.scraper.ScrapeBatch(r.Context(), req.URLs, kind, req.SaveToRemote)
	if err != nil {
		slog.Error("scrape batch failed", "kind", kind, "error", err)
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleScrapeAuto(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeScrapeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.scraper.ScrapeAuto(r.Context(), req.URLs, req.SaveToRemote)
	if err != nil {
		slog.Error("auto scrape failed", "error", err)
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleGetData(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.PathValue("kind"))
	if !ok {
		h.writeJSONError(w, "kind must be github or website", http.StatusBadRequest)
		return
	}

	dataset, err := h.scraper.GetData(r.Context(), kind, r.URL.Query().Get("source"))
	if err != nil {
		if errors.Is(err, usecase.ErrNoStore) {
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("failed to load dataset", "kind", kind, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := response.DataResponse{
		Headers: dataset.Headers,
		Total:   len(dataset.Rows),
	}
	for _, row := range dataset.Rows {
		resp.Rows = append(resp.Rows, row)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req request.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.URLs) == 0 {
		h.writeJSONError(w, "At least one URL is required", http.StatusBadRequest)
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		h.writeJSONError(w, "kind must be github or website", http.StatusBadRequest)
		return
	}

	result, err := h.scraper.DeleteByURLs(r.Context(), req.URLs, kind)
	if err != nil {
		slog.Error("delete failed", "kind", kind, "error", err)
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Partial failures come back as 207-style payload with status 200; the
	// errors list tells the caller which backend declined.
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleClean(w http.ResponseWriter, r *http.Request) {
	var req request.CleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		h.writeJSONError(w, "kind must be github or website", http.StatusBadRequest)
		return
	}

	removed, err := h.scraper.CleanDuplicates(r.Context(), kind, req.Source)
	if err != nil {
		if errors.Is(err, usecase.ErrNoStore) {
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("clean failed", "kind", kind, "error", err)
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.CleanResponse{Status: "success", Removed: removed})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decodeScrapeRequest(w http.ResponseWriter, r *http.Request) (request.ScrapeRequest, bool) {
	var req request.ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	if len(req.URLs) == 0 {
		h.writeJSONError(w, "At least one URL is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func parseKind(s string) (entity.TaskKind, bool) {
	switch entity.TaskKind(s) {
	case entity.KindGitHub:
		return entity.KindGitHub, true
	case entity.KindWebsite:
		return entity.KindWebsite, true
	}
	return "", false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
