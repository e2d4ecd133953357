// Package handler implements the rainsar API endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rainsar/rainsar/internal/api/response"
	"github.com/rainsar/rainsar/internal/download"
)

// DownloadHandler exposes download start/cancel/status operations.
type DownloadHandler struct {
	manager *download.Manager
	logger  zerolog.Logger
}

// NewDownloadHandler creates a download handler.
func NewDownloadHandler(manager *download.Manager, logger zerolog.Logger) *DownloadHandler {
	return &DownloadHandler{manager: manager, logger: logger}
}

type startDownloadRequest struct {
	GridID  string `json:"grid_id"`
	Product string `json:"product"`
}

// Start launches a download in the background and returns 202. The download
// outlives the request, so it runs on a detached context.
func (h *DownloadHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	if req.GridID == "" || req.Product == "" {
		response.BadRequest(w, r, "grid_id and product are required")
		return
	}

	go func() {
		err := h.manager.Download(context.Background(), req.GridID, req.Product)
		switch {
		case err == nil:
		case errors.Is(err, download.ErrCancelled):
			h.logger.Info().Str("product", req.Product).Msg("download cancelled")
		case errors.Is(err, download.ErrAlreadyRunning):
		default:
			h.logger.Error().Err(err).Str("product", req.Product).Msg("download failed")
		}
	}()

	response.JSON(w, r, http.StatusAccepted, map[string]string{
		"grid_id": req.GridID,
		"product": download.ProductStem(req.Product),
		"state":   string(download.StateDownloading),
	})
}

// Cancel requests cooperative cancellation of an in-flight download.
func (h *DownloadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	if !h.manager.Cancel(product) {
		response.NotFound(w, r, "no download in flight for product")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{
		"product": download.ProductStem(product),
		"state":   string(download.StateCancelled),
	})
}

type statusResponse struct {
	Product string `json:"product"`
	download.Status
}

// Status reports the merged lifecycle state for a product.
func (h *DownloadHandler) Status(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	gridID := r.URL.Query().Get("grid_id")
	if gridID == "" {
		response.BadRequest(w, r, "grid_id query parameter is required")
		return
	}

	st, err := h.manager.Status(gridID, product)
	if err != nil {
		h.logger.Error().Err(err).Str("product", product).Msg("status lookup failed")
		response.InternalError(w, r, "status lookup failed")
		return
	}
	response.JSON(w, r, http.StatusOK, statusResponse{
		Product: download.ProductStem(product),
		Status:  st,
	})
}
