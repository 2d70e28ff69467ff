package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/auth"
	"github.com/dukerupert/updown/internal/model"
	"github.com/dukerupert/updown/internal/store"
)

type Sites interface {
	Create(ctx context.Context, userID int64, url string) (*model.Site, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Site, error)
}

type Responses interface {
	LatestForSite(ctx context.Context, siteID int64) (*model.Response, error)
}

type SiteHandler struct {
	sites     Sites
	responses Responses
	logger    *zap.Logger
}

func NewSiteHandler(sites Sites, responses Responses, logger *zap.Logger) *SiteHandler {
	return &SiteHandler{sites: sites, responses: responses, logger: logger}
}

// siteStatus is a site with its most recent observation, nil before the
// first probe.
type siteStatus struct {
	model.Site
	Latest *model.Response `json:"latest"`
}

// List expects RequireUser to have resolved the owner.
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	sites, err := h.sites.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list sites", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sites")
		return
	}

	out := make([]siteStatus, 0, len(sites))
	for _, s := range sites {
		latest, err := h.responses.LatestForSite(r.Context(), s.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("latest response", zap.Int64("site_id", s.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list sites")
			return
		}
		out = append(out, siteStatus{Site: s, Latest: latest})
	}
	writeJSON(w, http.StatusOK, out)
}

type createSiteRequest struct {
	URL string `json:"url"`
}

func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req createSiteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	site, err := h.sites.Create(r.Context(), userID, req.URL)
	switch {
	case errors.Is(err, store.ErrEmptyURL):
		writeError(w, http.StatusBadRequest, "url is required")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case err != nil:
		h.logger.Error("create site", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create site")
		return
	}

	writeJSON(w, http.StatusCreated, site)
}

func (h *SiteHandler) Latest(w http.ResponseWriter, r *http.Request) {
	siteID, ok := pathID(r, "siteID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}

	latest, err := h.responses.LatestForSite(r.Context(), siteID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no responses yet")
		return
	case err != nil:
		h.logger.Error("latest response", zap.Int64("site_id", siteID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load response")
		return
	}

	writeJSON(w, http.StatusOK, latest)
}
