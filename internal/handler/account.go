package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/model"
	"github.com/dukerupert/updown/internal/store"
)

// Accounts is the part of the gateway the account endpoints need.
type Accounts interface {
	Signup(ctx context.Context, url string) (*model.User, *model.Site, error)
	Login(ctx context.Context, code string) (*model.User, bool, error)
}

type AccountHandler struct {
	accounts Accounts
	logger   *zap.Logger
}

func NewAccountHandler(accounts Accounts, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type signupRequest struct {
	URL string `json:"url"`
}

type signupResponse struct {
	User *model.User `json:"user"`
	Site *model.Site `json:"site"`
}

func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	u, site, err := h.accounts.Signup(r.Context(), req.URL)
	switch {
	case errors.Is(err, store.ErrEmptyURL):
		writeError(w, http.StatusBadRequest, "url is required")
		return
	case err != nil:
		h.logger.Error("signup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign up")
		return
	}

	h.logger.Info("user signed up", zap.Int64("user_id", u.ID), zap.Int64("site_id", site.ID))
	writeJSON(w, http.StatusCreated, signupResponse{User: u, Site: site})
}

type loginRequest struct {
	LoginCode string `json:"login_code"`
}

type loginResponse struct {
	User         *model.User `json:"user"`
	FirstSession bool        `json:"first_session"`
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	code := strings.TrimSpace(req.LoginCode)
	if code == "" {
		writeError(w, http.StatusBadRequest, "login_code is required")
		return
	}

	u, first, err := h.accounts.Login(r.Context(), code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown login code")
		return
	case err != nil:
		h.logger.Error("login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{User: u, FirstSession: first})
}
