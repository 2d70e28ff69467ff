package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/database"
	"github.com/dukerupert/updown/internal/middleware"
	"github.com/dukerupert/updown/internal/model"
	"github.com/dukerupert/updown/internal/store"
)

func setup(t *testing.T) (*store.Gateway, http.Handler) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "handler.db"), database.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, zap.NewNop()))
	g := store.New(db)

	log := zap.NewNop()
	accounts := NewAccountHandler(g, log)
	sites := NewSiteHandler(g.Sites, g.Responses, log)

	r := chi.NewRouter()
	r.Post("/signup", accounts.Signup)
	r.Post("/login", accounts.Login)
	r.Route("/users/{userID}/sites", func(r chi.Router) {
		r.Use(middleware.RequireUser(g.Users, log))
		r.Get("/", sites.List)
		r.Post("/", sites.Create)
	})
	r.Get("/sites/{siteID}/latest", sites.Latest)
	return g, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

func TestSignupAndLogin(t *testing.T) {
	_, h := setup(t)

	rec := do(t, h, http.MethodPost, "/signup", `{"url":"https://a.test"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	signup := decodeBody[signupResponse](t, rec)
	require.NotNil(t, signup.User)
	require.NotNil(t, signup.Site)
	assert.Len(t, signup.User.LoginCode, 21)
	assert.Equal(t, "https://a.test", signup.Site.URL)
	assert.Equal(t, signup.User.ID, signup.Site.UserID)

	rec = do(t, h, http.MethodPost, "/login", `{"login_code":"`+signup.User.LoginCode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[loginResponse](t, rec)
	assert.Equal(t, signup.User.ID, login.User.ID)
	assert.False(t, login.FirstSession, "signup already recorded a login")
}

func TestSignupRejectsBadInput(t *testing.T) {
	g, h := setup(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/signup", `{"url":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/signup", `{"url":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/signup", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/signup", ``).Code)

	sites, err := g.Sites.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestLoginErrors(t *testing.T) {
	_, h := setup(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/login", `{"login_code":""}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/login", `{"login_code":"nope"}`).Code)
}

func TestSitesListWithLatest(t *testing.T) {
	g, h := setup(t)
	ctx := context.Background()
	u, first, err := g.Signup(ctx, "https://a.test")
	require.NoError(t, err)
	_, err = g.Responses.Upsert(ctx, first.ID, 503)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/users/"+itoa(u.ID)+"/sites", `{"url":"https://b.test"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeBody[model.Site](t, rec)
	assert.Equal(t, "https://b.test", second.URL)

	rec = do(t, h, http.MethodGet, "/users/"+itoa(u.ID)+"/sites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]siteStatus](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	require.NotNil(t, list[0].Latest)
	assert.Equal(t, 503, list[0].Latest.StatusCode)
	assert.Equal(t, second.ID, list[1].ID)
	assert.Nil(t, list[1].Latest)
	assert.Contains(t, rec.Body.String(), `"latest":null`)
}

func TestSitesCreateErrors(t *testing.T) {
	g, h := setup(t)
	u, _, err := g.Signup(context.Background(), "https://a.test")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/users/"+itoa(u.ID)+"/sites", `{"url":""}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/users/9999/sites", `{"url":"https://b.test"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/users/abc/sites", "").Code)
}

func TestLatest(t *testing.T) {
	g, h := setup(t)
	ctx := context.Background()
	_, site, err := g.Signup(ctx, "https://a.test")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sites/"+itoa(site.ID)+"/latest", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/sites/x/latest", "").Code)

	_, err = g.Responses.Upsert(ctx, site.ID, 200)
	require.NoError(t, err)
	_, err = g.Responses.Upsert(ctx, site.ID, 500)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/sites/"+itoa(site.ID)+"/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decodeBody[model.Response](t, rec)
	assert.Equal(t, 500, latest.StatusCode)
	assert.Equal(t, site.ID, latest.SiteID)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
