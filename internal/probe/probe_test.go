package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_StatusOK(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, userAgent, r.UserAgent())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	p := NewHTTPProber(2 * time.Second)
	assert.Equal(t, http.StatusOK, p.Probe(context.Background(), s.URL))
}

func TestHTTPProber_ServerError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer s.Close()

	p := NewHTTPProber(2 * time.Second)
	assert.Equal(t, http.StatusInternalServerError, p.Probe(context.Background(), s.URL))
}

func TestHTTPProber_FollowsRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()
	s := httptest.NewServer(http.RedirectHandler(target.URL, http.StatusFound))
	defer s.Close()

	p := NewHTTPProber(2 * time.Second)
	assert.Equal(t, http.StatusNoContent, p.Probe(context.Background(), s.URL))
}

func TestHTTPProber_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer s.Close()
	defer close(release)

	p := NewHTTPProber(50 * time.Millisecond)
	start := time.Now()
	assert.Equal(t, StatusUnreachable, p.Probe(context.Background(), s.URL))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPProber_ConnectionRefused(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL
	s.Close()

	p := NewHTTPProber(time.Second)
	assert.Equal(t, StatusUnreachable, p.Probe(context.Background(), url))
}

func TestHTTPProber_BadURL(t *testing.T) {
	p := NewHTTPProber(time.Second)
	assert.Equal(t, StatusUnreachable, p.Probe(context.Background(), "://not a url"))
	assert.Equal(t, StatusUnreachable, p.Probe(context.Background(), "ftp://example.invalid/file"))
}

func TestHTTPProber_ContextCancelled(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHTTPProber(time.Second)
	require.Equal(t, StatusUnreachable, p.Probe(ctx, s.URL))
}
