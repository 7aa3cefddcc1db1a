package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-auth-api/internal/application/auth"
	jwtinfra "github.com/go-auth-api/internal/infrastructure/jwt"
	"github.com/go-auth-api/internal/pkg/validate"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// SessionHandler handles login, logout and token rotation. Tokens travel
// both as HTTP-only cookies for browsers and in the JSON body for
// everything else.
type SessionHandler struct {
	svc        auth.Service
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewSessionHandler(svc auth.Service, accessTTL, refreshTTL time.Duration) *SessionHandler {
	return &SessionHandler{svc: svc, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	pair, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, AuthEnvelope{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := refreshTokenFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	pair, err := h.svc.RefreshAccessToken(r.Context(), token)
	if err != nil {
		httpError(w, err)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, AuthEnvelope{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := refreshTokenFrom(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		httpError(w, err)
		return
	}
	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func (h *SessionHandler) setAuthCookies(w http.ResponseWriter, pair *jwtinfra.Pair) {
	setCookie(w, accessCookie, pair.AccessToken, h.accessTTL)
	setCookie(w, refreshCookie, pair.RefreshToken, h.refreshTTL)
}

func (h *SessionHandler) clearAuthCookies(w http.ResponseWriter) {
	setCookie(w, accessCookie, "", -time.Second)
	setCookie(w, refreshCookie, "", -time.Second)
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom reads the refresh token from the cookie, falling back
// to a JSON body for clients that do not hold cookies.
func refreshTokenFrom(r *http.Request) (string, bool) {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		return body.RefreshToken, true
	}
	return "", false
}
