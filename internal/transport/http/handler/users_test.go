package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-auth-api/internal/config"
	"github.com/go-auth-api/internal/domain"
	jwtinfra "github.com/go-auth-api/internal/infrastructure/jwt"
	"github.com/go-auth-api/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUserDirectory struct{ mock.Mock }

func (m *mockUserDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUserDirectory) ListUsers(ctx context.Context, limit int32, cursor string) ([]domain.User, string, error) {
	args := m.Called(ctx, limit, cursor)
	users, _ := args.Get(0).([]domain.User)
	return users, args.String(1), args.Error(2)
}

func newTestProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	p, err := jwtinfra.NewProvider(&config.Config{
		AccessTokenSecret:  "test-access-secret",
		RefreshTokenSecret: "test-refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
	})
	require.NoError(t, err)
	return p
}

// bearerReq builds a request with a signed access token for the given
// user and role.
func bearerReq(t *testing.T, p *jwtinfra.Provider, method, target, userID, role string) *http.Request {
	t.Helper()
	pair, err := p.IssuePair(userID, "alice", role)
	require.NoError(t, err)
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	return r
}

func TestMe_MissingClaims(t *testing.T) {
	h := NewUserHandler(&mockUserDirectory{})
	r := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	rr := httptest.NewRecorder()
	h.Me(rr, r) // called directly, no claims in context
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMe_HidesSensitiveFields(t *testing.T) {
	p := newTestProvider(t)
	dir := &mockUserDirectory{}
	dir.On("GetUser", mock.Anything, "u1").Return(&domain.User{
		UserID:       "u1",
		Email:        "a@b.com",
		Username:     "alice",
		PasswordHash: "$2a$10$secret",
		RefreshToken: "ref",
		Role:         domain.RoleStaff,
		Verified:     true,
	}, nil)
	h := NewUserHandler(dir)

	r := bearerReq(t, p, http.MethodGet, "/v1/users/me", "u1", domain.RoleStaff)
	rr := httptest.NewRecorder()
	middleware.Auth(p)(http.HandlerFunc(h.Me)).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "a@b.com", resp["email"])
	_, hasHash := resp["password_hash"]
	assert.False(t, hasHash)
	_, hasToken := resp["refresh_token"]
	assert.False(t, hasToken)
	dir.AssertExpectations(t)
}

func TestList_DefaultLimit(t *testing.T) {
	dir := &mockUserDirectory{}
	dir.On("ListUsers", mock.Anything, int32(50), "").Return([]domain.User{
		{UserID: "u1", Username: "alice"},
	}, "next-cursor", nil)
	h := NewUserHandler(dir)

	r := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	rr := httptest.NewRecorder()
	h.List(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp PaginatedUsersEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "next-cursor", resp.NextCursor)
	dir.AssertExpectations(t)
}

func TestList_CustomLimitAndCursor(t *testing.T) {
	dir := &mockUserDirectory{}
	dir.On("ListUsers", mock.Anything, int32(10), "abc").Return([]domain.User{}, "", nil)
	h := NewUserHandler(dir)

	r := httptest.NewRequest(http.MethodGet, "/v1/users?limit=10&cursor=abc", nil)
	rr := httptest.NewRecorder()
	h.List(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	dir.AssertExpectations(t)
}

func TestList_LimitCapped(t *testing.T) {
	dir := &mockUserDirectory{}
	// Limits above 100 fall back to the default.
	dir.On("ListUsers", mock.Anything, int32(50), "").Return([]domain.User{}, "", nil)
	h := NewUserHandler(dir)

	r := httptest.NewRequest(http.MethodGet, "/v1/users?limit=5000", nil)
	rr := httptest.NewRecorder()
	h.List(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	dir.AssertExpectations(t)
}
