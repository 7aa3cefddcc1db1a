package auth

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/go-auth-api/internal/config"
	"github.com/go-auth-api/internal/domain"
	jwtinfra "github.com/go-auth-api/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeStore is an in-memory UserStore + CodeStore with the same
// observable semantics as the DynamoDB implementation, for end-to-end
// lifecycle tests against a real token provider.
type fakeStore struct {
	users map[string]*domain.User
	codes map[string][]*domain.OneTimeCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]*domain.User{},
		codes: map[string][]*domain.OneTimeCode{},
	}
}

func (f *fakeStore) CreateUser(_ context.Context, u *domain.User, code *domain.OneTimeCode) error {
	for _, other := range f.users {
		if other.Email == u.Email || other.Username == u.Username {
			return domain.ErrConflict
		}
	}
	cp := *u
	f.users[u.UserID] = &cp
	f.putCode(code)
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, u *domain.User, codeIDs ...string) error {
	delete(f.users, u.UserID)
	delete(f.codes, u.UserID)
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	if u, ok := f.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	return f.findUser(func(u *domain.User) bool { return u.Email == email })
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return f.findUser(func(u *domain.User) bool { return u.Username == username })
}

func (f *fakeStore) GetUserByRefreshToken(_ context.Context, token string) (*domain.User, error) {
	return f.findUser(func(u *domain.User) bool { return u.RefreshToken != "" && u.RefreshToken == token })
}

func (f *fakeStore) SetRefreshToken(_ context.Context, userID, token string) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (f *fakeStore) ClearRefreshToken(_ context.Context, userID, token string) error {
	u, ok := f.users[userID]
	if !ok || u.RefreshToken != token {
		return domain.ErrNotFound
	}
	u.RefreshToken = ""
	return nil
}

func (f *fakeStore) VerifyUser(_ context.Context, userID, codeID string) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, c := range f.codes[userID] {
		if c.CodeID == codeID {
			if c.Used {
				return domain.ErrInvalidOrExpiredCode
			}
			c.Used = true
			u.Verified = true
			return nil
		}
	}
	return domain.ErrInvalidOrExpiredCode
}

func (f *fakeStore) ResetPassword(_ context.Context, userID, passwordHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	for _, c := range f.codes[userID] {
		if c.Purpose == domain.PurposeForgetPassword {
			c.Used = true
		}
	}
	return nil
}

func (f *fakeStore) PutCode(_ context.Context, c *domain.OneTimeCode) error {
	f.putCode(c)
	return nil
}

func (f *fakeStore) LatestValidCode(_ context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	now := time.Now()
	for _, c := range f.byPurposeDesc(userID, purpose) {
		if !c.Used && !c.Expired(now) {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) LatestCode(_ context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error) {
	if cs := f.byPurposeDesc(userID, purpose); len(cs) > 0 {
		return cs[0], nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) MarkCodeUsed(_ context.Context, userID, codeID string) error {
	for _, c := range f.codes[userID] {
		if c.CodeID == codeID {
			if c.Used {
				return domain.ErrInvalidOrExpiredCode
			}
			c.Used = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ReplaceActiveCode(_ context.Context, userID string, purpose domain.CodePurpose, c *domain.OneTimeCode) error {
	for _, old := range f.codes[userID] {
		if old.Purpose == purpose && !old.Used {
			old.Used = true
		}
	}
	f.putCode(c)
	return nil
}

func (f *fakeStore) putCode(c *domain.OneTimeCode) {
	f.codes[c.UserID] = append(f.codes[c.UserID], c)
}

func (f *fakeStore) byPurposeDesc(userID string, purpose domain.CodePurpose) []*domain.OneTimeCode {
	var out []*domain.OneTimeCode
	for _, c := range f.codes[userID] {
		if c.Purpose == purpose {
			out = append(out, c)
		}
	}
	// ULID code IDs sort lexicographically by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].CodeID > out[j].CodeID })
	return out
}

func (f *fakeStore) findUser(match func(*domain.User) bool) (*domain.User, error) {
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// recordingNotifier captures the plaintext codes instead of mailing them.
type recordingNotifier struct {
	codes map[domain.CodePurpose]string
	fail  error
}

func (r *recordingNotifier) SendCode(_ context.Context, _, code string, purpose domain.CodePurpose, _ time.Duration) error {
	if r.fail != nil {
		return r.fail
	}
	if r.codes == nil {
		r.codes = map[domain.CodePurpose]string{}
	}
	r.codes[purpose] = code
	return nil
}

func newFlowService(t *testing.T) (Service, *fakeStore, *recordingNotifier) {
	t.Helper()
	provider, err := jwtinfra.NewProvider(&config.Config{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
	})
	require.NoError(t, err)

	store := newFakeStore()
	notifier := &recordingNotifier{}
	svc := NewService(ServiceDeps{
		Users:      store,
		Codes:      store,
		Notifier:   notifier,
		Tokens:     provider,
		BcryptCost: bcrypt.MinCost,
		OTPExpiry:  5 * time.Minute,
	})
	return svc, store, notifier
}

func TestLifecycle_RegisterVerifyLoginRefreshLogout(t *testing.T) {
	svc, store, notifier := newFlowService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	}))
	code := notifier.codes[domain.PurposeRegister]
	require.Len(t, code, 6)

	// Unverified users cannot log in.
	_, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "password123"})
	assert.True(t, errors.Is(err, domain.ErrNotVerified))

	require.NoError(t, svc.VerifyRegistration(ctx, VerifyRegistrationRequest{Email: "a@b.com", Code: code}))

	// The consumed code cannot verify twice.
	err = svc.VerifyRegistration(ctx, VerifyRegistrationRequest{Email: "a@b.com", Code: code})
	assert.True(t, errors.Is(err, domain.ErrAlreadyVerified))

	pair1, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	// Rotation: the old refresh token dies when a new pair is issued.
	pair2, err := svc.RefreshAccessToken(ctx, pair1.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair1.RefreshToken, pair2.RefreshToken)
	_, err = svc.RefreshAccessToken(ctx, pair1.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	require.NoError(t, svc.Logout(ctx, pair2.RefreshToken))

	// After logout nothing refreshes and a second logout is rejected.
	_, err = svc.RefreshAccessToken(ctx, pair2.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	err = svc.Logout(ctx, pair2.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrSessionExpired))

	u, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, u.RefreshToken)
}

func TestLifecycle_FailedMailLeavesNothingBehind(t *testing.T) {
	svc, store, notifier := newFlowService(t)
	ctx := context.Background()

	notifier.fail = errors.New("smtp down")
	err := svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDependencyFailure))

	// The compensating delete makes the identical retry succeed.
	notifier.fail = nil
	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	}))
	_, err = store.GetUserByEmail(ctx, "a@b.com")
	require.NoError(t, err)
}

func TestLifecycle_ExpiredCodeRejected(t *testing.T) {
	svc, store, notifier := newFlowService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	}))
	code := notifier.codes[domain.PurposeRegister]

	for _, cs := range store.codes {
		for _, c := range cs {
			c.ExpiresAt = time.Now().Add(-time.Minute).Unix()
		}
	}

	err := svc.VerifyRegistration(ctx, VerifyRegistrationRequest{Email: "a@b.com", Code: code})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
}

func TestLifecycle_SecondLoginReplacesSession(t *testing.T) {
	svc, _, notifier := newFlowService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	}))
	require.NoError(t, svc.VerifyRegistration(ctx, VerifyRegistrationRequest{
		Email: "a@b.com", Code: notifier.codes[domain.PurposeRegister],
	}))

	pair1, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	pair2, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	// Only the newest session survives.
	_, err = svc.RefreshAccessToken(ctx, pair1.RefreshToken)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	_, err = svc.RefreshAccessToken(ctx, pair2.RefreshToken)
	require.NoError(t, err)
}

func TestLifecycle_PasswordReset(t *testing.T) {
	svc, _, notifier := newFlowService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "oldpassword1",
	}))
	require.NoError(t, svc.VerifyRegistration(ctx, VerifyRegistrationRequest{
		Email: "a@b.com", Code: notifier.codes[domain.PurposeRegister],
	}))

	// Reset before verifying the code is rejected.
	require.NoError(t, svc.RequestPasswordReset(ctx, PasswordResetRequest{Email: "a@b.com"}))
	err := svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@b.com", NewPassword: "newpassword1"})
	assert.True(t, errors.Is(err, domain.ErrResetNotVerified))

	require.NoError(t, svc.VerifyPasswordResetCode(ctx, VerifyResetCodeRequest{
		Email: "a@b.com", Code: notifier.codes[domain.PurposeForgetPassword],
	}))
	require.NoError(t, svc.ResetPassword(ctx, ResetPasswordRequest{Email: "a@b.com", NewPassword: "newpassword1"}))

	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "oldpassword1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "newpassword1"})
	require.NoError(t, err)
}

func TestLifecycle_NewResetRequestSupersedesOldCode(t *testing.T) {
	svc, _, notifier := newFlowService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, RegisterRequest{
		Email: "a@b.com", Username: "alice", FullName: "Alice", Password: "password123",
	}))
	require.NoError(t, svc.VerifyRegistration(ctx, VerifyRegistrationRequest{
		Email: "a@b.com", Code: notifier.codes[domain.PurposeRegister],
	}))

	require.NoError(t, svc.RequestPasswordReset(ctx, PasswordResetRequest{Email: "a@b.com"}))
	first := notifier.codes[domain.PurposeForgetPassword]
	require.NoError(t, svc.RequestPasswordReset(ctx, PasswordResetRequest{Email: "a@b.com"}))
	second := notifier.codes[domain.PurposeForgetPassword]

	// Only the newest code is live.
	if first != second {
		err := svc.VerifyPasswordResetCode(ctx, VerifyResetCodeRequest{Email: "a@b.com", Code: first})
		assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
	}
	require.NoError(t, svc.VerifyPasswordResetCode(ctx, VerifyResetCodeRequest{Email: "a@b.com", Code: second}))
}
