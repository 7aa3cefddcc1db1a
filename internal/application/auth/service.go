package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-api/internal/domain"
	jwtinfra "github.com/go-auth-api/internal/infrastructure/jwt"
	"github.com/go-auth-api/internal/infrastructure/smtp"
	"github.com/go-auth-api/internal/pkg/id"
	"github.com/go-auth-api/internal/pkg/otp"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=30"`
	FullName string `json:"fullname" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type VerifyRegistrationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp" validate:"required,len=6,numeric"`
}

type ResendCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyResetCodeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp" validate:"required,len=6,numeric"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	NewPassword string `json:"password" validate:"required,min=8,max=72"`
}

// Service is the authentication state machine. Every operation is the
// sole authority for mapping internal failures into domain error kinds;
// no store or infrastructure error type crosses this boundary unmapped.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) error
	VerifyRegistration(ctx context.Context, req VerifyRegistrationRequest) error
	ResendRegistrationCode(ctx context.Context, req ResendCodeRequest) error
	Login(ctx context.Context, req LoginRequest) (*jwtinfra.Pair, error)
	Logout(ctx context.Context, refreshToken string) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (*jwtinfra.Pair, error)
	RequestPasswordReset(ctx context.Context, req PasswordResetRequest) error
	VerifyPasswordResetCode(ctx context.Context, req VerifyResetCodeRequest) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

// UserStore is the user-row half of the identity store. Multi-row methods
// (CreateUser, DeleteUser, VerifyUser, ResetPassword) are atomic: either
// every row changes or none does.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User, code *domain.OneTimeCode) error
	DeleteUser(ctx context.Context, u *domain.User, codeIDs ...string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByRefreshToken(ctx context.Context, token string) (*domain.User, error)
	SetRefreshToken(ctx context.Context, userID, token string) error
	ClearRefreshToken(ctx context.Context, userID, token string) error
	VerifyUser(ctx context.Context, userID, codeID string) error
	ResetPassword(ctx context.Context, userID, passwordHash string) error
}

// CodeStore is the one-time-code half of the identity store.
type CodeStore interface {
	PutCode(ctx context.Context, c *domain.OneTimeCode) error
	LatestValidCode(ctx context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error)
	LatestCode(ctx context.Context, userID string, purpose domain.CodePurpose) (*domain.OneTimeCode, error)
	MarkCodeUsed(ctx context.Context, userID, codeID string) error
	ReplaceActiveCode(ctx context.Context, userID string, purpose domain.CodePurpose, c *domain.OneTimeCode) error
}

// TokenIssuer signs and verifies access/refresh pairs.
type TokenIssuer interface {
	IssuePair(userID, username, role string) (*jwtinfra.Pair, error)
	VerifyRefresh(token string) (*jwtinfra.Claims, error)
}

type ServiceDeps struct {
	Users      UserStore
	Codes      CodeStore
	Notifier   smtp.Notifier
	Tokens     TokenIssuer
	BcryptCost int
	OTPExpiry  time.Duration
}

type service struct {
	users      UserStore
	codes      CodeStore
	notifier   smtp.Notifier
	tokens     TokenIssuer
	bcryptCost int
	otpExpiry  time.Duration
}

func NewService(d ServiceDeps) Service {
	if d.BcryptCost == 0 {
		d.BcryptCost = bcrypt.DefaultCost
	}
	if d.OTPExpiry == 0 {
		d.OTPExpiry = 5 * time.Minute
	}
	return &service{
		users:      d.Users,
		codes:      d.Codes,
		notifier:   d.Notifier,
		tokens:     d.Tokens,
		bcryptCost: d.BcryptCost,
		otpExpiry:  d.OTPExpiry,
	}
}

// Register creates an unverified user and its first REGISTER code in one
// transaction, then emails the code. The existence pre-checks are an
// optimization only — the store's uniqueness constraint is the final
// arbiter under concurrent registration. Mail failure after commit is
// compensated by deleting the just-created user, so a failed registration
// leaves nothing behind and the same input can be retried.
func (s *service) Register(ctx context.Context, req RegisterRequest) error {
	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return fmt.Errorf("email taken: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return s.mapErr("register", err)
	}
	if _, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
		return fmt.Errorf("username taken: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return s.mapErr("register", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return s.mapErr("register", err)
	}
	plaintext, code, err := s.newCode("", domain.PurposeRegister)
	if err != nil {
		return s.mapErr("register", err)
	}

	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        req.Email,
		Username:     req.Username,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         domain.RoleStaff,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	code.UserID = u.UserID

	if err := s.users.CreateUser(ctx, u, code); err != nil {
		return s.mapErr("register", err)
	}

	if err := s.notifier.SendCode(ctx, u.Email, plaintext, domain.PurposeRegister, s.otpExpiry); err != nil {
		slog.Warn("registration mail failed, compensating", "user_id", u.UserID, "err", err)
		if delErr := s.users.DeleteUser(ctx, u, code.CodeID); delErr != nil {
			slog.Error("compensating delete failed", "user_id", u.UserID, "err", delErr)
		}
		return fmt.Errorf("send registration code: %w", domain.ErrDependencyFailure)
	}
	return nil
}

// VerifyRegistration consumes the latest live REGISTER code and flips the
// verification flag, atomically. A consumed code cannot verify twice.
func (s *service) VerifyRegistration(ctx context.Context, req VerifyRegistrationRequest) error {
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return s.mapErr("verify registration", err)
	}
	if u.Verified {
		return domain.ErrAlreadyVerified
	}

	code, err := s.codes.LatestValidCode(ctx, u.UserID, domain.PurposeRegister)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidOrExpiredCode
		}
		return s.mapErr("verify registration", err)
	}
	if !otp.Matches(req.Code, code.CodeHash) {
		return domain.ErrInvalidOrExpiredCode
	}

	if err := s.users.VerifyUser(ctx, u.UserID, code.CodeID); err != nil {
		return s.mapErr("verify registration", err)
	}
	return nil
}

// ResendRegistrationCode issues a fresh REGISTER code. Earlier unused
// codes are deliberately left live: any still-valid code works until it
// expires, which keeps slow mail delivery from locking users out. Mail
// failure here needs no compensation — the extra code row is inert.
// Unknown and already-verified accounts get the same kind, so the resend
// endpoint leaks nothing about account state.
func (s *service) ResendRegistrationCode(ctx context.Context, req ResendCodeRequest) error {
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return s.mapErr("resend code", err)
	}
	if u.Verified {
		return domain.ErrInvalidCredentials
	}

	plaintext, code, err := s.newCode(u.UserID, domain.PurposeRegister)
	if err != nil {
		return s.mapErr("resend code", err)
	}
	if err := s.codes.PutCode(ctx, code); err != nil {
		return s.mapErr("resend code", err)
	}
	if err := s.notifier.SendCode(ctx, u.Email, plaintext, domain.PurposeRegister, s.otpExpiry); err != nil {
		return fmt.Errorf("send registration code: %w", domain.ErrDependencyFailure)
	}
	return nil
}

// Login checks credentials and starts the user's single active session,
// overwriting whatever refresh token was stored before. Unknown username
// and wrong password return the same kind.
func (s *service) Login(ctx context.Context, req LoginRequest) (*jwtinfra.Pair, error) {
	u, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, s.mapErr("login", err)
	}
	if !u.Verified {
		return nil, domain.ErrNotVerified
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(u.UserID, u.Username, u.Role)
	if err != nil {
		return nil, s.mapErr("login", err)
	}
	if err := s.users.SetRefreshToken(ctx, u.UserID, pair.RefreshToken); err != nil {
		return nil, s.mapErr("login", err)
	}
	return pair, nil
}

// Logout revokes the session holding exactly this refresh token. Equality
// against the stored value — not signature validity — gates revocation,
// so a signed-but-superseded token cannot kill the live session.
func (s *service) Logout(ctx context.Context, refreshToken string) error {
	u, err := s.users.GetUserByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrSessionExpired
		}
		return s.mapErr("logout", err)
	}
	if err := s.users.ClearRefreshToken(ctx, u.UserID, refreshToken); err != nil {
		// Lost a race with a concurrent login/refresh; the token the
		// caller holds is no longer the active session either way.
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrSessionExpired
		}
		return s.mapErr("logout", err)
	}
	return nil
}

// RefreshAccessToken rotates the session: the supplied token must both
// verify and equal the stored current token, and a fresh pair replaces it.
// A rotated-out token presented again fails the equality check.
func (s *service) RefreshAccessToken(ctx context.Context, refreshToken string) (*jwtinfra.Pair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, s.mapErr("refresh", err)
	}
	if u.RefreshToken != refreshToken {
		return nil, domain.ErrUnauthorized
	}

	pair, err := s.tokens.IssuePair(u.UserID, u.Username, u.Role)
	if err != nil {
		return nil, s.mapErr("refresh", err)
	}
	if err := s.users.SetRefreshToken(ctx, u.UserID, pair.RefreshToken); err != nil {
		return nil, s.mapErr("refresh", err)
	}
	return pair, nil
}

// RequestPasswordReset never reveals whether the email exists: unknown
// addresses return success without creating anything. For known users the
// mail is sent first and the store commit (invalidate old reset codes +
// create the new one) happens only after the relay accepts it, so a
// delivery failure leaves no state behind.
func (s *service) RequestPasswordReset(ctx context.Context, req PasswordResetRequest) error {
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return s.mapErr("request password reset", err)
	}

	plaintext, code, err := s.newCode(u.UserID, domain.PurposeForgetPassword)
	if err != nil {
		return s.mapErr("request password reset", err)
	}
	if err := s.notifier.SendCode(ctx, u.Email, plaintext, domain.PurposeForgetPassword, s.otpExpiry); err != nil {
		return fmt.Errorf("send reset code: %w", domain.ErrDependencyFailure)
	}
	if err := s.codes.ReplaceActiveCode(ctx, u.UserID, domain.PurposeForgetPassword, code); err != nil {
		return s.mapErr("request password reset", err)
	}
	return nil
}

// VerifyPasswordResetCode consumes the live FORGET_PASSWORD code. The
// consumed code is what later authorizes ResetPassword.
func (s *service) VerifyPasswordResetCode(ctx context.Context, req VerifyResetCodeRequest) error {
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return s.mapErr("verify reset code", err)
	}

	code, err := s.codes.LatestValidCode(ctx, u.UserID, domain.PurposeForgetPassword)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidOrExpiredCode
		}
		return s.mapErr("verify reset code", err)
	}
	if !otp.Matches(req.Code, code.CodeHash) {
		return domain.ErrInvalidOrExpiredCode
	}
	if err := s.codes.MarkCodeUsed(ctx, u.UserID, code.CodeID); err != nil {
		return s.mapErr("verify reset code", err)
	}
	return nil
}

// ResetPassword requires the most recent FORGET_PASSWORD code to be
// consumed — i.e. the verify step completed and no newer unverified
// request supersedes it. The new hash and the defensive cleanup of every
// reset code commit together.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return s.mapErr("reset password", err)
	}

	latest, err := s.codes.LatestCode(ctx, u.UserID, domain.PurposeForgetPassword)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrResetNotVerified
		}
		return s.mapErr("reset password", err)
	}
	if !latest.Used {
		return domain.ErrResetNotVerified
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return s.mapErr("reset password", err)
	}
	if err := s.users.ResetPassword(ctx, u.UserID, string(passwordHash)); err != nil {
		return s.mapErr("reset password", err)
	}
	return nil
}

// newCode mints a one-time code record plus its plaintext for delivery.
func (s *service) newCode(userID string, purpose domain.CodePurpose) (string, *domain.OneTimeCode, error) {
	plaintext, hash, err := otp.Generate(s.bcryptCost)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	return plaintext, &domain.OneTimeCode{
		UserID:    userID,
		CodeID:    id.New(),
		CodeHash:  hash,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.otpExpiry).Unix(),
		Used:      false,
		CreatedAt: now,
	}, nil
}

// errKinds is the closed set of error kinds allowed across the service
// boundary.
var errKinds = []error{
	domain.ErrConflict,
	domain.ErrInvalidCredentials,
	domain.ErrNotVerified,
	domain.ErrAlreadyVerified,
	domain.ErrInvalidOrExpiredCode,
	domain.ErrDependencyFailure,
	domain.ErrUnauthorized,
	domain.ErrSessionExpired,
	domain.ErrResetNotVerified,
}

// mapErr funnels store and infrastructure failures into the closed error
// set: known kinds pass through, everything else is logged and becomes
// ErrInternal.
func (s *service) mapErr(op string, err error) error {
	for _, kind := range errKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	slog.Error("auth operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, domain.ErrInternal)
}
