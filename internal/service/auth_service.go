package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/repository/ports"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/util"
)

var (
	ErrNameRequired       = errors.New("name is required")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrPasswordTooWeak    = errors.New("password does not meet the minimum length")
	ErrEmailAlreadyUsed   = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("invalid or expired token")
	ErrResetOTPInvalid    = errors.New("invalid or expired reset code")
	ErrResetOTPExpired    = errors.New("reset code has expired")
	ErrPasswordUnchanged  = errors.New("new password must differ from the current password")
)

// PasswordResetSender delivers reset codes and confirmations out-of-band.
type PasswordResetSender interface {
	SendPasswordReset(ctx context.Context, email, otp string) error
	SendPasswordChanged(ctx context.Context, email string) error
}

// AuthService orchestrates registration, login, token authentication and the
// OTP password-reset flow. Each exported method is one business transaction.
type AuthService struct {
	users  ports.UserRepository
	resets ports.PasswordResetRepository
	mailer PasswordResetSender
	jwt    *util.JWTManager

	resetTTL          time.Duration
	otpLength         int
	passwordMinLength int
	rejectReusedReset bool
}

// AuthResult is returned by the operations that issue a bearer token.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

func NewAuthService(
	users ports.UserRepository,
	resets ports.PasswordResetRepository,
	mailer PasswordResetSender,
	jwtManager *util.JWTManager,
	resetTTL time.Duration,
	otpLength int,
	passwordMinLength int,
	rejectReusedReset bool,
) *AuthService {
	if resetTTL <= 0 {
		resetTTL = 10 * time.Minute
	}
	if otpLength <= 0 {
		otpLength = 6
	}
	return &AuthService{
		users:             users,
		resets:            resets,
		mailer:            mailer,
		jwt:               jwtManager,
		resetTTL:          resetTTL,
		otpLength:         otpLength,
		passwordMinLength: passwordMinLength,
		rejectReusedReset: rejectReusedReset,
	}
}

// NormalizeEmail produces the canonical identity form: lower-cased, trimmed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	normalized := NormalizeEmail(email)
	// ParseAddress also accepts name-addr forms like "Alice <a@example.com>";
	// requiring the parsed address to equal the input pins the identity to a
	// bare address.
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return nil, ErrInvalidEmail
	}
	if err := util.ValidatePassword(password, s.passwordMinLength); err != nil {
		return nil, ErrPasswordTooWeak
	}

	hash, salt, err := util.DerivePassword(password)
	if err != nil {
		return nil, fmt.Errorf("derive password: %w", err)
	}

	user, err := s.users.Create(ctx, normalized, name, hash, salt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailAlreadyUsed
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issueToken(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized := NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Same error as a wrong password, so responses never reveal
			// whether the account exists.
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !util.VerifyPassword(password, user.PasswordSalt, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issueToken(user)
}

// Authenticate resolves a bearer token to its user. Every verification
// failure, including a vanished user, surfaces as ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// RequestPasswordReset stores a fresh hashed OTP for the user and emails the
// code. An unknown email returns nil so the caller can answer with the same
// generic success in both branches.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	normalized := NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}

	if s.mailer == nil {
		return errors.New("password reset mailer not configured")
	}

	otp, err := util.GenerateNumericOTP(s.otpLength)
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	otpHash, otpSalt, err := util.DerivePassword(otp)
	if err != nil {
		return fmt.Errorf("derive reset code hash: %w", err)
	}

	reset, err := s.resets.Replace(ctx, user.ID, otpHash, otpSalt, time.Now().Add(s.resetTTL))
	if err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, otp); err != nil {
		// A code no one received must not stay redeemable.
		if markErr := s.resets.MarkConsumed(ctx, reset.ID); markErr != nil && !errors.Is(markErr, sql.ErrNoRows) {
			log.Printf("retire undelivered reset code %d: %v", reset.ID, markErr)
		}
		return fmt.Errorf("send reset code: %w", err)
	}

	return nil
}

// ConfirmPasswordReset redeems an OTP and replaces the stored credential.
// The code is retired before the password update, so it can never be
// replayed even if the update fails.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error {
	if err := util.ValidatePassword(newPassword, s.passwordMinLength); err != nil {
		return ErrPasswordTooWeak
	}

	normalized := NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResetOTPInvalid
		}
		return fmt.Errorf("find user: %w", err)
	}

	reset, err := s.resets.FindActiveByUser(ctx, user.ID, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResetOTPInvalid
		}
		return fmt.Errorf("find reset code: %w", err)
	}

	if time.Now().After(reset.ExpiresAt) {
		if markErr := s.resets.MarkConsumed(ctx, reset.ID); markErr != nil && !errors.Is(markErr, sql.ErrNoRows) {
			log.Printf("retire expired reset code %d: %v", reset.ID, markErr)
		}
		return ErrResetOTPExpired
	}

	if !util.VerifyPassword(otp, reset.OTPSalt, reset.OTPHash) {
		return ErrResetOTPInvalid
	}

	if s.rejectReusedReset && util.VerifyPassword(newPassword, user.PasswordSalt, user.PasswordHash) {
		return ErrPasswordUnchanged
	}

	newHash, newSalt, err := util.DerivePassword(newPassword)
	if err != nil {
		return fmt.Errorf("derive password: %w", err)
	}

	if err := s.resets.MarkConsumed(ctx, reset.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// A concurrent confirmation consumed the code first.
			return ErrResetOTPInvalid
		}
		return fmt.Errorf("consume reset code: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash, newSalt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if s.mailer != nil {
		if err := s.mailer.SendPasswordChanged(ctx, user.Email); err != nil {
			log.Printf("send password change confirmation to %s: %v", user.Email, err)
		}
	}

	return nil
}

func (s *AuthService) issueToken(user *domain.User) (*AuthResult, error) {
	token, expiresAt, err := s.jwt.Generate(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
